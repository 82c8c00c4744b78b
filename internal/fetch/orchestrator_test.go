package fetch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"options-harvester/internal/config"
	"options-harvester/internal/pipeline"
	"options-harvester/internal/quota"
	"options-harvester/internal/session"
	"options-harvester/internal/storage"
	"options-harvester/internal/terminal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeClient serves synthetic payloads and fails the first failures fetches
// with a transient error.
type fakeClient struct {
	connectErr error
	failures   int
	fetchCalls int
}

func (c *fakeClient) Connect(ctx context.Context) error { return c.connectErr }
func (c *fakeClient) Disconnect()                       {}

func (c *fakeClient) failNext() error {
	c.fetchCalls++
	if c.failures > 0 {
		c.failures--
		return &terminal.TransientError{Op: "refdata", Err: errors.New("session dropped")}
	}
	return nil
}

func optionPayload(securities []string) terminal.RawPayload {
	columns := make(map[string][]terminal.Observation)
	for _, sec := range securities {
		columns[sec+"_PX_BID"] = []terminal.Observation{{Date: "2025-08-29", Value: "10.5"}}
		columns[sec+"_PX_ASK"] = []terminal.Observation{{Date: "2025-08-29", Value: "10.7"}}
	}
	return terminal.RawPayload{Columns: columns}
}

func (c *fakeClient) FetchSnapshot(ctx context.Context, securities, fields []string) (terminal.RawPayload, error) {
	if err := c.failNext(); err != nil {
		return terminal.RawPayload{}, err
	}
	columns := make(map[string][]terminal.Observation)
	for _, sec := range securities {
		columns[sec+"_PX_LAST"] = []terminal.Observation{{Date: "2025-08-29", Value: "230.1"}}
	}
	return terminal.RawPayload{Columns: columns}, nil
}

func (c *fakeClient) FetchTimeSeries(ctx context.Context, securities, fields []string, start, end time.Time, frequency string) (terminal.RawPayload, error) {
	if err := c.failNext(); err != nil {
		return terminal.RawPayload{}, err
	}
	return optionPayload(securities), nil
}

func (c *fakeClient) Batch(ctx context.Context, securities, fields []string, batchSize int, delay time.Duration) (terminal.RawPayload, error) {
	if err := c.failNext(); err != nil {
		return terminal.RawPayload{}, err
	}
	return optionPayload(securities), nil
}

// fakeOptionStore records writes; conflicts rows per insert call are reported
// as not inserted.
type fakeOptionStore struct {
	rows      map[storage.Family][]storage.OptionRow
	conflicts int64
	updates   int
}

func newFakeOptionStore() *fakeOptionStore {
	return &fakeOptionStore{rows: make(map[storage.Family][]storage.OptionRow)}
}

func (s *fakeOptionStore) InsertOptionRows(ctx context.Context, family storage.Family, rows []storage.OptionRow) (int64, error) {
	s.rows[family] = append(s.rows[family], rows...)
	inserted := int64(len(rows)) - s.conflicts
	if inserted < 0 {
		inserted = 0
	}
	return inserted, nil
}

func (s *fakeOptionStore) UpdateOptionRows(ctx context.Context, family storage.Family, rows []storage.OptionRow) (int64, error) {
	s.updates++
	return s.conflicts, nil
}

func (s *fakeOptionStore) ListOptionRowsBetween(ctx context.Context, family storage.Family, from, to time.Time, limit int) ([]storage.OptionRow, error) {
	return nil, nil
}

func (s *fakeOptionStore) SummaryStats(ctx context.Context, family storage.Family) (storage.SummaryStats, error) {
	return storage.SummaryStats{}, nil
}

func (s *fakeOptionStore) PurgeOlderThan(ctx context.Context, family storage.Family, cutoff time.Time) (int64, error) {
	return 0, nil
}

// brokenLedgerStore loads an empty ledger but cannot persist it.
type brokenLedgerStore struct{}

func (brokenLedgerStore) Load() (quota.Ledger, error) {
	return quota.Ledger{Daily: map[string]int64{}, Monthly: map[string]int64{}}, nil
}

func (brokenLedgerStore) Persist(quota.Ledger) error {
	return errors.New("ledger write failed")
}

type fakeEquityStore struct {
	rows []storage.EquityRow
}

func (s *fakeEquityStore) UpsertEquityRows(ctx context.Context, rows []storage.EquityRow) (int64, error) {
	s.rows = append(s.rows, rows...)
	return int64(len(rows)), nil
}

type harness struct {
	orch    *Orchestrator
	client  *fakeClient
	session *session.Manager
	tracker *quota.Tracker
	options *fakeOptionStore
	equity  *fakeEquityStore
}

func newHarness(t *testing.T, targets []session.Target, limits quota.Limits, policy string) *harness {
	t.Helper()

	dir := t.TempDir()
	mgr, err := session.NewManager(session.NewFileStateStore(filepath.Join(dir, "session.json")), nil, noopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Initialize(targets); err != nil {
		t.Fatal(err)
	}

	tracker, err := quota.NewTracker(limits, quota.NewFileLedgerStore(filepath.Join(dir, "ledger.json")), noopLogger())
	if err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{}
	optionStore := newFakeOptionStore()
	equityStore := &fakeEquityStore{}

	orch := New(Options{
		Fetch: config.FetchConfig{
			MaxRetries:         3,
			BatchSize:          50,
			CheckpointInterval: 1,
		},
		Market:      "US",
		Client:      client,
		Session:     mgr,
		Quota:       tracker,
		Pipeline:    pipeline.New(pipeline.Options{SpreadCeilingPct: 50}, noopLogger()),
		Stores:      Stores{Options: optionStore, Equity: equityStore},
		QuotaPolicy: policy,
	}, noopLogger())
	orch.WithClock(
		func() time.Time { return time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC) },
		func(time.Duration) {},
	)

	return &harness{orch: orch, client: client, session: mgr, tracker: tracker, options: optionStore, equity: equityStore}
}

var testExpiry = time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC)

// indexTarget produces a single-strike chain: 2 tickers, 28 estimated units.
func indexTarget(id string) session.Target {
	return session.Target{
		ID:         id,
		Kind:       session.KindIndexOptions,
		Underlying: "QQQ",
		Expiry:     testExpiry,
		StrikeLow:  decimal.NewFromInt(480),
		StrikeHigh: decimal.NewFromInt(480),
		StrikeStep: decimal.NewFromInt(5),
	}
}

func equityTarget(symbol string) session.Target {
	return session.Target{
		ID:         symbol + "-equity",
		Kind:       session.KindEquitySnapshot,
		Underlying: symbol,
	}
}

func TestRunProcessesAllTargets(t *testing.T) {
	h := newHarness(t, []session.Target{indexTarget("a"), equityTarget("AAPL")},
		quota.Limits{Daily: 10000, Monthly: 100000}, PolicySkip)

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Successful) != 2 || len(result.Failed) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.session.Status() != session.StatusCompleted {
		t.Fatalf("expected completed session, got %s", h.session.Status())
	}
	if len(h.options.rows[storage.FamilyIndex]) != 2 {
		t.Fatalf("expected 2 option rows, got %d", len(h.options.rows[storage.FamilyIndex]))
	}
	if len(h.equity.rows) != 1 {
		t.Fatalf("expected 1 equity row, got %d", len(h.equity.rows))
	}

	// One chain (2 securities x 14 fields) plus one equity snapshot (12 fields).
	wantUnits := int64(2*14 + 12)
	if result.UnitsConsumed != wantUnits {
		t.Fatalf("expected %d units, got %d", wantUnits, result.UnitsConsumed)
	}
	if used := h.tracker.Remaining().DailyUsed; used != wantUnits {
		t.Fatalf("tracker should record %d units, got %d", wantUnits, used)
	}
}

func TestRunConnectFailureAbandonsRun(t *testing.T) {
	h := newHarness(t, []session.Target{indexTarget("a")},
		quota.Limits{Daily: 10000, Monthly: 100000}, PolicySkip)
	h.client.connectErr = &terminal.ConnectError{Err: errors.New("gateway down")}

	result, err := h.orch.Run(context.Background())

	var connectErr *terminal.ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	if len(result.Successful) != 0 || len(result.Failed) != 0 {
		t.Fatalf("no targets should be touched, got %+v", result)
	}
	if h.session.Summary().Pending != 1 {
		t.Fatalf("target should stay pending: %+v", h.session.Summary())
	}
}

func TestRunQuotaSkipPolicy(t *testing.T) {
	// First chain costs 28; the second would push past the 40-unit limit.
	h := newHarness(t, []session.Target{indexTarget("a"), indexTarget("b")},
		quota.Limits{Daily: 40, Monthly: 1000}, PolicySkip)

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Successful) != 1 || result.Successful[0] != "a" {
		t.Fatalf("unexpected successful set %v", result.Successful)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "b" {
		t.Fatalf("unexpected failed set %v", result.Failed)
	}

	failures := h.session.Failures()
	if failures["b"].Error != "quota" {
		t.Fatalf("skip should record quota as the failure reason: %+v", failures)
	}
	if result.Errors["b"] != "quota" {
		t.Fatalf("result should carry the quota reason, got %+v", result.Errors)
	}
	if h.session.Status() != session.StatusFailed {
		t.Fatalf("session with failures should finish failed, got %s", h.session.Status())
	}
}

func TestRunQuotaAbortPolicy(t *testing.T) {
	h := newHarness(t, []session.Target{indexTarget("a"), indexTarget("b")},
		quota.Limits{Daily: 40, Monthly: 1000}, PolicyAbort)

	result, err := h.orch.Run(context.Background())
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
	if !result.Aborted {
		t.Fatal("result should be marked aborted")
	}

	// The blocked target stays pending so the session can resume later.
	summary := h.session.Summary()
	if summary.Pending != 1 || summary.Failed != 0 {
		t.Fatalf("abort should leave the target pending: %+v", summary)
	}
}

func TestRunRetriesExhaustBudget(t *testing.T) {
	h := newHarness(t, []session.Target{indexTarget("a")},
		quota.Limits{Daily: 10000, Monthly: 100000}, PolicySkip)
	h.client.failures = 99

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Failed) != 1 {
		t.Fatalf("target should fail after retries, got %+v", result)
	}
	if h.client.fetchCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", h.client.fetchCalls)
	}

	// The recorded retry count matches the exhausted budget, so the target
	// is not reported retryable afterwards.
	failures := h.session.Failures()
	if failures["a"].RetryCount != 3 {
		t.Fatalf("expected 3 recorded retries, got %+v", failures["a"])
	}
	if retryable := h.session.RetryableFailures(3); len(retryable) != 0 {
		t.Fatalf("exhausted target should not be retryable, got %v", retryable)
	}
	if result.Errors["a"] == "" {
		t.Fatalf("result should carry the failure message, got %+v", result.Errors)
	}
	if used := h.tracker.Remaining().DailyUsed; used != 0 {
		t.Fatalf("failed target should not consume quota, got %d", used)
	}
}

func TestRunRetryRecovers(t *testing.T) {
	h := newHarness(t, []session.Target{indexTarget("a")},
		quota.Limits{Daily: 10000, Monthly: 100000}, PolicySkip)
	h.client.failures = 2

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Successful) != 1 {
		t.Fatalf("target should recover within the retry budget: %+v", result)
	}
	if h.client.fetchCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", h.client.fetchCalls)
	}
}

func TestRunAbortsWhenLedgerPersistFails(t *testing.T) {
	dir := t.TempDir()
	mgr, err := session.NewManager(session.NewFileStateStore(filepath.Join(dir, "session.json")), nil, noopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Initialize([]session.Target{indexTarget("a"), indexTarget("b")}); err != nil {
		t.Fatal(err)
	}

	tracker, err := quota.NewTracker(quota.Limits{Daily: 10000, Monthly: 100000}, brokenLedgerStore{}, noopLogger())
	if err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{}
	orch := New(Options{
		Fetch:       config.FetchConfig{MaxRetries: 3, BatchSize: 50, CheckpointInterval: 1},
		Market:      "US",
		Client:      client,
		Session:     mgr,
		Quota:       tracker,
		Pipeline:    pipeline.New(pipeline.Options{SpreadCeilingPct: 50}, noopLogger()),
		Stores:      Stores{Options: newFakeOptionStore(), Equity: &fakeEquityStore{}},
		QuotaPolicy: PolicySkip,
	}, noopLogger())
	orch.WithClock(
		func() time.Time { return time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC) },
		func(time.Duration) {},
	)

	// An unrecordable consumption must stop the run, not hand the same
	// target out again on the next loop iteration.
	result, err := orch.Run(context.Background())
	if err == nil {
		t.Fatal("run should fail when the ledger cannot be persisted")
	}
	if client.fetchCalls != 1 {
		t.Fatalf("run should stop after the first target, got %d fetches", client.fetchCalls)
	}
	if len(result.Successful) != 0 || len(result.Failed) != 0 {
		t.Fatalf("no target outcome should be reported, got %+v", result)
	}
	if summary := mgr.Summary(); summary.Pending != 1 {
		t.Fatalf("remaining target should stay pending: %+v", summary)
	}
}

func TestRunUpdatesConflictingRows(t *testing.T) {
	h := newHarness(t, []session.Target{indexTarget("a")},
		quota.Limits{Daily: 10000, Monthly: 100000}, PolicySkip)
	h.options.conflicts = 1

	if _, err := h.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.options.updates != 1 {
		t.Fatalf("conflicting rows should trigger an update pass, got %d", h.options.updates)
	}
}

func TestRunSkipsCompletedOnResume(t *testing.T) {
	h := newHarness(t, []session.Target{indexTarget("a"), indexTarget("b")},
		quota.Limits{Daily: 10000, Monthly: 100000}, PolicySkip)

	ctx := context.Background()
	if err := h.session.Start(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := h.session.Complete(ctx, "a", 2, 28); err != nil {
		t.Fatal(err)
	}

	result, err := h.orch.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Successful) != 1 || result.Successful[0] != "b" {
		t.Fatalf("only the remaining target should run, got %v", result.Successful)
	}
	if h.client.fetchCalls != 1 {
		t.Fatalf("expected a single fetch, got %d", h.client.fetchCalls)
	}
}

func TestRunCancelledContextCheckpoints(t *testing.T) {
	h := newHarness(t, []session.Target{indexTarget("a")},
		quota.Limits{Daily: 10000, Monthly: 100000}, PolicySkip)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	summary := h.session.Summary()
	if summary.Pending != 1 {
		t.Fatalf("target should stay pending after interrupt: %+v", summary)
	}
}

func TestEstimateCost(t *testing.T) {
	index := indexTarget("a")
	if got := EstimateCost(index, "US"); got != 28 {
		t.Fatalf("expected 28 units for one strike snapshot chain, got %d", got)
	}

	index.HistoryDays = 10
	// 2 tickers x 6 history fields x 10 days.
	if got := EstimateCost(index, "US"); got != 120 {
		t.Fatalf("expected 120 units for history chain, got %d", got)
	}

	if got := EstimateCost(equityTarget("AAPL"), "US"); got != 12 {
		t.Fatalf("expected 12 units for equity snapshot, got %d", got)
	}
}
