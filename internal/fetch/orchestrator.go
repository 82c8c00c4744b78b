// Package fetch drives the acquisition loop: it walks the session's pending
// targets, gates each against the quota budget, fetches and transforms the
// payload, and persists the result, checkpointing as it goes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"options-harvester/internal/config"
	"options-harvester/internal/pipeline"
	"options-harvester/internal/quota"
	"options-harvester/internal/retry"
	"options-harvester/internal/session"
	"options-harvester/internal/storage"
	"options-harvester/internal/terminal"
)

// ErrQuotaExhausted stops a run under the abort policy. The session is left
// resumable; nothing is marked failed on this path.
var ErrQuotaExhausted = errors.New("fetch: quota exhausted")

// Quota gating policies.
const (
	PolicyAbort = "abort"
	PolicySkip  = "skip"
)

// bookkeepingError marks a failure to persist run state (quota ledger or
// session document). The loop cannot continue past one: the target's
// outcome is unrecorded and resuming would hand it out again.
type bookkeepingError struct {
	err error
}

func (e *bookkeepingError) Error() string {
	return "fetch: bookkeeping failed: " + e.err.Error()
}

func (e *bookkeepingError) Unwrap() error { return e.err }

// Stores groups the persistence interfaces the orchestrator writes through.
type Stores struct {
	Options storage.OptionRowStore
	Equity  storage.EquityRowStore
}

// Orchestrator owns one fetch run over a session's target set.
type Orchestrator struct {
	cfg      config.FetchConfig
	market   string
	client   terminal.Client
	session  *session.Manager
	quota    *quota.Tracker
	pipeline *pipeline.Pipeline
	stores   Stores
	policy   retry.Policy
	onQuota  string
	logger   zerolog.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

// Options bundle the orchestrator's collaborators.
type Options struct {
	Fetch       config.FetchConfig
	Market      string // market qualifier applied to every ticker
	Client      terminal.Client
	Session     *session.Manager
	Quota       *quota.Tracker
	Pipeline    *pipeline.Pipeline
	Stores      Stores
	QuotaPolicy string // abort | skip
}

// New wires an orchestrator.
func New(opts Options, logger zerolog.Logger) *Orchestrator {
	onQuota := opts.QuotaPolicy
	if onQuota == "" {
		onQuota = PolicySkip
	}

	return &Orchestrator{
		cfg:      opts.Fetch,
		market:   opts.Market,
		client:   opts.Client,
		session:  opts.Session,
		quota:    opts.Quota,
		pipeline: opts.Pipeline,
		stores:   opts.Stores,
		policy: retry.Policy{
			MaxAttempts: opts.Fetch.MaxRetries,
			Delay:       opts.Fetch.RetryDelay,
		},
		onQuota: onQuota,
		logger:  logger.With().Str("component", "fetch").Logger(),
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// WithClock overrides time sources for tests. Both the wall clock and the
// inter-target sleeper are replaced.
func (o *Orchestrator) WithClock(now func() time.Time, sleep func(time.Duration)) *Orchestrator {
	o.now = now
	o.sleep = sleep
	o.policy.Sleep = sleep
	return o
}

// Run processes targets from the session's resume point until the queue
// drains, the context is cancelled, or quota aborts the run. Failed targets
// never stop the loop; they are recorded and the run moves on.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	var result Result

	if err := o.client.Connect(ctx); err != nil {
		return result, err
	}
	defer o.client.Disconnect()

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			if cpErr := o.session.Checkpoint(); cpErr != nil {
				o.logger.Error().Err(cpErr).Msg("checkpoint on interrupt failed")
			}
			return result, err
		}

		target, ok := o.session.ResumePoint()
		if !ok {
			break
		}

		estimate := o.estimateCost(target)
		if !o.quota.CanConsume(estimate) {
			if o.onQuota == PolicyAbort {
				result.Aborted = true
				if cpErr := o.session.Checkpoint(); cpErr != nil {
					o.logger.Error().Err(cpErr).Msg("checkpoint on quota abort failed")
				}
				return result, ErrQuotaExhausted
			}

			if err := o.session.Fail(ctx, target.ID, "quota", 0); err != nil {
				return result, &bookkeepingError{err: err}
			}
			result.Failed = append(result.Failed, target.ID)
			result.recordError(target.ID, "quota")
			continue
		}

		records, err := o.processTarget(ctx, target, estimate)
		if err != nil {
			var persistErr *bookkeepingError
			if errors.As(err, &persistErr) {
				return result, err
			}
			result.Failed = append(result.Failed, target.ID)
			result.recordError(target.ID, err.Error())
		} else {
			result.Successful = append(result.Successful, target.ID)
			result.TotalRecords += records
			result.UnitsConsumed += estimate
		}

		processed++
		if o.cfg.CheckpointInterval > 0 && processed%o.cfg.CheckpointInterval == 0 {
			if cpErr := o.session.Checkpoint(); cpErr != nil {
				return result, cpErr
			}
			summary := o.session.Summary()
			o.logger.Info().
				Int("completed", summary.Completed).
				Int("failed", summary.Failed).
				Int("pending", summary.Pending).
				Float64("progress_pct", summary.ProgressPct).
				Msg("run progress")
		}

		if o.cfg.TargetDelay > 0 {
			o.sleep(o.cfg.TargetDelay)
		}
	}

	if err := o.session.Finish(); err != nil {
		return result, err
	}

	o.logger.Info().
		Int("successful", len(result.Successful)).
		Int("failed", len(result.Failed)).
		Int64("records", result.TotalRecords).
		Int64("units", result.UnitsConsumed).
		Msg("run finished")
	return result, nil
}

// processTarget runs one target through its retry budget. The quota gate is
// re-checked per attempt; consumption between attempts may have eaten the
// headroom the initial check saw.
func (o *Orchestrator) processTarget(ctx context.Context, target session.Target, estimate int64) (int64, error) {
	if err := o.session.Start(ctx, target.ID); err != nil {
		return 0, &bookkeepingError{err: err}
	}

	var records int64
	attempts, err := o.policy.Do(ctx, func() error {
		if !o.quota.CanConsume(estimate) {
			return fmt.Errorf("quota headroom gone for target %s", target.ID)
		}

		n, fetchErr := o.fetchTarget(ctx, target)
		if fetchErr != nil {
			o.logger.Warn().Err(fetchErr).Str("target", target.ID).Msg("attempt failed")
			return fetchErr
		}
		records = n
		return nil
	})

	if err != nil {
		// Every attempt counts toward the retry budget, so a target that
		// exhausts it is recorded at exactly MaxRetries and never reported
		// retryable again.
		if failErr := o.session.Fail(ctx, target.ID, err.Error(), attempts); failErr != nil {
			return 0, &bookkeepingError{err: failErr}
		}
		return 0, err
	}

	// Consumption is billed on the request, not on the rows that survive
	// validation, so the estimate is recorded even for sparse payloads.
	if err := o.quota.RecordConsumption(estimate); err != nil {
		return 0, &bookkeepingError{err: err}
	}
	if err := o.session.Complete(ctx, target.ID, records, estimate); err != nil {
		return 0, &bookkeepingError{err: err}
	}
	return records, nil
}

func (o *Orchestrator) fetchTarget(ctx context.Context, target session.Target) (int64, error) {
	switch target.Kind {
	case session.KindIndexOptions, session.KindConstituentOptions:
		return o.fetchOptions(ctx, target)
	case session.KindEquitySnapshot:
		return o.fetchEquity(ctx, target)
	default:
		return 0, fmt.Errorf("unknown target kind %q", target.Kind)
	}
}

func (o *Orchestrator) fetchOptions(ctx context.Context, target session.Target) (int64, error) {
	tickers := terminal.OptionChainTickers(target.Underlying, o.market, target.Expiry,
		target.StrikeLow, target.StrikeHigh, target.StrikeStep)
	if len(tickers) == 0 {
		return 0, fmt.Errorf("target %s produced an empty chain", target.ID)
	}

	var (
		payload terminal.RawPayload
		err     error
	)
	if target.HistoryDays > 0 {
		end := o.now()
		start := end.AddDate(0, 0, -target.HistoryDays)
		payload, err = o.client.FetchTimeSeries(ctx, tickers, terminal.HistoryFields, start, end, "DAILY")
	} else {
		payload, err = o.client.Batch(ctx, tickers, terminal.OptionFields, o.cfg.BatchSize, o.cfg.BatchDelay)
	}
	if err != nil {
		return 0, err
	}

	rows, _ := o.pipeline.ProcessOptions(payload, o.now())
	if len(rows) == 0 {
		return 0, nil
	}

	family := storage.FamilyIndex
	if target.Kind == session.KindConstituentOptions {
		family = storage.FamilyConstituent
	}

	inserted, err := o.stores.Options.InsertOptionRows(ctx, family, rows)
	if err != nil {
		return 0, err
	}
	if inserted < int64(len(rows)) {
		// Conflicting keys from an earlier attempt or run get refreshed.
		if _, err := o.stores.Options.UpdateOptionRows(ctx, family, rows); err != nil {
			return 0, err
		}
	}
	return int64(len(rows)), nil
}

func (o *Orchestrator) fetchEquity(ctx context.Context, target session.Target) (int64, error) {
	ticker := terminal.EquityTicker(target.Underlying, o.market)

	payload, err := o.client.FetchSnapshot(ctx, []string{ticker}, terminal.EquityFields)
	if err != nil {
		return 0, err
	}

	rows, _ := o.pipeline.ProcessEquity(payload, o.now())
	if len(rows) == 0 {
		return 0, nil
	}
	return o.stores.Equity.UpsertEquityRows(ctx, rows)
}

func (o *Orchestrator) estimateCost(target session.Target) int64 {
	return EstimateCost(target, o.market)
}

// EstimateCost prices a target in quota units: securities times fields, times
// trading days for history requests. Equity snapshots cost one security.
func EstimateCost(target session.Target, market string) int64 {
	switch target.Kind {
	case session.KindEquitySnapshot:
		return int64(len(terminal.EquityFields))
	default:
		chain := int64(len(terminal.OptionChainTickers(target.Underlying, market, target.Expiry,
			target.StrikeLow, target.StrikeHigh, target.StrikeStep)))
		if target.HistoryDays > 0 {
			return chain * int64(len(terminal.HistoryFields)) * int64(target.HistoryDays)
		}
		return chain * int64(len(terminal.OptionFields))
	}
}
