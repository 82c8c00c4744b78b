package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditLog records per-target progress in durable storage for operator
// diagnostics. Implementations must tolerate repeated calls for the same
// (session, target) pair; a retried target starts more than once.
type AuditLog interface {
	TargetStarted(ctx context.Context, sessionID string, target Target) error
	TargetFinished(ctx context.Context, sessionID, targetID, status string, records, units int64, errMsg string) error
}

// Manager owns all mutation of session state. Every mutating method
// persists before returning; the on-disk document always reflects the last
// completed mutation.
type Manager struct {
	store  StateStore
	audit  AuditLog
	state  *State
	logger zerolog.Logger
	now    func() time.Time
}

// NewManager loads existing session state or creates a fresh session.
func NewManager(store StateStore, audit AuditLog, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		store:  store,
		audit:  audit,
		logger: logger.With().Str("component", "session").Logger(),
		now:    time.Now,
	}

	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	if state != nil {
		m.state = state
		m.logger.Info().Str("session_id", state.SessionID).Str("status", state.Status).Msg("loaded existing session state")
		return m, nil
	}

	m.state = m.freshState()
	if err := m.persist(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) freshState() *State {
	now := m.now()
	return &State{
		SessionID:  fmt.Sprintf("%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8]),
		Status:     StatusInitialized,
		StartTime:  now,
		LastUpdate: now,
		Targets:    make(map[string]Target),
		Failed:     make(map[string]Failure),
	}
}

// SessionID returns the current session identifier.
func (m *Manager) SessionID() string { return m.state.SessionID }

// Status returns the current session status.
func (m *Manager) Status() string { return m.state.Status }

// Initialize replaces the work set: pending becomes targets, completed and
// failed are cleared, status moves to ready.
func (m *Manager) Initialize(targets []Target) error {
	m.state.Targets = make(map[string]Target, len(targets))
	m.state.Pending = make([]string, 0, len(targets))
	m.state.Completed = nil
	m.state.Failed = make(map[string]Failure)
	m.state.InProgress = ""
	m.state.Stats = Statistics{}

	for _, target := range targets {
		if _, dup := m.state.Targets[target.ID]; dup {
			return fmt.Errorf("duplicate target id %q", target.ID)
		}
		m.state.Targets[target.ID] = target
		m.state.Pending = append(m.state.Pending, target.ID)
	}

	m.state.Status = StatusReady
	m.touch()
	if err := m.persist(); err != nil {
		return err
	}

	m.logger.Info().Int("targets", len(targets)).Str("session_id", m.state.SessionID).Msg("session initialized")
	return nil
}

// Target resolves a target id from the session's immutable target set.
func (m *Manager) Target(id string) (Target, bool) {
	t, ok := m.state.Targets[id]
	return t, ok
}

// NextTarget peeks at the head of the pending queue without mutating it.
func (m *Manager) NextTarget() (Target, bool) {
	if len(m.state.Pending) == 0 {
		return Target{}, false
	}
	return m.state.Targets[m.state.Pending[0]], true
}

// ResumePoint returns the target to process next. An in-progress target
// left by a crash has unknown outcome and is retried from scratch; the
// idempotent persistence layer makes that safe.
func (m *Manager) ResumePoint() (Target, bool) {
	if m.state.InProgress != "" {
		if t, ok := m.state.Targets[m.state.InProgress]; ok {
			return t, true
		}
	}
	return m.NextTarget()
}

// Start moves a target from pending into in-progress.
func (m *Manager) Start(ctx context.Context, id string) error {
	target, ok := m.state.Targets[id]
	if !ok {
		return fmt.Errorf("unknown target %q", id)
	}
	for _, done := range m.state.Completed {
		if done == id {
			return fmt.Errorf("target %q already completed", id)
		}
	}

	m.state.Pending = remove(m.state.Pending, id)
	m.state.InProgress = id
	m.state.Status = StatusFetching
	m.touch()
	if err := m.persist(); err != nil {
		return err
	}

	if m.audit != nil {
		if err := m.audit.TargetStarted(ctx, m.state.SessionID, target); err != nil {
			m.logger.Warn().Err(err).Str("target", id).Msg("audit log write failed")
		}
	}
	return nil
}

// Complete moves a target into completed and accumulates statistics.
func (m *Manager) Complete(ctx context.Context, id string, records, units int64) error {
	if !contains(m.state.Completed, id) {
		m.state.Completed = append(m.state.Completed, id)
	}
	delete(m.state.Failed, id)
	m.state.Pending = remove(m.state.Pending, id)
	if m.state.InProgress == id {
		m.state.InProgress = ""
	}

	m.state.Stats.RecordsFetched += records
	m.state.Stats.UnitsConsumed += units
	m.touch()
	if err := m.persist(); err != nil {
		return err
	}

	if m.audit != nil {
		if err := m.audit.TargetFinished(ctx, m.state.SessionID, id, "completed", records, units, ""); err != nil {
			m.logger.Warn().Err(err).Str("target", id).Msg("audit log write failed")
		}
	}

	m.logger.Info().Str("target", id).Int64("records", records).Int64("units", units).Msg("target completed")
	return nil
}

// Fail records the terminal failure of a target. The target is not
// re-queued; retries happen inside the orchestrator before this call.
func (m *Manager) Fail(ctx context.Context, id, errMsg string, retryCount int) error {
	m.state.Failed[id] = Failure{
		Error:      errMsg,
		RetryCount: retryCount,
		Timestamp:  m.now(),
	}
	m.state.Pending = remove(m.state.Pending, id)
	if m.state.InProgress == id {
		m.state.InProgress = ""
	}

	m.state.Stats.Errors++
	m.state.Stats.Retries += retryCount
	m.touch()
	if err := m.persist(); err != nil {
		return err
	}

	if m.audit != nil {
		if err := m.audit.TargetFinished(ctx, m.state.SessionID, id, "failed", 0, 0, errMsg); err != nil {
			m.logger.Warn().Err(err).Str("target", id).Msg("audit log write failed")
		}
	}

	m.logger.Error().Str("target", id).Str("error", errMsg).Int("retries", retryCount).Msg("target failed")
	return nil
}

// Finish marks the session terminal state based on failures so far.
func (m *Manager) Finish() error {
	if len(m.state.Failed) > 0 {
		m.state.Status = StatusFailed
	} else {
		m.state.Status = StatusCompleted
	}
	m.touch()
	return m.persist()
}

// Checkpoint appends a progress snapshot. Called periodically and on
// interruption.
func (m *Manager) Checkpoint() error {
	cp := Checkpoint{
		Timestamp: m.now(),
		Completed: len(m.state.Completed),
		Failed:    len(m.state.Failed),
		Pending:   len(m.state.Pending),
		Records:   m.state.Stats.RecordsFetched,
		Units:     m.state.Stats.UnitsConsumed,
	}
	m.state.Checkpoints = append(m.state.Checkpoints, cp)
	m.touch()
	if err := m.persist(); err != nil {
		return err
	}

	m.logger.Info().
		Int("completed", cp.Completed).
		Int("failed", cp.Failed).
		Int("pending", cp.Pending).
		Int64("records", cp.Records).
		Msg("checkpoint saved")
	return nil
}

// Reset abandons the current session and starts a fresh one with a new id.
func (m *Manager) Reset() error {
	m.state = m.freshState()
	if err := m.persist(); err != nil {
		return err
	}
	m.logger.Info().Str("session_id", m.state.SessionID).Msg("session reset")
	return nil
}

// RetryableFailures lists failed target ids below the retry budget.
func (m *Manager) RetryableFailures(maxRetries int) []string {
	var ids []string
	for id, failure := range m.state.Failed {
		if failure.RetryCount < maxRetries {
			ids = append(ids, id)
		}
	}
	return ids
}

// Summary condenses current progress.
func (m *Manager) Summary() Summary {
	total := len(m.state.Targets)
	completed := len(m.state.Completed)

	pct := 0.0
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}

	return Summary{
		SessionID:   m.state.SessionID,
		Status:      m.state.Status,
		Total:       total,
		Completed:   completed,
		Failed:      len(m.state.Failed),
		Pending:     len(m.state.Pending),
		InProgress:  m.state.InProgress,
		ProgressPct: pct,
		Stats:       m.state.Stats,
		LastUpdate:  m.state.LastUpdate,
	}
}

// Failures returns a copy of the failed target map.
func (m *Manager) Failures() map[string]Failure {
	out := make(map[string]Failure, len(m.state.Failed))
	for id, f := range m.state.Failed {
		out[id] = f
	}
	return out
}

// CompletedTargets returns completed ids in completion order.
func (m *Manager) CompletedTargets() []string {
	out := make([]string, len(m.state.Completed))
	copy(out, m.state.Completed)
	return out
}

func (m *Manager) touch() {
	m.state.LastUpdate = m.now()
}

func (m *Manager) persist() error {
	return m.store.Persist(m.state)
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
