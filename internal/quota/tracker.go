package quota

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	dayKeyFormat   = "2006-01-02"
	monthKeyFormat = "2006-01"

	warnFraction = 0.8
)

// Limits configure the rolling consumption budgets.
type Limits struct {
	Daily   int64
	Monthly int64
}

// Remaining reports headroom against both budgets.
type Remaining struct {
	DailyUsed        int64
	DailyLimit       int64
	DailyRemaining   int64
	MonthlyUsed      int64
	MonthlyLimit     int64
	MonthlyRemaining int64
}

// Tracker accounts for provider consumption against daily and monthly
// budgets. Period keys derive from wall-clock time at call time, so a
// process running across midnight rolls over without restart. Single-writer
// by design; not safe for concurrent use.
type Tracker struct {
	limits Limits
	store  LedgerStore
	ledger Ledger
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker loads the persisted ledger and returns a tracker bound to it.
func NewTracker(limits Limits, store LedgerStore, logger zerolog.Logger) (*Tracker, error) {
	ledger, err := store.Load()
	if err != nil {
		return nil, err
	}

	return &Tracker{
		limits: limits,
		store:  store,
		ledger: ledger,
		logger: logger.With().Str("component", "quota").Logger(),
		now:    time.Now,
	}, nil
}

// WithClock overrides the wall clock; used by tests to exercise rollover.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// CanConsume reports whether estimated units fit within today's and this
// month's remaining budget.
func (t *Tracker) CanConsume(estimated int64) bool {
	day, month := t.periodKeys()

	if t.ledger.Daily[day]+estimated > t.limits.Daily {
		t.logger.Warn().
			Int64("estimated", estimated).
			Int64("daily_used", t.ledger.Daily[day]).
			Int64("daily_limit", t.limits.Daily).
			Msg("request would exceed daily quota")
		return false
	}
	if t.ledger.Monthly[month]+estimated > t.limits.Monthly {
		t.logger.Warn().
			Int64("estimated", estimated).
			Int64("monthly_used", t.ledger.Monthly[month]).
			Int64("monthly_limit", t.limits.Monthly).
			Msg("request would exceed monthly quota")
		return false
	}
	return true
}

// RecordConsumption unconditionally adds units to both counters and persists
// the ledger. Crossing 80% of a limit logs a warning, exceeding it logs an
// error; neither blocks requests already issued.
func (t *Tracker) RecordConsumption(units int64) error {
	day, month := t.periodKeys()

	t.ledger.Daily[day] += units
	t.ledger.Monthly[month] += units
	t.ledger.Total += units

	if err := t.store.Persist(t.ledger); err != nil {
		return fmt.Errorf("persist quota ledger: %w", err)
	}

	t.observeLimit("daily", t.ledger.Daily[day], t.limits.Daily)
	t.observeLimit("monthly", t.ledger.Monthly[month], t.limits.Monthly)
	return nil
}

// Remaining returns current headroom for both periods.
func (t *Tracker) Remaining() Remaining {
	day, month := t.periodKeys()
	return Remaining{
		DailyUsed:        t.ledger.Daily[day],
		DailyLimit:       t.limits.Daily,
		DailyRemaining:   t.limits.Daily - t.ledger.Daily[day],
		MonthlyUsed:      t.ledger.Monthly[month],
		MonthlyLimit:     t.limits.Monthly,
		MonthlyRemaining: t.limits.Monthly - t.ledger.Monthly[month],
	}
}

func (t *Tracker) observeLimit(period string, used, limit int64) {
	if limit <= 0 {
		return
	}
	switch {
	case used > limit:
		t.logger.Error().
			Str("period", period).
			Int64("used", used).
			Int64("limit", limit).
			Msg("quota limit exceeded")
	case float64(used) > float64(limit)*warnFraction:
		t.logger.Warn().
			Str("period", period).
			Int64("used", used).
			Int64("limit", limit).
			Msg("approaching quota limit")
	}
}

func (t *Tracker) periodKeys() (string, string) {
	now := t.now()
	return now.Format(dayKeyFormat), now.Format(monthKeyFormat)
}
