package session

import (
	"time"

	"github.com/shopspring/decimal"
)

// TargetKind discriminates units of acquisition work.
type TargetKind string

const (
	KindIndexOptions       TargetKind = "index-options"
	KindConstituentOptions TargetKind = "constituent-options"
	KindEquitySnapshot     TargetKind = "equity-snapshot"
)

// Target is one unit of acquisition work. Immutable once created.
type Target struct {
	ID         string          `json:"id"`
	Kind       TargetKind      `json:"kind"`
	Underlying string          `json:"underlying"`
	Expiry     time.Time       `json:"expiry,omitempty"`
	StrikeLow  decimal.Decimal `json:"strike_low,omitempty"`
	StrikeHigh decimal.Decimal `json:"strike_high,omitempty"`
	StrikeStep decimal.Decimal `json:"strike_step,omitempty"`
	// HistoryDays > 0 turns the target into a time-series request over the
	// trailing window instead of a point-in-time snapshot.
	HistoryDays int `json:"history_days,omitempty"`
}

// Statistics accumulate across one session.
type Statistics struct {
	RecordsFetched int64 `json:"records_fetched"`
	UnitsConsumed  int64 `json:"units_consumed"`
	Errors         int   `json:"errors"`
	Retries        int   `json:"retries"`
}

// Failure captures the terminal failure of one target.
type Failure struct {
	Error      string    `json:"error"`
	RetryCount int       `json:"retry_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// Checkpoint is an append-only progress snapshot.
type Checkpoint struct {
	Timestamp time.Time `json:"timestamp"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Pending   int       `json:"pending"`
	Records   int64     `json:"records"`
	Units     int64     `json:"units"`
}

// Session status lifecycle: initialized -> ready -> fetching -> completed|failed.
const (
	StatusInitialized = "initialized"
	StatusReady       = "ready"
	StatusFetching    = "fetching"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// State is the persisted document for one fetch session. A target id lives
// in exactly one of pending, in_progress, completed, failed at any time.
type State struct {
	SessionID   string             `json:"session_id"`
	Status      string             `json:"status"`
	StartTime   time.Time          `json:"start_time"`
	LastUpdate  time.Time          `json:"last_update"`
	Targets     map[string]Target  `json:"targets"`
	Pending     []string           `json:"pending"`
	InProgress  string             `json:"in_progress,omitempty"`
	Completed   []string           `json:"completed"`
	Failed      map[string]Failure `json:"failed"`
	Stats       Statistics         `json:"statistics"`
	Checkpoints []Checkpoint       `json:"checkpoints"`
}

// Summary condenses progress for operator display.
type Summary struct {
	SessionID   string
	Status      string
	Total       int
	Completed   int
	Failed      int
	Pending     int
	InProgress  string
	ProgressPct float64
	Stats       Statistics
	LastUpdate  time.Time
}
