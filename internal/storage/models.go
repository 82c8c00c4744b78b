package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Family selects which instrument table a row belongs to.
type Family string

const (
	// FamilyIndex is the primary instrument family (index options).
	FamilyIndex Family = "index"
	// FamilyConstituent covers options on individual constituent stocks.
	FamilyConstituent Family = "constituent"
)

// Greeks source tags.
const (
	GreeksSourceTerminal = "terminal"
	GreeksSourceComputed = "computed"
)

// OptionRow is a validated option-contract observation, uniquely keyed by
// (ticker, observed_on). Absent fields stay nil.
type OptionRow struct {
	Ticker          string
	Underlying      string
	Expiry          time.Time
	Strike          decimal.Decimal
	OptionType      string // C | P
	Bid             *decimal.Decimal
	Ask             *decimal.Decimal
	Last            *decimal.Decimal
	Volume          *int64
	OpenInterest    *int64
	ImpliedVol      *float64
	Delta           *float64
	Gamma           *float64
	Theta           *float64
	Vega            *float64
	Rho             *float64
	UnderlyingPrice *decimal.Decimal
	BidSize         *int64
	AskSize         *int64
	SpreadPct       *float64
	GreeksSource    string
	ObservedOn      time.Time
	CreatedAt       time.Time
}

// EquityRow is a point-in-time equity snapshot for a constituent stock.
type EquityRow struct {
	Ticker        string
	Underlying    string
	Last          *decimal.Decimal
	Open          *decimal.Decimal
	High          *decimal.Decimal
	Low           *decimal.Decimal
	Volume        *int64
	Bid           *decimal.Decimal
	Ask           *decimal.Decimal
	ChgPct1D      *float64
	Volatility30D *float64
	MarketCap     *float64
	PERatio       *float64
	DivYield      *float64
	ObservedOn    time.Time
	CreatedAt     time.Time
}

// SummaryStats aggregates a family table for operational visibility.
type SummaryStats struct {
	TotalRows        int64
	DistinctDates    int64
	DistinctExpiries int64
	DistinctStrikes  int64
	MinDate          *time.Time
	MaxDate          *time.Time
}

// AuditEntry is one row of the per-target progress log.
type AuditEntry struct {
	SessionID string
	TargetID  string
	Kind      string
	Status    string
	StartTime time.Time
	EndTime   *time.Time
	Records   int64
	Units     int64
	Error     *string
}
