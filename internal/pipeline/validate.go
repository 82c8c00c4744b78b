package pipeline

import (
	"sort"
	"time"

	"options-harvester/internal/storage"
)

// Rejection reasons surfaced in the report. Stage A reasons count skipped
// columns/values; Stage B reasons count dropped rows.
const (
	ReasonBadTicker    = "unparseable ticker"
	ReasonUnknownField = "unknown field column"
	ReasonBadNumeric   = "unparseable numeric"
	ReasonBidAboveAsk  = "bid > ask"
	ReasonExpired      = "expired contract"
	ReasonWideSpread   = "spread above ceiling"
)

// Report aggregates rejection counts per reason across one payload.
type Report struct {
	Reasons map[string]int
}

// NewReport allocates an empty report.
func NewReport() *Report {
	return &Report{Reasons: make(map[string]int)}
}

// Add increments the count for a reason.
func (r *Report) Add(reason string) {
	r.Reasons[reason]++
}

// Count returns the count for one reason.
func (r *Report) Count(reason string) int {
	return r.Reasons[reason]
}

// Total sums all rejection counts.
func (r *Report) Total() int {
	total := 0
	for _, n := range r.Reasons {
		total += n
	}
	return total
}

// SortedReasons returns reasons in stable order for logging.
func (r *Report) SortedReasons() []string {
	reasons := make([]string, 0, len(r.Reasons))
	for reason := range r.Reasons {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	return reasons
}

// validate applies the row invariants and drops non-conforming rows:
// bid <= ask when both present, observation not past expiry, and relative
// spread below the configured ceiling. Spread percentage is computed here
// as a derived field on surviving rows.
func (p *Pipeline) validate(rows []storage.OptionRow, report *Report) []storage.OptionRow {
	kept := rows[:0]
	for i := range rows {
		row := rows[i]

		if row.Bid != nil && row.Ask != nil && row.Bid.GreaterThan(*row.Ask) {
			report.Add(ReasonBidAboveAsk)
			continue
		}

		if expired(row.ObservedOn, row.Expiry) {
			report.Add(ReasonExpired)
			continue
		}

		if row.Bid != nil && row.Ask != nil && row.Ask.Sign() > 0 {
			pct, _ := row.Ask.Sub(*row.Bid).Div(*row.Ask).Mul(hundred).Float64()
			if pct > p.spreadCeilingPct {
				report.Add(ReasonWideSpread)
				continue
			}
			row.SpreadPct = &pct
		}

		kept = append(kept, row)
	}
	return kept
}

func expired(observedOn, expiry time.Time) bool {
	obs := observedOn.Truncate(24 * time.Hour)
	exp := expiry.Truncate(24 * time.Hour)
	return obs.After(exp)
}
