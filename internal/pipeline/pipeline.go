// Package pipeline transforms raw provider payloads into validated,
// deduplicated option rows. It is a pure transformation: no I/O besides
// logging, so it can run identically against live and replayed payloads.
package pipeline

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"options-harvester/internal/greeks"
	"options-harvester/internal/storage"
	"options-harvester/internal/terminal"
)

var hundred = decimal.NewFromInt(100)

// Options tune pipeline behaviour.
type Options struct {
	// SpreadCeilingPct drops rows whose bid-ask spread exceeds this fraction
	// of the ask, expressed in percent.
	SpreadCeilingPct float64
	// GreeksFallback fills absent Greeks from Black-Scholes when implied
	// vol and an underlying price are available.
	GreeksFallback bool
	RiskFreeRate   float64
}

// Pipeline is the two-stage normalize/validate transform.
type Pipeline struct {
	spreadCeilingPct float64
	greeksFallback   bool
	riskFreeRate     float64
	logger           zerolog.Logger
}

// New constructs a pipeline.
func New(opts Options, logger zerolog.Logger) *Pipeline {
	ceiling := opts.SpreadCeilingPct
	if ceiling <= 0 {
		ceiling = 50
	}

	return &Pipeline{
		spreadCeilingPct: ceiling,
		greeksFallback:   opts.GreeksFallback,
		riskFreeRate:     opts.RiskFreeRate,
		logger:           logger.With().Str("component", "pipeline").Logger(),
	}
}

// ProcessOptions runs both stages over an options payload. observedOn is the
// as-of date applied to snapshot observations without their own date. The
// returned report covers skipped values and dropped rows; only conforming
// rows are returned.
func (p *Pipeline) ProcessOptions(payload terminal.RawPayload, observedOn time.Time) ([]storage.OptionRow, *Report) {
	report := NewReport()

	rows := p.normalizeOptions(payload, observedOn, report)
	if p.greeksFallback {
		rows = p.fillMissingGreeks(rows)
	}
	kept := p.validate(rows, report)

	for _, reason := range report.SortedReasons() {
		p.logger.Info().
			Int("count", report.Count(reason)).
			Str("reason", reason).
			Msgf("removed %d records: %s", report.Count(reason), reason)
	}
	p.logger.Debug().Int("accepted", len(kept)).Int("rejected", report.Total()).Msg("payload processed")

	return kept, report
}

// ProcessEquity normalizes an equity snapshot payload. Equity rows carry no
// contract invariants beyond numeric coercion.
func (p *Pipeline) ProcessEquity(payload terminal.RawPayload, observedOn time.Time) ([]storage.EquityRow, *Report) {
	report := NewReport()
	rows := p.normalizeEquity(payload, observedOn, report)
	return rows, report
}

// fillMissingGreeks computes Black-Scholes Greeks for rows that have implied
// vol and an underlying price but no provider analytics. Rows touched here
// are tagged as locally computed.
func (p *Pipeline) fillMissingGreeks(rows []storage.OptionRow) []storage.OptionRow {
	for i := range rows {
		row := &rows[i]
		if !needsGreeks(row) || row.ImpliedVol == nil || row.UnderlyingPrice == nil {
			continue
		}

		years := row.Expiry.Sub(row.ObservedOn).Hours() / 24 / 365.25
		spot, _ := row.UnderlyingPrice.Float64()
		strike, _ := row.Strike.Float64()

		computed, err := greeks.Compute(greeks.Inputs{
			Spot:   spot,
			Strike: strike,
			T:      years,
			Rate:   p.riskFreeRate,
			Sigma:  *row.ImpliedVol / 100,
			IsCall: row.OptionType == "C",
		})
		if err != nil {
			continue
		}

		if row.Delta == nil {
			row.Delta = &computed.Delta
		}
		if row.Gamma == nil {
			row.Gamma = &computed.Gamma
		}
		if row.Theta == nil {
			row.Theta = &computed.Theta
		}
		if row.Vega == nil {
			row.Vega = &computed.Vega
		}
		if row.Rho == nil {
			row.Rho = &computed.Rho
		}
		row.GreeksSource = storage.GreeksSourceComputed
	}
	return rows
}

func needsGreeks(row *storage.OptionRow) bool {
	return row.Delta == nil || row.Gamma == nil || row.Theta == nil || row.Vega == nil || row.Rho == nil
}
