// Package universe expands configuration into the immutable target set of
// one acquisition session.
package universe

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"options-harvester/internal/config"
	"options-harvester/internal/session"
)

// Builder derives targets from the configured universe.
type Builder struct {
	cfg         config.UniverseConfig
	historyDays int
	now         func() time.Time
}

// NewBuilder constructs a Builder.
func NewBuilder(cfg config.UniverseConfig) *Builder {
	return &Builder{cfg: cfg, now: time.Now}
}

// WithClock overrides the wall clock for expiry generation in tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithHistoryDays makes index targets time-series requests over the trailing
// window instead of point-in-time snapshots.
func (b *Builder) WithHistoryDays(days int) *Builder {
	b.historyDays = days
	return b
}

// Build returns the ordered target list: index option chains per expiry
// first, then constituent option chains, then equity snapshots.
func (b *Builder) Build() []session.Target {
	low, high, step := b.strikeWindow(b.cfg.ReferencePrice)

	var targets []session.Target
	for _, expiry := range b.Expiries() {
		targets = append(targets, session.Target{
			ID:          fmt.Sprintf("%s-index-%s", b.cfg.IndexUnderlying, expiry.Format("20060102")),
			Kind:        session.KindIndexOptions,
			Underlying:  b.cfg.IndexUnderlying,
			Expiry:      expiry,
			StrikeLow:   low,
			StrikeHigh:  high,
			StrikeStep:  step,
			HistoryDays: b.historyDays,
		})
	}

	nearest := b.nearestMonthlyExpiry()
	for _, symbol := range b.constituents() {
		targets = append(targets, session.Target{
			ID:         fmt.Sprintf("%s-const", symbol),
			Kind:       session.KindConstituentOptions,
			Underlying: symbol,
			Expiry:     nearest,
			StrikeLow:  low,
			StrikeHigh: high,
			StrikeStep: step,
		})
	}

	if b.cfg.EquitySnapshots {
		for _, symbol := range b.constituents() {
			targets = append(targets, session.Target{
				ID:         fmt.Sprintf("%s-equity", symbol),
				Kind:       session.KindEquitySnapshot,
				Underlying: symbol,
			})
		}
	}

	return targets
}

func (b *Builder) constituents() []string {
	symbols := b.cfg.Constituents
	if b.cfg.TopN > 0 && b.cfg.TopN < len(symbols) {
		symbols = symbols[:b.cfg.TopN]
	}
	return symbols
}

// Expiries generates weekly Friday expiries within the configured horizon
// plus quarterly third Fridays, sorted ascending. Listed index options
// expire weekly, so monthly-only generation would miss most of the chain.
func (b *Builder) Expiries() []time.Time {
	maxDays := b.cfg.MaxDaysToExpiry
	if maxDays <= 0 {
		maxDays = 60
	}

	today := dateOnly(b.now())
	horizon := today.AddDate(0, 0, maxDays)

	seen := make(map[time.Time]bool)
	var expiries []time.Time

	for friday := nextFriday(today); !friday.After(horizon); friday = friday.AddDate(0, 0, 7) {
		if !seen[friday] {
			seen[friday] = true
			expiries = append(expiries, friday)
		}
	}

	// Quarterly third Fridays tend to carry the deepest liquidity; include
	// them even when the weekly walk already covers the horizon.
	for year := today.Year(); year <= horizon.Year(); year++ {
		for _, month := range []time.Month{time.March, time.June, time.September, time.December} {
			friday := thirdFriday(year, month)
			if friday.After(today) && !friday.After(horizon) && !seen[friday] {
				seen[friday] = true
				expiries = append(expiries, friday)
			}
		}
	}

	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })
	return expiries
}

func (b *Builder) nearestMonthlyExpiry() time.Time {
	today := dateOnly(b.now())
	friday := thirdFriday(today.Year(), today.Month())
	if !friday.After(today) {
		next := today.AddDate(0, 1, 0)
		friday = thirdFriday(next.Year(), next.Month())
	}
	return friday
}

// strikeWindow computes the chain window around the reference price. The
// interval widens with price level, mirroring exchange listing conventions.
func (b *Builder) strikeWindow(referencePrice float64) (low, high, step decimal.Decimal) {
	var interval float64
	switch {
	case referencePrice < 100:
		interval = 1.0
	case referencePrice < 200:
		interval = 2.5
	default:
		interval = 5.0
	}

	below := b.cfg.StrikesBelow
	if below <= 0 {
		below = 20
	}
	above := b.cfg.StrikesAbove
	if above <= 0 {
		above = 20
	}

	min := math.Floor((referencePrice-float64(below)*interval)/interval) * interval
	if min < interval {
		min = interval
	}
	max := math.Ceil((referencePrice+float64(above)*interval)/interval) * interval

	return decimal.NewFromFloat(min), decimal.NewFromFloat(max), decimal.NewFromFloat(interval)
}

func nextFriday(t time.Time) time.Time {
	daysAhead := (int(time.Friday) - int(t.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	return t.AddDate(0, 0, daysAhead)
}

func thirdFriday(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
