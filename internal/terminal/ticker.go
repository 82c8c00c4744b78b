package terminal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Option analytics fields requested for snapshot targets.
var OptionFields = []string{
	"PX_LAST",
	"PX_BID",
	"PX_ASK",
	"VOLUME",
	"OPEN_INT",
	"IVOL_MID",
	"DELTA",
	"GAMMA",
	"THETA",
	"VEGA",
	"RHO",
	"OPT_UNDL_PX",
	"BID_SIZE",
	"ASK_SIZE",
}

// HistoryFields is the reduced field set for time-series requests; history
// pulls bill per (security, field, day), so the set stays small.
var HistoryFields = []string{
	"PX_LAST",
	"PX_BID",
	"PX_ASK",
	"VOLUME",
	"OPEN_INT",
	"IVOL_MID",
}

// Equity snapshot fields for constituent stocks.
var EquityFields = []string{
	"PX_LAST",
	"PX_OPEN",
	"PX_HIGH",
	"PX_LOW",
	"PX_VOLUME",
	"PX_BID",
	"PX_ASK",
	"CHG_PCT_1D",
	"VOLATILITY_30D",
	"CUR_MKT_CAP",
	"PE_RATIO",
	"DIV_YIELD",
}

// KnownFields holds every field name the gateway may return; the pipeline
// uses it to split compound column keys.
var KnownFields = func() []string {
	seen := make(map[string]bool)
	var all []string
	for _, set := range [][]string{OptionFields, HistoryFields, EquityFields} {
		for _, f := range set {
			if !seen[f] {
				seen[f] = true
				all = append(all, f)
			}
		}
	}
	return all
}()

// BuildOptionTicker renders the natural key of one contract, e.g.
// "QQQ US 10/03/25 C490 Equity".
func BuildOptionTicker(underlying, market string, expiry time.Time, class string, strike decimal.Decimal) string {
	return fmt.Sprintf("%s %s %s %s%s Equity",
		underlying,
		market,
		expiry.Format("01/02/06"),
		class,
		formatStrike(strike),
	)
}

// EquityTicker renders the ticker for an equity snapshot, e.g. "AAPL US Equity".
func EquityTicker(underlying, market string) string {
	return fmt.Sprintf("%s %s Equity", underlying, market)
}

// OptionChainTickers generates call and put tickers for each strike in
// [low, high] stepped by interval.
func OptionChainTickers(underlying, market string, expiry time.Time, low, high, interval decimal.Decimal) []string {
	if interval.Sign() <= 0 || high.LessThan(low) {
		return nil
	}

	var tickers []string
	for strike := low; !strike.GreaterThan(high); strike = strike.Add(interval) {
		tickers = append(tickers,
			BuildOptionTicker(underlying, market, expiry, "C", strike),
			BuildOptionTicker(underlying, market, expiry, "P", strike),
		)
	}
	return tickers
}

func formatStrike(strike decimal.Decimal) string {
	if strike.IsInteger() {
		return strike.StringFixed(0)
	}
	return strike.String()
}
