package pipeline

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"options-harvester/internal/storage"
	"options-harvester/internal/terminal"
)

const dateLayout = "2006-01-02"

// splitColumnKey splits a compound "<ticker>_<FIELD>" column key. Field
// names themselves contain underscores (PX_BID), so the split matches
// against the known field set instead of the last underscore.
func splitColumnKey(key string) (ticker, field string, ok bool) {
	for _, f := range terminal.KnownFields {
		if strings.HasSuffix(key, "_"+f) {
			return strings.TrimSuffix(key, "_"+f), f, true
		}
	}
	return "", "", false
}

// normalizeOptions regroups a wide, sparse payload into one OptionRow per
// (contract, observation date). Tickers that fail the contract grammar are
// skipped and counted, not fatal.
func (p *Pipeline) normalizeOptions(payload terminal.RawPayload, observedOn time.Time, report *Report) []storage.OptionRow {
	type columnGroup struct {
		key    ContractKey
		fields map[string][]terminal.Observation
	}

	groups := make(map[string]*columnGroup)
	for column, observations := range payload.Columns {
		ticker, field, ok := splitColumnKey(column)
		if !ok {
			report.Add(ReasonUnknownField)
			p.logger.Warn().Str("column", column).Msg("column key has no known field suffix")
			continue
		}

		group, seen := groups[ticker]
		if !seen {
			key, err := ParseContractKey(ticker)
			if err != nil {
				report.Add(ReasonBadTicker)
				p.logger.Warn().Str("ticker", ticker).Err(err).Msg("skipping unparseable ticker")
				groups[ticker] = &columnGroup{fields: nil}
				continue
			}
			group = &columnGroup{key: key, fields: make(map[string][]terminal.Observation)}
			groups[ticker] = group
		}
		if group.fields == nil {
			// Ticker already failed the grammar; skip its other columns
			// without double counting.
			continue
		}
		group.fields[field] = append(group.fields[field], observations...)
	}

	var rows []storage.OptionRow
	for _, group := range groups {
		if group.fields == nil {
			continue
		}
		rows = append(rows, p.buildRows(group.key, group.fields, observedOn, report)...)
	}
	return rows
}

func (p *Pipeline) buildRows(key ContractKey, fields map[string][]terminal.Observation, observedOn time.Time, report *Report) []storage.OptionRow {
	byDate := make(map[string]*storage.OptionRow)

	rowFor := func(date string) *storage.OptionRow {
		if row, ok := byDate[date]; ok {
			return row
		}
		observed := observedOn
		if parsed, err := time.Parse(dateLayout, date); err == nil {
			observed = parsed.UTC()
		}
		row := &storage.OptionRow{
			Ticker:       key.Ticker,
			Underlying:   key.Underlying,
			Expiry:       key.Expiry,
			Strike:       key.Strike,
			OptionType:   key.OptionType,
			GreeksSource: storage.GreeksSourceTerminal,
			ObservedOn:   observed,
		}
		byDate[date] = row
		return row
	}

	for field, observations := range fields {
		for _, obs := range observations {
			if strings.TrimSpace(obs.Value) == "" {
				continue
			}
			row := rowFor(obs.Date)
			p.applyField(row, field, obs.Value, report)
		}
	}

	rows := make([]storage.OptionRow, 0, len(byDate))
	for _, row := range byDate {
		rows = append(rows, *row)
	}
	return rows
}

// applyField coerces one raw value onto its typed field. Values that fail
// coercion are left null and counted; negative prices are treated as null
// sentinels from the provider.
func (p *Pipeline) applyField(row *storage.OptionRow, field, value string, report *Report) {
	switch field {
	case "PX_BID":
		row.Bid = parsePrice(value, report)
	case "PX_ASK":
		row.Ask = parsePrice(value, report)
	case "PX_LAST":
		row.Last = parsePrice(value, report)
	case "OPT_UNDL_PX":
		row.UnderlyingPrice = parsePrice(value, report)
	case "VOLUME":
		row.Volume = parseCount(value, report)
	case "OPEN_INT":
		row.OpenInterest = parseCount(value, report)
	case "BID_SIZE":
		row.BidSize = parseCount(value, report)
	case "ASK_SIZE":
		row.AskSize = parseCount(value, report)
	case "IVOL_MID":
		row.ImpliedVol = parseFloat(value, report)
	case "DELTA":
		row.Delta = parseFloat(value, report)
	case "GAMMA":
		row.Gamma = parseFloat(value, report)
	case "THETA":
		row.Theta = parseFloat(value, report)
	case "VEGA":
		row.Vega = parseFloat(value, report)
	case "RHO":
		row.Rho = parseFloat(value, report)
	}
}

// normalizeEquity maps a snapshot payload onto equity rows, one per ticker.
func (p *Pipeline) normalizeEquity(payload terminal.RawPayload, observedOn time.Time, report *Report) []storage.EquityRow {
	byTicker := make(map[string]*storage.EquityRow)

	for column, observations := range payload.Columns {
		ticker, field, ok := splitColumnKey(column)
		if !ok {
			report.Add(ReasonUnknownField)
			continue
		}
		// A column key that is nothing but a field suffix splits into a
		// blank ticker.
		if strings.TrimSpace(ticker) == "" {
			report.Add(ReasonBadTicker)
			p.logger.Warn().Str("column", column).Msg("column key carries no ticker")
			continue
		}

		row, seen := byTicker[ticker]
		if !seen {
			row = &storage.EquityRow{
				Ticker:     ticker,
				Underlying: strings.Fields(ticker)[0],
				ObservedOn: observedOn,
			}
			byTicker[ticker] = row
		}

		for _, obs := range observations {
			if strings.TrimSpace(obs.Value) == "" {
				continue
			}
			switch field {
			case "PX_LAST":
				row.Last = parsePrice(obs.Value, report)
			case "PX_OPEN":
				row.Open = parsePrice(obs.Value, report)
			case "PX_HIGH":
				row.High = parsePrice(obs.Value, report)
			case "PX_LOW":
				row.Low = parsePrice(obs.Value, report)
			case "PX_BID":
				row.Bid = parsePrice(obs.Value, report)
			case "PX_ASK":
				row.Ask = parsePrice(obs.Value, report)
			case "PX_VOLUME":
				row.Volume = parseCount(obs.Value, report)
			case "CHG_PCT_1D":
				row.ChgPct1D = parseFloat(obs.Value, report)
			case "VOLATILITY_30D":
				row.Volatility30D = parseFloat(obs.Value, report)
			case "CUR_MKT_CAP":
				row.MarketCap = parseFloat(obs.Value, report)
			case "PE_RATIO":
				row.PERatio = parseFloat(obs.Value, report)
			case "DIV_YIELD":
				row.DivYield = parseFloat(obs.Value, report)
			}
		}
	}

	rows := make([]storage.EquityRow, 0, len(byTicker))
	for _, row := range byTicker {
		rows = append(rows, *row)
	}
	return rows
}

func parsePrice(value string, report *Report) *decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		report.Add(ReasonBadNumeric)
		return nil
	}
	if d.Sign() < 0 {
		return nil
	}
	return &d
}

func parseCount(value string, report *Report) *int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		report.Add(ReasonBadNumeric)
		return nil
	}
	v := int64(f)
	return &v
}

func parseFloat(value string, report *Report) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		report.Add(ReasonBadNumeric)
		return nil
	}
	return &f
}
