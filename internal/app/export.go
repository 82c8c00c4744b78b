package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"options-harvester/internal/storage"
)

// Export writes stored option observations as CSV, Parquet and/or a PNG
// overview chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.ParquetPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv, --parquet or --png must be provided")
	}

	family, err := resolveFamily(opts.Family)
	if err != nil {
		return err
	}
	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -30)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.ListOptionRowsBetween(ctx, family, from, to, opts.MaxRows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no rows found for export window")
		return nil
	}

	a.Logger.Info().Int("rows", len(rows)).Str("family", string(family)).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writeRowsCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}
	if opts.ParquetPath != "" {
		if err := writeRowsParquet(opts.ParquetPath, rows); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeRowsPNG(opts.PNGPath, rows); err != nil {
			return err
		}
	}
	return nil
}

func resolveFamily(name string) (storage.Family, error) {
	switch name {
	case "", "index":
		return storage.FamilyIndex, nil
	case "constituent":
		return storage.FamilyConstituent, nil
	default:
		return "", fmt.Errorf("unknown family %q: must be index or constituent", name)
	}
}

func writeRowsCSV(path string, rows []storage.OptionRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	csvWriter := csv.NewWriter(file)
	defer csvWriter.Flush()

	header := []string{
		"ticker", "underlying", "expiry", "strike", "option_type",
		"bid", "ask", "last", "volume", "open_interest",
		"implied_vol", "delta", "gamma", "theta", "vega", "rho",
		"underlying_price", "spread_pct", "greeks_source", "observed_on",
	}
	if err := csvWriter.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.Ticker,
			row.Underlying,
			row.Expiry.Format("2006-01-02"),
			row.Strike.String(),
			row.OptionType,
			decString(row.Bid),
			decString(row.Ask),
			decString(row.Last),
			intString(row.Volume),
			intString(row.OpenInterest),
			floatString(row.ImpliedVol),
			floatString(row.Delta),
			floatString(row.Gamma),
			floatString(row.Theta),
			floatString(row.Vega),
			floatString(row.Rho),
			decString(row.UnderlyingPrice),
			floatString(row.SpreadPct),
			row.GreeksSource,
			row.ObservedOn.Format("2006-01-02"),
		}
		if err := csvWriter.Write(record); err != nil {
			return err
		}
	}
	return csvWriter.Error()
}

type optionParquetRecord struct {
	Ticker          string  `parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Underlying      string  `parquet:"name=underlying, type=BYTE_ARRAY, convertedtype=UTF8"`
	Expiry          int64   `parquet:"name=expiry, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Strike          float64 `parquet:"name=strike, type=DOUBLE"`
	OptionType      string  `parquet:"name=option_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Bid             float64 `parquet:"name=bid, type=DOUBLE"`
	Ask             float64 `parquet:"name=ask, type=DOUBLE"`
	Last            float64 `parquet:"name=last, type=DOUBLE"`
	Volume          int64   `parquet:"name=volume, type=INT64"`
	OpenInterest    int64   `parquet:"name=open_interest, type=INT64"`
	ImpliedVol      float64 `parquet:"name=implied_vol, type=DOUBLE"`
	Delta           float64 `parquet:"name=delta, type=DOUBLE"`
	Gamma           float64 `parquet:"name=gamma, type=DOUBLE"`
	Theta           float64 `parquet:"name=theta, type=DOUBLE"`
	Vega            float64 `parquet:"name=vega, type=DOUBLE"`
	Rho             float64 `parquet:"name=rho, type=DOUBLE"`
	UnderlyingPrice float64 `parquet:"name=underlying_price, type=DOUBLE"`
	SpreadPct       float64 `parquet:"name=spread_pct, type=DOUBLE"`
	GreeksSource    string  `parquet:"name=greeks_source, type=BYTE_ARRAY, convertedtype=UTF8"`
	ObservedOn      int64   `parquet:"name=observed_on, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func writeRowsParquet(path string, rows []storage.OptionRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	defer file.Close()

	parquetWriter, err := writer.NewParquetWriter(file, new(optionParquetRecord), 4)
	if err != nil {
		return fmt.Errorf("new parquet writer: %w", err)
	}
	parquetWriter.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		record := optionParquetRecord{
			Ticker:          row.Ticker,
			Underlying:      row.Underlying,
			Expiry:          row.Expiry.UnixMilli(),
			Strike:          row.Strike.InexactFloat64(),
			OptionType:      row.OptionType,
			Bid:             decFloat(row.Bid),
			Ask:             decFloat(row.Ask),
			Last:            decFloat(row.Last),
			Volume:          intValue(row.Volume),
			OpenInterest:    intValue(row.OpenInterest),
			ImpliedVol:      floatValue(row.ImpliedVol),
			Delta:           floatValue(row.Delta),
			Gamma:           floatValue(row.Gamma),
			Theta:           floatValue(row.Theta),
			Vega:            floatValue(row.Vega),
			Rho:             floatValue(row.Rho),
			UnderlyingPrice: decFloat(row.UnderlyingPrice),
			SpreadPct:       floatValue(row.SpreadPct),
			GreeksSource:    row.GreeksSource,
			ObservedOn:      row.ObservedOn.UnixMilli(),
		}
		if err := parquetWriter.Write(record); err != nil {
			parquetWriter.WriteStop()
			return fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := parquetWriter.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet: %w", err)
	}
	return nil
}

// writeRowsPNG charts the daily mean mid price and mean implied vol across
// the exported window.
func writeRowsPNG(path string, rows []storage.OptionRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	type dayAgg struct {
		midSum float64
		midN   int
		ivSum  float64
		ivN    int
	}
	byDay := make(map[time.Time]*dayAgg)

	for _, row := range rows {
		day := row.ObservedOn.Truncate(24 * time.Hour)
		agg, ok := byDay[day]
		if !ok {
			agg = &dayAgg{}
			byDay[day] = agg
		}
		if row.Bid != nil && row.Ask != nil {
			mid := row.Bid.Add(*row.Ask).InexactFloat64() / 2
			agg.midSum += mid
			agg.midN++
		}
		if row.ImpliedVol != nil {
			agg.ivSum += *row.ImpliedVol
			agg.ivN++
		}
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	if len(days) < 2 {
		return errors.New("not enough distinct dates to chart")
	}

	x := make([]time.Time, len(days))
	mids := make([]float64, len(days))
	vols := make([]float64, len(days))
	for i, day := range days {
		agg := byDay[day]
		x[i] = day
		if agg.midN > 0 {
			mids[i] = agg.midSum / float64(agg.midN)
		}
		if agg.ivN > 0 {
			vols[i] = agg.ivSum / float64(agg.ivN)
		}
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Mean mid price",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Mean implied vol (%)",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Mid price",
				XValues: x,
				YValues: mids,
			},
			chart.TimeSeries{
				Name:    "Implied vol",
				XValues: x,
				YValues: vols,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func decString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func decFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

func intString(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func intValue(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func floatString(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func floatValue(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
