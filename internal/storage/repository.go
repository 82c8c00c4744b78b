package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"options-harvester/internal/session"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertOptionRowSQL = `INSERT INTO %s (
        ticker,
        underlying,
        expiry,
        strike,
        option_type,
        bid,
        ask,
        last,
        volume,
        open_interest,
        implied_vol,
        delta,
        gamma,
        theta,
        vega,
        rho,
        underlying_price,
        bid_size,
        ask_size,
        spread_pct,
        greeks_source,
        observed_on
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
    )
    ON CONFLICT (ticker, observed_on) DO NOTHING;`

	updateOptionRowSQL = `UPDATE %s
    SET bid           = $3,
        ask           = $4,
        last          = $5,
        volume        = $6,
        open_interest = $7,
        implied_vol   = $8,
        delta         = $9,
        gamma         = $10,
        theta         = $11,
        vega          = $12,
        rho           = $13,
        spread_pct    = $14,
        greeks_source = $15,
        created_at    = now()
    WHERE ticker = $1 AND observed_on = $2;`

	listOptionRowsSQL = `SELECT
        ticker,
        underlying,
        expiry,
        strike,
        option_type,
        bid,
        ask,
        last,
        volume,
        open_interest,
        implied_vol,
        delta,
        gamma,
        theta,
        vega,
        rho,
        underlying_price,
        bid_size,
        ask_size,
        spread_pct,
        greeks_source,
        observed_on,
        created_at
    FROM %s
    WHERE observed_on >= $1
      AND observed_on < $2
    ORDER BY observed_on, expiry, strike, option_type
    LIMIT $3;`

	summaryStatsSQL = `SELECT
        COUNT(*),
        COUNT(DISTINCT observed_on),
        COUNT(DISTINCT expiry),
        COUNT(DISTINCT strike),
        MIN(observed_on),
        MAX(observed_on)
    FROM %s;`

	purgeOlderThanSQL = `DELETE FROM %s WHERE observed_on < $1;`

	upsertEquityRowSQL = `INSERT INTO equity_snapshots (
        ticker,
        underlying,
        last,
        open,
        high,
        low,
        volume,
        bid,
        ask,
        chg_pct_1d,
        volatility_30d,
        market_cap,
        pe_ratio,
        div_yield,
        observed_on
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    ON CONFLICT (ticker, observed_on) DO UPDATE
    SET last           = EXCLUDED.last,
        open           = EXCLUDED.open,
        high           = EXCLUDED.high,
        low            = EXCLUDED.low,
        volume         = EXCLUDED.volume,
        bid            = EXCLUDED.bid,
        ask            = EXCLUDED.ask,
        chg_pct_1d     = EXCLUDED.chg_pct_1d,
        volatility_30d = EXCLUDED.volatility_30d,
        market_cap     = EXCLUDED.market_cap,
        pe_ratio       = EXCLUDED.pe_ratio,
        div_yield      = EXCLUDED.div_yield,
        created_at     = now();`

	auditStartSQL = `INSERT INTO fetch_audit (
        session_id, target_id, kind, status, start_time
    ) VALUES (
        $1,$2,$3,'in_progress',now()
    )
    ON CONFLICT (session_id, target_id) DO UPDATE
    SET status = 'in_progress', start_time = now(), end_time = NULL, error = NULL;`

	auditFinishSQL = `UPDATE fetch_audit
    SET status = $3, end_time = now(), records = $4, units = $5, error = NULLIF($6, '')
    WHERE session_id = $1 AND target_id = $2;`

	listAuditSQL = `SELECT
        session_id, target_id, kind, status, start_time, end_time, records, units, error
    FROM fetch_audit
    WHERE session_id = $1
    ORDER BY start_time;`
)

// OptionRowStore defines persistence operations for option observations.
type OptionRowStore interface {
	InsertOptionRows(ctx context.Context, family Family, rows []OptionRow) (int64, error)
	UpdateOptionRows(ctx context.Context, family Family, rows []OptionRow) (int64, error)
	ListOptionRowsBetween(ctx context.Context, family Family, from, to time.Time, limit int) ([]OptionRow, error)
	SummaryStats(ctx context.Context, family Family) (SummaryStats, error)
	PurgeOlderThan(ctx context.Context, family Family, cutoff time.Time) (int64, error)
}

// EquityRowStore defines persistence for equity snapshots.
type EquityRowStore interface {
	UpsertEquityRows(ctx context.Context, rows []EquityRow) (int64, error)
}

// Store aggregates access to the options, equity, and audit tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertOptionRows inserts rows with insert-or-ignore semantics and returns
// the number actually inserted. Conflicting keys are left untouched; callers
// fall back to UpdateOptionRows when they want overwrites.
func (s *Store) InsertOptionRows(ctx context.Context, family Family, rows []OptionRow) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(insertOptionRowSQL, optionTable(family))

	var inserted int64
	for _, row := range rows {
		tag, execErr := pool.Exec(ctx, query,
			row.Ticker,
			row.Underlying,
			row.Expiry,
			decParam(&row.Strike),
			row.OptionType,
			decParam(row.Bid),
			decParam(row.Ask),
			decParam(row.Last),
			row.Volume,
			row.OpenInterest,
			row.ImpliedVol,
			row.Delta,
			row.Gamma,
			row.Theta,
			row.Vega,
			row.Rho,
			decParam(row.UnderlyingPrice),
			row.BidSize,
			row.AskSize,
			row.SpreadPct,
			greeksSourceOrDefault(row.GreeksSource),
			row.ObservedOn,
		)
		if execErr != nil {
			return inserted, fmt.Errorf("insert option row %s: %w", row.Ticker, execErr)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// UpdateOptionRows overwrites mutable fields for rows whose key already
// exists, returning the number of rows touched.
func (s *Store) UpdateOptionRows(ctx context.Context, family Family, rows []OptionRow) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(updateOptionRowSQL, optionTable(family))

	var updated int64
	for _, row := range rows {
		tag, execErr := pool.Exec(ctx, query,
			row.Ticker,
			row.ObservedOn,
			decParam(row.Bid),
			decParam(row.Ask),
			decParam(row.Last),
			row.Volume,
			row.OpenInterest,
			row.ImpliedVol,
			row.Delta,
			row.Gamma,
			row.Theta,
			row.Vega,
			row.Rho,
			row.SpreadPct,
			greeksSourceOrDefault(row.GreeksSource),
		)
		if execErr != nil {
			return updated, fmt.Errorf("update option row %s: %w", row.Ticker, execErr)
		}
		updated += tag.RowsAffected()
	}
	return updated, nil
}

// ListOptionRowsBetween lists rows observed within [from, to).
func (s *Store) ListOptionRowsBetween(ctx context.Context, family Family, from, to time.Time, limit int) ([]OptionRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(listOptionRowsSQL, optionTable(family))
	rows, queryErr := pool.Query(ctx, query, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list option rows: %w", queryErr)
	}
	defer rows.Close()

	result := make([]OptionRow, 0)
	for rows.Next() {
		row, scanErr := scanOptionRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

// SummaryStats aggregates counts for a family table.
func (s *Store) SummaryStats(ctx context.Context, family Family) (SummaryStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return SummaryStats{}, err
	}

	query := fmt.Sprintf(summaryStatsSQL, optionTable(family))

	var stats SummaryStats
	var minDate, maxDate sql.NullTime
	if scanErr := pool.QueryRow(ctx, query).Scan(
		&stats.TotalRows,
		&stats.DistinctDates,
		&stats.DistinctExpiries,
		&stats.DistinctStrikes,
		&minDate,
		&maxDate,
	); scanErr != nil {
		return SummaryStats{}, fmt.Errorf("summary stats: %w", scanErr)
	}

	if minDate.Valid {
		v := minDate.Time
		stats.MinDate = &v
	}
	if maxDate.Valid {
		v := maxDate.Time
		stats.MaxDate = &v
	}
	return stats, nil
}

// PurgeOlderThan deletes rows observed before the cutoff date.
func (s *Store) PurgeOlderThan(ctx context.Context, family Family, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(purgeOlderThanSQL, optionTable(family))
	tag, execErr := pool.Exec(ctx, query, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("purge option rows: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// UpsertEquityRows inserts or overwrites equity snapshots.
func (s *Store) UpsertEquityRows(ctx context.Context, rows []EquityRow) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var written int64
	for _, row := range rows {
		tag, execErr := pool.Exec(ctx, upsertEquityRowSQL,
			row.Ticker,
			row.Underlying,
			decParam(row.Last),
			decParam(row.Open),
			decParam(row.High),
			decParam(row.Low),
			row.Volume,
			decParam(row.Bid),
			decParam(row.Ask),
			row.ChgPct1D,
			row.Volatility30D,
			row.MarketCap,
			row.PERatio,
			row.DivYield,
			row.ObservedOn,
		)
		if execErr != nil {
			return written, fmt.Errorf("upsert equity row %s: %w", row.Ticker, execErr)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

// TargetStarted implements session.AuditLog.
func (s *Store) TargetStarted(ctx context.Context, sessionID string, target session.Target) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, auditStartSQL, sessionID, target.ID, string(target.Kind)); execErr != nil {
		return fmt.Errorf("audit target start: %w", execErr)
	}
	return nil
}

// TargetFinished implements session.AuditLog.
func (s *Store) TargetFinished(ctx context.Context, sessionID, targetID, status string, records, units int64, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, auditFinishSQL, sessionID, targetID, status, records, units, errMsg); execErr != nil {
		return fmt.Errorf("audit target finish: %w", execErr)
	}
	return nil
}

// ListAuditEntries returns the progress log for one session.
func (s *Store) ListAuditEntries(ctx context.Context, sessionID string) ([]AuditEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAuditSQL, sessionID)
	if queryErr != nil {
		return nil, fmt.Errorf("list audit entries: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0)
	for rows.Next() {
		var entry AuditEntry
		var endTime sql.NullTime
		var errText sql.NullString
		if err := rows.Scan(
			&entry.SessionID,
			&entry.TargetID,
			&entry.Kind,
			&entry.Status,
			&entry.StartTime,
			&endTime,
			&entry.Records,
			&entry.Units,
			&errText,
		); err != nil {
			return nil, err
		}
		if endTime.Valid {
			v := endTime.Time
			entry.EndTime = &v
		}
		if errText.Valid {
			v := errText.String
			entry.Error = &v
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func scanOptionRow(rows pgx.Rows) (OptionRow, error) {
	var (
		row       OptionRow
		strikeStr string
		bid       sql.NullString
		ask       sql.NullString
		last      sql.NullString
		undlPx    sql.NullString
	)

	if err := rows.Scan(
		&row.Ticker,
		&row.Underlying,
		&row.Expiry,
		&strikeStr,
		&row.OptionType,
		&bid,
		&ask,
		&last,
		&row.Volume,
		&row.OpenInterest,
		&row.ImpliedVol,
		&row.Delta,
		&row.Gamma,
		&row.Theta,
		&row.Vega,
		&row.Rho,
		&undlPx,
		&row.BidSize,
		&row.AskSize,
		&row.SpreadPct,
		&row.GreeksSource,
		&row.ObservedOn,
		&row.CreatedAt,
	); err != nil {
		return OptionRow{}, err
	}

	strike, err := decimal.NewFromString(strikeStr)
	if err != nil {
		return OptionRow{}, fmt.Errorf("parse strike: %w", err)
	}
	row.Strike = strike

	if row.Bid, err = scanDec(bid, "bid"); err != nil {
		return OptionRow{}, err
	}
	if row.Ask, err = scanDec(ask, "ask"); err != nil {
		return OptionRow{}, err
	}
	if row.Last, err = scanDec(last, "last"); err != nil {
		return OptionRow{}, err
	}
	if row.UnderlyingPrice, err = scanDec(undlPx, "underlying_price"); err != nil {
		return OptionRow{}, err
	}

	return row, nil
}

func scanDec(v sql.NullString, field string) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return &d, nil
}

func decParam(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func greeksSourceOrDefault(src string) string {
	if src == "" {
		return GreeksSourceTerminal
	}
	return src
}
