package storage

import (
	"context"
	"fmt"
)

// Both option tables share the same shape; only the instrument family
// differs. The unique (ticker, observed_on) key makes re-ingestion
// idempotent.
const optionTableDDL = `CREATE TABLE IF NOT EXISTS %s (
    id               BIGSERIAL PRIMARY KEY,
    ticker           TEXT NOT NULL,
    underlying       TEXT NOT NULL,
    expiry           DATE NOT NULL,
    strike           NUMERIC NOT NULL,
    option_type      TEXT NOT NULL,
    bid              NUMERIC,
    ask              NUMERIC,
    last             NUMERIC,
    volume           BIGINT,
    open_interest    BIGINT,
    implied_vol      DOUBLE PRECISION,
    delta            DOUBLE PRECISION,
    gamma            DOUBLE PRECISION,
    theta            DOUBLE PRECISION,
    vega             DOUBLE PRECISION,
    rho              DOUBLE PRECISION,
    underlying_price NUMERIC,
    bid_size         BIGINT,
    ask_size         BIGINT,
    spread_pct       DOUBLE PRECISION,
    greeks_source    TEXT NOT NULL DEFAULT 'terminal',
    observed_on      DATE NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (ticker, observed_on)
);
CREATE INDEX IF NOT EXISTS idx_%s_underlying_expiry ON %s (underlying, expiry);
CREATE INDEX IF NOT EXISTS idx_%s_observed_on ON %s (observed_on);`

const equityTableDDL = `CREATE TABLE IF NOT EXISTS equity_snapshots (
    id             BIGSERIAL PRIMARY KEY,
    ticker         TEXT NOT NULL,
    underlying     TEXT NOT NULL,
    last           NUMERIC,
    open           NUMERIC,
    high           NUMERIC,
    low            NUMERIC,
    volume         BIGINT,
    bid            NUMERIC,
    ask            NUMERIC,
    chg_pct_1d     DOUBLE PRECISION,
    volatility_30d DOUBLE PRECISION,
    market_cap     DOUBLE PRECISION,
    pe_ratio       DOUBLE PRECISION,
    div_yield      DOUBLE PRECISION,
    observed_on    DATE NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (ticker, observed_on)
);`

const auditTableDDL = `CREATE TABLE IF NOT EXISTS fetch_audit (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    target_id  TEXT NOT NULL,
    kind       TEXT NOT NULL,
    status     TEXT NOT NULL,
    start_time TIMESTAMPTZ NOT NULL,
    end_time   TIMESTAMPTZ,
    records    BIGINT NOT NULL DEFAULT 0,
    units      BIGINT NOT NULL DEFAULT 0,
    error      TEXT,
    UNIQUE (session_id, target_id)
);
CREATE INDEX IF NOT EXISTS idx_fetch_audit_session ON fetch_audit (session_id);`

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, family := range []Family{FamilyIndex, FamilyConstituent} {
		table := optionTable(family)
		ddl := fmt.Sprintf(optionTableDDL, table, table, table, table, table)
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}

	if _, err := pool.Exec(ctx, equityTableDDL); err != nil {
		return fmt.Errorf("create table equity_snapshots: %w", err)
	}
	if _, err := pool.Exec(ctx, auditTableDDL); err != nil {
		return fmt.Errorf("create table fetch_audit: %w", err)
	}
	return nil
}

func optionTable(family Family) string {
	if family == FamilyConstituent {
		return "constituent_options"
	}
	return "options_data"
}
