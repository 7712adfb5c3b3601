package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tracked_types (
		type_id             BIGINT PRIMARY KEY,
		tier                TEXT        NOT NULL,
		update_interval_min INTEGER     NOT NULL,
		last_refreshed      TIMESTAMPTZ,
		next_refresh        TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS tracked_types_due_idx
		ON tracked_types (next_refresh NULLS FIRST, last_refreshed NULLS FIRST)`,
	`CREATE TABLE IF NOT EXISTS market_snapshots (
		ts         TIMESTAMPTZ NOT NULL,
		type_id    BIGINT      NOT NULL,
		station_id BIGINT      NOT NULL,
		best_bid   NUMERIC(20, 2),
		best_ask   NUMERIC(20, 2),
		bid_count  INTEGER     NOT NULL,
		ask_count  INTEGER     NOT NULL,
		bid_units  BIGINT      NOT NULL,
		ask_units  BIGINT      NOT NULL,
		PRIMARY KEY (ts, type_id, station_id)
	)`,
	`CREATE INDEX IF NOT EXISTS market_snapshots_latest_idx
		ON market_snapshots (type_id, station_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS jobs_history (
		id      BIGSERIAL PRIMARY KEY,
		name    TEXT        NOT NULL,
		ts      TIMESTAMPTZ NOT NULL,
		ok      BOOLEAN     NOT NULL,
		details JSONB       NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_history_name_ts_idx ON jobs_history (name, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS type_trends (
		type_id         BIGINT PRIMARY KEY,
		last_history_ts TIMESTAMPTZ      NOT NULL,
		mom_pct         DOUBLE PRECISION NOT NULL,
		vol_30d_avg     DOUBLE PRECISION NOT NULL,
		vol_prev30_avg  DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS type_valuations (
		type_id       BIGINT PRIMARY KEY,
		quicksell_bid NUMERIC(20, 2) NOT NULL,
		mark_ask      NUMERIC(20, 2) NOT NULL,
		updated       TIMESTAMPTZ    NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS recommendations (
		type_id    BIGINT           NOT NULL,
		station_id BIGINT           NOT NULL,
		ts         TIMESTAMPTZ      NOT NULL,
		spread_pct DOUBLE PRECISION NOT NULL,
		mom_pct    DOUBLE PRECISION NOT NULL,
		vol_30d    DOUBLE PRECISION NOT NULL,
		rationale  JSONB            NOT NULL DEFAULT '{}',
		PRIMARY KEY (type_id, station_id)
	)`,
	`CREATE TABLE IF NOT EXISTS scheduler_settings (
		name             TEXT PRIMARY KEY,
		enabled          BOOLEAN     NOT NULL,
		interval_minutes INTEGER     NOT NULL,
		cron             TEXT        NOT NULL DEFAULT '',
		priority         TEXT        NOT NULL,
		updated          TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates any missing tables and indexes.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
