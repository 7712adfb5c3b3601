package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/eve-market/internal/model"
)

// Postgres is a Store backed by a pgx connection pool.
// Each call acquires its own connection from the pool.
type Postgres struct {
	db *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open pool. The schema must already exist.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

const insertSnapshotSQL = `
	INSERT INTO market_snapshots
		(ts, type_id, station_id, best_bid, best_ask, bid_count, ask_count, bid_units, ask_units)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (ts, type_id, station_id) DO NOTHING`

const markRefreshedSQL = `
	UPDATE tracked_types
	SET last_refreshed = $2::timestamptz,
	    next_refresh = $2::timestamptz + make_interval(mins => update_interval_min)
	WHERE type_id = $1`

func insertSnapshot(ctx context.Context, tx pgx.Tx, snap model.MarketSnapshot) error {
	_, err := tx.Exec(ctx, insertSnapshotSQL,
		snap.TS, snap.TypeID, snap.StationID,
		snap.BestBid, snap.BestAsk,
		snap.BidCount, snap.AskCount, snap.BidUnits, snap.AskUnits,
	)
	return err
}

func (p *Postgres) UpsertSnapshot(ctx context.Context, snap model.MarketSnapshot) error {
	_, err := p.db.Exec(ctx, insertSnapshotSQL,
		snap.TS, snap.TypeID, snap.StationID,
		snap.BestBid, snap.BestAsk,
		snap.BidCount, snap.AskCount, snap.BidUnits, snap.AskUnits,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot %d: %w", snap.TypeID, err)
	}
	return nil
}

func (p *Postgres) DueEntities(ctx context.Context, now time.Time, limit int) ([]model.TrackedEntity, error) {
	rows, err := p.db.Query(ctx, `
		SELECT type_id, tier, update_interval_min, last_refreshed, next_refresh
		FROM tracked_types
		WHERE next_refresh IS NULL OR next_refresh <= $1
		ORDER BY last_refreshed ASC NULLS FIRST, type_id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due entities: %w", err)
	}
	return collectEntities(rows)
}

func (p *Postgres) MarkRefreshed(ctx context.Context, typeID int64, ts time.Time) error {
	tag, err := p.db.Exec(ctx, markRefreshedSQL, typeID, ts)
	if err != nil {
		return fmt.Errorf("mark refreshed %d: %w", typeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark refreshed %d: %w", typeID, ErrUnknownEntity)
	}
	return nil
}

func (p *Postgres) Reclassify(ctx context.Context, typeID int64, tier model.Tier, interval time.Duration) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE tracked_types
		SET tier = $2,
		    update_interval_min = $3,
		    next_refresh = last_refreshed + make_interval(mins => $3)
		WHERE type_id = $1`, typeID, string(tier), int(interval/time.Minute))
	if err != nil {
		return fmt.Errorf("reclassify %d: %w", typeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reclassify %d: %w", typeID, ErrUnknownEntity)
	}
	return nil
}

func (p *Postgres) SaveRefresh(ctx context.Context, snap model.MarketSnapshot) error {
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if err := insertSnapshot(ctx, tx, snap); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		tag, err := tx.Exec(ctx, markRefreshedSQL, snap.TypeID, snap.TS)
		if err != nil {
			return fmt.Errorf("mark refreshed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrUnknownEntity
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save refresh %d: %w", snap.TypeID, err)
	}
	return nil
}

func (p *Postgres) EnsureEntities(ctx context.Context, typeIDs []int64, tier model.Tier, interval time.Duration) (int, error) {
	if len(typeIDs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, id := range typeIDs {
		batch.Queue(`
			INSERT INTO tracked_types (type_id, tier, update_interval_min)
			VALUES ($1, $2, $3)
			ON CONFLICT (type_id) DO NOTHING`, id, string(tier), int(interval/time.Minute))
	}

	results := p.db.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for range typeIDs {
		ct, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("ensure entities: %w", err)
		}
		created += int(ct.RowsAffected())
	}
	return created, nil
}

func (p *Postgres) Entities(ctx context.Context) ([]model.TrackedEntity, error) {
	rows, err := p.db.Query(ctx, `
		SELECT type_id, tier, update_interval_min, last_refreshed, next_refresh
		FROM tracked_types
		ORDER BY type_id`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	return collectEntities(rows)
}

func collectEntities(rows pgx.Rows) ([]model.TrackedEntity, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TrackedEntity, error) {
		var (
			e       model.TrackedEntity
			tier    string
			minutes int
		)
		if err := row.Scan(&e.TypeID, &tier, &minutes, &e.LastRefreshed, &e.NextRefresh); err != nil {
			return e, err
		}
		e.Tier = model.Tier(tier)
		e.UpdateInterval = time.Duration(minutes) * time.Minute
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan entities: %w", err)
	}
	return out, nil
}

func (p *Postgres) RefreshTimes(ctx context.Context) ([]time.Time, error) {
	rows, err := p.db.Query(ctx, `SELECT last_refreshed FROM tracked_types WHERE last_refreshed IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query refresh times: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("scan refresh times: %w", err)
	}
	return out, nil
}

func (p *Postgres) AppendJobRun(ctx context.Context, run model.JobRun) error {
	details := run.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO jobs_history (name, ts, ok, details) VALUES ($1, $2, $3, $4)`,
		run.Name, run.TS, run.OK, details)
	if err != nil {
		return fmt.Errorf("append job run %s: %w", run.Name, err)
	}
	return nil
}

func (p *Postgres) LastJobRuns(ctx context.Context) (map[string]time.Time, error) {
	rows, err := p.db.Query(ctx, `SELECT name, MAX(ts) FROM jobs_history GROUP BY name`)
	if err != nil {
		return nil, fmt.Errorf("query last job runs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			name string
			ts   time.Time
		)
		if err := rows.Scan(&name, &ts); err != nil {
			return nil, fmt.Errorf("scan last job run: %w", err)
		}
		out[name] = ts
	}
	return out, rows.Err()
}

func (p *Postgres) RecentJobRuns(ctx context.Context, limit int) ([]model.JobRun, error) {
	rows, err := p.db.Query(ctx, `
		SELECT name, ts, ok, details
		FROM jobs_history
		ORDER BY ts DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent job runs: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.JobRun, error) {
		var r model.JobRun
		err := row.Scan(&r.Name, &r.TS, &r.OK, &r.Details)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan recent job runs: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpsertTrend(ctx context.Context, t model.TypeTrend) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO type_trends (type_id, last_history_ts, mom_pct, vol_30d_avg, vol_prev30_avg)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (type_id) DO UPDATE SET
			last_history_ts = EXCLUDED.last_history_ts,
			mom_pct = EXCLUDED.mom_pct,
			vol_30d_avg = EXCLUDED.vol_30d_avg,
			vol_prev30_avg = EXCLUDED.vol_prev30_avg`,
		t.TypeID, t.LastHistoryTS, t.MomPct, t.Vol30dAvg, t.VolPrev30Avg)
	if err != nil {
		return fmt.Errorf("upsert trend %d: %w", t.TypeID, err)
	}
	return nil
}

func (p *Postgres) Trends(ctx context.Context) (map[int64]model.TypeTrend, error) {
	rows, err := p.db.Query(ctx, `
		SELECT type_id, last_history_ts, mom_pct, vol_30d_avg, vol_prev30_avg FROM type_trends`)
	if err != nil {
		return nil, fmt.Errorf("query trends: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]model.TypeTrend)
	for rows.Next() {
		var t model.TypeTrend
		if err := rows.Scan(&t.TypeID, &t.LastHistoryTS, &t.MomPct, &t.Vol30dAvg, &t.VolPrev30Avg); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		out[t.TypeID] = t
	}
	return out, rows.Err()
}

func (p *Postgres) LatestSnapshots(ctx context.Context, stationID int64) (map[int64]model.MarketSnapshot, error) {
	rows, err := p.db.Query(ctx, `
		SELECT DISTINCT ON (type_id)
			ts, type_id, station_id, best_bid, best_ask, bid_count, ask_count, bid_units, ask_units
		FROM market_snapshots
		WHERE station_id = $1
		ORDER BY type_id, ts DESC`, stationID)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]model.MarketSnapshot)
	for rows.Next() {
		var s model.MarketSnapshot
		if err := rows.Scan(&s.TS, &s.TypeID, &s.StationID, &s.BestBid, &s.BestAsk,
			&s.BidCount, &s.AskCount, &s.BidUnits, &s.AskUnits); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out[s.TypeID] = s
	}
	return out, rows.Err()
}

func (p *Postgres) RecentSnapshots(ctx context.Context, stationID int64, n int) (map[int64][]model.MarketSnapshot, error) {
	out := make(map[int64][]model.MarketSnapshot)
	if n <= 0 {
		return out, nil
	}

	rows, err := p.db.Query(ctx, `
		SELECT ts, type_id, station_id, best_bid, best_ask, bid_count, ask_count, bid_units, ask_units
		FROM (
			SELECT *, row_number() OVER (PARTITION BY type_id ORDER BY ts DESC) AS rn
			FROM market_snapshots
			WHERE station_id = $1
		) recent
		WHERE rn <= $2
		ORDER BY type_id, ts DESC`, stationID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s model.MarketSnapshot
		if err := rows.Scan(&s.TS, &s.TypeID, &s.StationID, &s.BestBid, &s.BestAsk,
			&s.BidCount, &s.AskCount, &s.BidUnits, &s.AskUnits); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out[s.TypeID] = append(out[s.TypeID], s)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertValuations(ctx context.Context, vals []model.Valuation) error {
	if len(vals) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, v := range vals {
		batch.Queue(`
			INSERT INTO type_valuations (type_id, quicksell_bid, mark_ask, updated)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (type_id) DO UPDATE SET
				quicksell_bid = EXCLUDED.quicksell_bid,
				mark_ask = EXCLUDED.mark_ask,
				updated = EXCLUDED.updated`,
			v.TypeID, v.QuicksellBid, v.MarkAsk, v.Updated)
	}

	results := p.db.SendBatch(ctx, batch)
	defer results.Close()

	for range vals {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert valuations: %w", err)
		}
	}
	return nil
}

func (p *Postgres) ReplaceRecommendations(ctx context.Context, recs []model.Recommendation) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recommendations`); err != nil {
			return fmt.Errorf("clear recommendations: %w", err)
		}
		for _, r := range recs {
			rationale := r.Rationale
			if rationale == nil {
				rationale = map[string]any{}
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO recommendations (type_id, station_id, ts, spread_pct, mom_pct, vol_30d, rationale)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				r.TypeID, r.StationID, r.TS, r.SpreadPct, r.MomPct, r.Vol30dAvg, rationale)
			if err != nil {
				return fmt.Errorf("insert recommendation %d: %w", r.TypeID, err)
			}
		}
		return nil
	})
}

func (p *Postgres) SaveJobSettings(ctx context.Context, settings []model.JobSetting) error {
	if len(settings) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		for _, set := range settings {
			_, err := tx.Exec(ctx, `
				INSERT INTO scheduler_settings (name, enabled, interval_minutes, cron, priority, updated)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (name) DO UPDATE SET
					enabled = EXCLUDED.enabled,
					interval_minutes = EXCLUDED.interval_minutes,
					cron = EXCLUDED.cron,
					priority = EXCLUDED.priority,
					updated = EXCLUDED.updated`,
				set.Name, set.Enabled, set.IntervalMinutes, set.Cron, set.Priority, set.Updated)
			if err != nil {
				return fmt.Errorf("save job setting %s: %w", set.Name, err)
			}
		}
		return nil
	})
}

func (p *Postgres) JobSettings(ctx context.Context) (map[string]model.JobSetting, error) {
	rows, err := p.db.Query(ctx, `
		SELECT name, enabled, interval_minutes, cron, priority, updated FROM scheduler_settings`)
	if err != nil {
		return nil, fmt.Errorf("query job settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.JobSetting)
	for rows.Next() {
		var set model.JobSetting
		if err := rows.Scan(&set.Name, &set.Enabled, &set.IntervalMinutes, &set.Cron, &set.Priority, &set.Updated); err != nil {
			return nil, fmt.Errorf("scan job setting: %w", err)
		}
		out[set.Name] = set
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
