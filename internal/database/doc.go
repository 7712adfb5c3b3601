// Package database manages the PostgreSQL connection pool and schema.
//
// Tables:
//   - tracked_types: refresh tier and schedule per market type
//   - market_snapshots: append-only best bid/ask observations
//   - jobs_history: one row per job execution
//   - type_trends, type_valuations, recommendations: derived data
package database
