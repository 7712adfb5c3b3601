// Package model defines shared data types used across the market ingestion service.
//
// All types mirror the database schema created by internal/database.
//
// Conventions:
//   - Entities are market type ids (int64), venues are station ids (int64)
//   - Prices: decimal.Decimal (ISK), never float
//   - Timestamps: time.Time in UTC
package model
