// Package sqlstore implements the warehouse and engine state stores on SQL.
//
// Two dialects are supported: SQLite (modernc.org/sqlite, pure Go, the
// default) and PostgreSQL (pgx). Queries are written with ? placeholders
// and rebound for postgres. Timestamps are stored as fixed-width UTC text in
// both dialects.
//
// Versioned tables keep a partial unique index on (id) WHERE is_current = 1,
// so the database itself rejects a second current row.
package sqlstore
