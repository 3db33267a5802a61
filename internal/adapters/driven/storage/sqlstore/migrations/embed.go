// Package migrations embeds SQL migration files for the warehouse, one
// directory per dialect.
package migrations

import "embed"

// FS contains all SQL migration files embedded at compile time.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
