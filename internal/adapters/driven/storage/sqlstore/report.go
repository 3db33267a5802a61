package sqlstore

import (
	"context"
	"fmt"
)

// reportTables are the tables summarised by CountEntities, in display order.
var reportTables = []string{
	"commits",
	"issues",
	"merge_requests",
	"pipelines",
	"deployments",
	"tags",
	"branches",
	"packages",
	"traceability_links",
	"identity_mappings",
	"staging_records",
}

// ReportTables returns the table names CountEntities reports on.
func ReportTables() []string {
	return append([]string(nil), reportTables...)
}

// CountEntities returns the row count of every warehouse table.
func (s *Store) CountEntities(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(reportTables))
	for _, table := range reportTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
