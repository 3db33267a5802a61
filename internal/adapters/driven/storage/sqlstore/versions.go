package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// Versioned rows are addressed generically through a domain.VersionSchema.
// Table and column names are only ever taken from the schema, never from
// caller-supplied values, after checkColumns has validated match keys.

// CurrentVersion returns the current row matching every criterion.
func (w *warehouse) CurrentVersion(ctx context.Context, schema domain.VersionSchema, match map[string]any) (*domain.Version, error) {
	if err := checkColumns(schema, match); err != nil {
		return nil, err
	}

	keys := sortedKeys(match)
	where := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		where = append(where, k+" = ?")
		args = append(args, match[k])
	}
	where = append(where, "is_current = 1")

	cols := append([]string{"row_id", "id", "sync_version", "effective_from", "effective_to", "is_current"}, schema.Columns...)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), schema.Table, strings.Join(where, " AND "))

	var v domain.Version
	var from string
	var to sql.NullString
	var current int
	values := make([]sql.NullString, len(schema.Columns))
	dest := []any{&v.RowID, &v.ID, &v.SyncVersion, &from, &to, &current}
	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := w.queryRow(ctx, query, args...).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("querying current %s: %w", schema.Entity, err)
	}

	v.EffectiveFrom = parseTime(from)
	v.EffectiveTo = parseTimePtr(to)
	v.IsCurrent = current == 1
	v.Values = make(map[string]any, len(schema.Columns))
	for i, col := range schema.Columns {
		if values[i].Valid {
			v.Values[col] = values[i].String
		} else {
			v.Values[col] = nil
		}
	}
	return &v, nil
}

// CloseVersion ends a current row's validity.
func (w *warehouse) CloseVersion(ctx context.Context, schema domain.VersionSchema, rowID int64, at time.Time) error {
	res, err := w.exec(ctx, fmt.Sprintf(
		"UPDATE %s SET effective_to = ?, is_current = 0 WHERE row_id = ? AND is_current = 1", schema.Table),
		formatTime(at), rowID)
	if err != nil {
		return fmt.Errorf("closing %s version: %w", schema.Entity, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("closing %s row %d: %w", schema.Entity, rowID, domain.ErrNoCurrentVersion)
	}
	return nil
}

// InsertVersion inserts v as a new row.
func (w *warehouse) InsertVersion(ctx context.Context, schema domain.VersionSchema, v *domain.Version) error {
	if err := checkColumns(schema, v.Values); err != nil {
		return err
	}

	cols := []string{"id", "sync_version", "effective_from", "effective_to", "is_current"}
	args := []any{v.ID, v.SyncVersion, formatTime(v.EffectiveFrom), formatTimePtr(v.EffectiveTo), boolToInt(v.IsCurrent)}
	for _, col := range schema.Columns {
		val, ok := v.Values[col]
		if !ok {
			continue
		}
		cols = append(cols, col)
		args = append(args, columnValue(val))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING row_id", schema.Table, strings.Join(cols, ", "), placeholders)
	if err := w.queryRow(ctx, query, args...).Scan(&v.RowID); err != nil {
		return fmt.Errorf("inserting %s version: %w", schema.Entity, err)
	}
	return nil
}

// ListVersions returns every row of an entity id, oldest first.
func (s *Store) ListVersions(ctx context.Context, schema domain.VersionSchema, id string) ([]domain.Version, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(fmt.Sprintf(
		"SELECT row_id, id, sync_version, effective_from, effective_to, is_current FROM %s WHERE id = ? ORDER BY sync_version",
		schema.Table)), id)
	if err != nil {
		return nil, fmt.Errorf("querying %s versions: %w", schema.Entity, err)
	}
	defer rows.Close()

	var versions []domain.Version //nolint:prealloc // size unknown from query
	for rows.Next() {
		var v domain.Version
		var from string
		var to sql.NullString
		var current int
		if err := rows.Scan(&v.RowID, &v.ID, &v.SyncVersion, &from, &to, &current); err != nil {
			return nil, fmt.Errorf("scanning %s version: %w", schema.Entity, err)
		}
		v.EffectiveFrom = parseTime(from)
		v.EffectiveTo = parseTimePtr(to)
		v.IsCurrent = current == 1
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s versions: %w", schema.Entity, err)
	}
	return versions, nil
}

func checkColumns(schema domain.VersionSchema, values map[string]any) error {
	for k := range values {
		if !schema.HasColumn(k) {
			return fmt.Errorf("%w: %s has no column %q", domain.ErrInvalidInput, schema.Table, k)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// columnValue converts attribute values into driver arguments.
func columnValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatNullableTime(t)
	case *time.Time:
		return formatTimePtr(t)
	default:
		return v
	}
}
