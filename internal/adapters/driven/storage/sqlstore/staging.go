package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// AppendStaging inserts one row per record. Staging rows are never updated.
func (w *warehouse) AppendStaging(ctx context.Context, records []domain.RawRecord) error {
	for i := range records {
		rec := &records[i]
		collected := rec.CollectedAt
		if collected.IsZero() {
			collected = time.Now()
		}
		_, err := w.exec(ctx, `
			INSERT INTO staging_records (source, entity_type, external_id, entity_id, payload, schema_version, collected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.Source, string(rec.Kind), rec.ExternalID, rec.EntityID, string(rec.Payload), rec.SchemaVersion,
			formatTime(collected))
		if err != nil {
			return fmt.Errorf("appending staging record %s/%s/%s: %w", rec.Source, rec.Kind, rec.ExternalID, err)
		}
	}
	return nil
}

// ReplayStaging returns up to limit rows of one tracked entity with
// id > afterID, in id order.
func (s *Store) ReplayStaging(ctx context.Context, source, entityID string, kind domain.EntityKind, afterID int64, limit int) ([]domain.StagingRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, source, entity_type, external_id, entity_id, payload, schema_version, collected_at
		FROM staging_records
		WHERE source = ? AND entity_id = ? AND entity_type = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`), source, entityID, string(kind), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying staging records: %w", err)
	}
	defer rows.Close()

	var records []domain.StagingRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		var rec domain.StagingRecord
		var kindStr, payload, collected string
		if err := rows.Scan(&rec.ID, &rec.Source, &kindStr, &rec.ExternalID, &rec.EntityID, &payload,
			&rec.SchemaVersion, &collected); err != nil {
			return nil, fmt.Errorf("scanning staging record: %w", err)
		}
		rec.Kind = domain.EntityKind(kindStr)
		rec.Payload = []byte(payload)
		rec.CollectedAt = parseTime(collected)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating staging records: %w", err)
	}
	return records, nil
}

// DeleteStagingBefore deletes staging rows collected before cutoff.
func (s *Store) DeleteStagingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		"DELETE FROM staging_records WHERE collected_at < ?"), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting staging records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted staging records: %w", err)
	}
	return n, nil
}

// CountStaging returns the number of staging rows for a source and kind.
// Empty arguments match everything.
func (s *Store) CountStaging(ctx context.Context, source string, kind domain.EntityKind) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT COUNT(*) FROM staging_records
		WHERE (? = '' OR source = ?) AND (? = '' OR entity_type = ?)
	`), source, source, string(kind), string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting staging records: %w", err)
	}
	return n, nil
}
