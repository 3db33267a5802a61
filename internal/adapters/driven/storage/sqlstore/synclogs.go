package sqlstore

import (
	"context"
	"fmt"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// AppendSyncLog inserts a sync log entry. Entries are never updated.
func (s *Store) AppendSyncLog(ctx context.Context, l *domain.SyncLog) error {
	if l == nil || l.ID == "" {
		return domain.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO sync_logs (id, source, entity_id, job_type, status, started_at, finished_at,
			records_processed, error_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), l.ID, l.Source, l.EntityID, string(l.JobType), string(l.Status), formatTime(l.StartedAt),
		formatTime(l.FinishedAt), l.RecordsProcessed, l.ErrorCount, l.Error)
	if err != nil {
		return fmt.Errorf("appending sync log: %w", err)
	}
	return nil
}

// ListSyncLogs returns recent logs, newest first.
func (s *Store) ListSyncLogs(ctx context.Context, source, entityID string, limit int) ([]domain.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, source, entity_id, job_type, status, started_at, finished_at, records_processed, error_count, error
		FROM sync_logs
		WHERE (? = '' OR source = ?) AND (? = '' OR entity_id = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`), source, source, entityID, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.SyncLog //nolint:prealloc // size unknown from query
	for rows.Next() {
		var l domain.SyncLog
		var jobType, status, started, finished string
		if err := rows.Scan(&l.ID, &l.Source, &l.EntityID, &jobType, &status, &started, &finished,
			&l.RecordsProcessed, &l.ErrorCount, &l.Error); err != nil {
			return nil, fmt.Errorf("scanning sync log: %w", err)
		}
		l.JobType = domain.JobType(jobType)
		l.Status = domain.SyncStatus(status)
		l.StartedAt = parseTime(started)
		l.FinishedAt = parseTime(finished)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync logs: %w", err)
	}
	return logs, nil
}
