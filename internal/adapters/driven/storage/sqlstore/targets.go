package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

const targetColumns = `id, source, entity_id, name, organization, status, interval_seconds,
	last_synced_at, watermark, last_error, enabled, updated_at`

// RegisterTarget creates a target or refreshes its configuration while
// keeping its scheduling state. A disabled target is enabled again.
func (s *Store) RegisterTarget(ctx context.Context, t *domain.SyncTarget) error {
	if t == nil || t.Source == "" || t.EntityID == "" {
		return domain.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO sync_targets (source, entity_id, name, organization, status, interval_seconds, last_error, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', 1, ?)
		ON CONFLICT (source, entity_id) DO UPDATE SET
			name = excluded.name,
			organization = excluded.organization,
			interval_seconds = excluded.interval_seconds,
			enabled = 1,
			updated_at = excluded.updated_at
	`), t.Source, t.EntityID, t.Name, t.Organization, string(domain.StatusNeverSynced),
		int64(t.Interval.Seconds()), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("registering target %s: %w", t.Key(), err)
	}
	return nil
}

// GetTarget returns a target.
func (s *Store) GetTarget(ctx context.Context, source, entityID string) (*domain.SyncTarget, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind("SELECT "+targetColumns+`
		FROM sync_targets WHERE source = ? AND entity_id = ?
	`), source, entityID)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("target %s/%s: %w", source, entityID, domain.ErrNotFound)
	}
	return t, err
}

// ListTargets returns all targets ordered by source and entity.
func (s *Store) ListTargets(ctx context.Context) ([]domain.SyncTarget, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+targetColumns+" FROM sync_targets ORDER BY source, entity_id")
	if err != nil {
		return nil, fmt.Errorf("querying targets: %w", err)
	}
	defer rows.Close()

	var targets []domain.SyncTarget //nolint:prealloc // size unknown from query
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating targets: %w", err)
	}
	return targets, nil
}

// DisableTarget marks a target as no longer configured.
func (s *Store) DisableTarget(ctx context.Context, source, entityID string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE sync_targets SET enabled = 0, updated_at = ? WHERE source = ? AND entity_id = ?
	`), formatTime(time.Now()), source, entityID)
	if err != nil {
		return fmt.Errorf("disabling target %s/%s: %w", source, entityID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("target %s/%s: %w", source, entityID, domain.ErrNotFound)
	}
	return nil
}

// ClaimTarget moves an enabled target to QUEUED unless it is QUEUED or
// SYNCING. The status check and the update are one statement, so two
// claimers can never both win.
func (s *Store) ClaimTarget(ctx context.Context, source, entityID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE sync_targets SET status = ?, updated_at = ?
		WHERE source = ? AND entity_id = ? AND enabled = 1 AND status NOT IN (?, ?)
	`), string(domain.StatusQueued), formatTime(time.Now()), source, entityID,
		string(domain.StatusQueued), string(domain.StatusSyncing))
	if err != nil {
		return false, fmt.Errorf("claiming target %s/%s: %w", source, entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming target %s/%s: %w", source, entityID, err)
	}
	return n == 1, nil
}

// MarkSyncing moves a target to SYNCING.
func (s *Store) MarkSyncing(ctx context.Context, source, entityID string) error {
	return s.setTargetStatus(ctx, source, entityID, domain.StatusSyncing)
}

// MarkSuccess records a successful sync.
func (s *Store) MarkSuccess(ctx context.Context, source, entityID string, watermark, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE sync_targets
		SET status = ?, watermark = ?, last_synced_at = ?, last_error = '', updated_at = ?
		WHERE source = ? AND entity_id = ?
	`), string(domain.StatusSuccess), formatTime(watermark), formatTime(finishedAt), formatTime(time.Now()),
		source, entityID)
	if err != nil {
		return fmt.Errorf("marking target %s/%s successful: %w", source, entityID, err)
	}
	return nil
}

// MarkFailed records a failed sync, keeping the previous watermark.
func (s *Store) MarkFailed(ctx context.Context, source, entityID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE sync_targets SET status = ?, last_error = ?, updated_at = ?
		WHERE source = ? AND entity_id = ?
	`), string(domain.StatusFailed), errMsg, formatTime(time.Now()), source, entityID)
	if err != nil {
		return fmt.Errorf("marking target %s/%s failed: %w", source, entityID, err)
	}
	return nil
}

// ResetStale moves QUEUED and SYNCING targets to FAILED.
func (s *Store) ResetStale(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE sync_targets SET status = ?, last_error = ?, updated_at = ?
		WHERE status IN (?, ?)
	`), string(domain.StatusFailed), "interrupted", formatTime(time.Now()),
		string(domain.StatusQueued), string(domain.StatusSyncing))
	if err != nil {
		return 0, fmt.Errorf("resetting stale targets: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) setTargetStatus(ctx context.Context, source, entityID string, status domain.SyncStatus) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE sync_targets SET status = ?, updated_at = ? WHERE source = ? AND entity_id = ?
	`), string(status), formatTime(time.Now()), source, entityID)
	if err != nil {
		return fmt.Errorf("setting target %s/%s to %s: %w", source, entityID, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("target %s/%s: %w", source, entityID, domain.ErrNotFound)
	}
	return nil
}

func scanTarget(row scanner) (*domain.SyncTarget, error) {
	var t domain.SyncTarget
	var status, updated string
	var intervalSeconds, enabled int64
	var lastSynced, watermark sql.NullString
	if err := row.Scan(&t.ID, &t.Source, &t.EntityID, &t.Name, &t.Organization, &status, &intervalSeconds,
		&lastSynced, &watermark, &t.LastError, &enabled, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning target: %w", err)
	}
	t.Status = domain.SyncStatus(status)
	t.Interval = time.Duration(intervalSeconds) * time.Second
	t.Enabled = enabled != 0
	t.LastSyncedAt = parseTimePtr(lastSynced)
	t.Watermark = parseTimePtr(watermark)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}
