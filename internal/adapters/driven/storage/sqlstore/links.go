package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// LinkExists reports whether a link with the same key tuple exists.
func (w *warehouse) LinkExists(ctx context.Context, l *domain.TraceabilityLink) (bool, error) {
	var one int
	err := w.queryRow(ctx, `
		SELECT 1 FROM traceability_links
		WHERE source_system = ? AND source_type = ? AND source_id = ?
			AND target_system = ? AND target_type = ? AND target_id = ? AND link_type = ?
	`, l.SourceSystem, l.SourceType, l.SourceID, l.TargetSystem, l.TargetType, l.TargetID, string(l.LinkType)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking traceability link: %w", err)
	}
	return true, nil
}

// InsertLink inserts a link and does nothing if its key tuple exists.
func (w *warehouse) InsertLink(ctx context.Context, l *domain.TraceabilityLink) (bool, error) {
	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var id int64
	err := w.queryRow(ctx, `
		INSERT INTO traceability_links (source_system, source_type, source_id, target_system, target_type,
			target_id, link_type, raw_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_system, source_type, source_id, target_system, target_type, target_id, link_type)
		DO NOTHING
		RETURNING id
	`, l.SourceSystem, l.SourceType, l.SourceID, l.TargetSystem, l.TargetType, l.TargetID, string(l.LinkType),
		l.RawData, formatTime(created)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting traceability link: %w", err)
	}
	l.ID = id
	l.CreatedAt = created.UTC()
	return true, nil
}

// ListLinks returns links whose target is the given artifact. Empty
// arguments match every link.
func (s *Store) ListLinks(ctx context.Context, targetSystem, targetType, targetID string) ([]domain.TraceabilityLink, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, source_system, source_type, source_id, target_system, target_type, target_id, link_type,
			raw_data, created_at
		FROM traceability_links
		WHERE (? = '' OR target_system = ?) AND (? = '' OR target_type = ?) AND (? = '' OR target_id = ?)
		ORDER BY id
	`), targetSystem, targetSystem, targetType, targetType, targetID, targetID)
	if err != nil {
		return nil, fmt.Errorf("querying traceability links: %w", err)
	}
	defer rows.Close()

	var links []domain.TraceabilityLink //nolint:prealloc // size unknown from query
	for rows.Next() {
		var l domain.TraceabilityLink
		var linkType, created string
		if err := rows.Scan(&l.ID, &l.SourceSystem, &l.SourceType, &l.SourceID, &l.TargetSystem, &l.TargetType,
			&l.TargetID, &linkType, &l.RawData, &created); err != nil {
			return nil, fmt.Errorf("scanning traceability link: %w", err)
		}
		l.LinkType = domain.LinkType(linkType)
		l.CreatedAt = parseTime(created)
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating traceability links: %w", err)
	}
	return links, nil
}
