package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

const mappingColumns = `id, global_user_id, source_system, external_user_id, external_username, external_email,
	display_name, mapping_status, confidence_score, created_at, updated_at`

const userColumns = `id, display_name, primary_email, username, employee_id, status, merged_into,
	sync_version, effective_from, effective_to, is_current`

// ListMappings returns every identity mapping.
func (w *warehouse) ListMappings(ctx context.Context) ([]domain.IdentityMapping, error) {
	rows, err := w.query(ctx, "SELECT "+mappingColumns+" FROM identity_mappings ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying identity mappings: %w", err)
	}
	defer rows.Close()

	var mappings []domain.IdentityMapping //nolint:prealloc // size unknown from query
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identity mappings: %w", err)
	}
	return mappings, nil
}

// ListCurrentUsers returns the current version of every global user.
func (w *warehouse) ListCurrentUsers(ctx context.Context) ([]domain.GlobalUser, error) {
	rows, err := w.query(ctx, "SELECT "+userColumns+" FROM global_users WHERE is_current = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying global users: %w", err)
	}
	defer rows.Close()

	var users []domain.GlobalUser //nolint:prealloc // size unknown from query
	for rows.Next() {
		var u domain.GlobalUser
		var status, from string
		var to sql.NullString
		var current int
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.PrimaryEmail, &u.Username, &u.EmployeeID, &status,
			&u.MergedInto, &u.SyncVersion, &from, &to, &current); err != nil {
			return nil, fmt.Errorf("scanning global user: %w", err)
		}
		u.Status = domain.UserStatus(status)
		u.EffectiveFrom = parseTime(from)
		u.EffectiveTo = parseTimePtr(to)
		u.IsCurrent = current == 1
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating global users: %w", err)
	}
	return users, nil
}

// GetMapping returns the mapping for an external account.
func (w *warehouse) GetMapping(ctx context.Context, sourceSystem, externalUserID string) (*domain.IdentityMapping, error) {
	row := w.queryRow(ctx, "SELECT "+mappingColumns+`
		FROM identity_mappings WHERE source_system = ? AND external_user_id = ?
	`, sourceSystem, externalUserID)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

// EnsureMapping inserts m unless (source_system, external_user_id) already
// exists and returns the stored mapping. Concurrent inserts of the same
// account converge on the first row written.
func (w *warehouse) EnsureMapping(ctx context.Context, m *domain.IdentityMapping) (*domain.IdentityMapping, error) {
	now := time.Now()
	var id int64
	err := w.queryRow(ctx, `
		INSERT INTO identity_mappings (global_user_id, source_system, external_user_id, external_username,
			external_email, display_name, mapping_status, confidence_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_system, external_user_id) DO NOTHING
		RETURNING id
	`, m.GlobalUserID, m.SourceSystem, m.ExternalUserID, m.ExternalUsername, m.ExternalEmail,
		m.DisplayName, string(m.Status), m.Confidence, formatTime(now), formatTime(now)).Scan(&id)

	switch {
	case err == nil:
		stored := *m
		stored.ID = id
		stored.CreatedAt = now.UTC()
		stored.UpdatedAt = now.UTC()
		return &stored, nil
	case errors.Is(err, sql.ErrNoRows):
		return w.GetMapping(ctx, m.SourceSystem, m.ExternalUserID)
	default:
		return nil, fmt.Errorf("inserting identity mapping %s/%s: %w", m.SourceSystem, m.ExternalUserID, err)
	}
}

// UpdateMapping repoints and rescores a mapping by id.
func (w *warehouse) UpdateMapping(ctx context.Context, m *domain.IdentityMapping) error {
	res, err := w.exec(ctx, `
		UPDATE identity_mappings
		SET global_user_id = ?, mapping_status = ?, confidence_score = ?, updated_at = ?
		WHERE id = ?
	`, m.GlobalUserID, string(m.Status), m.Confidence, formatTime(time.Now()), m.ID)
	if err != nil {
		return fmt.Errorf("updating identity mapping %d: %w", m.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("identity mapping %d: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// InsertGlobalUser inserts the first version of a global user.
func (w *warehouse) InsertGlobalUser(ctx context.Context, u *domain.GlobalUser) error {
	from := u.EffectiveFrom
	if from.IsZero() {
		from = time.Now()
	}
	version := u.SyncVersion
	if version == 0 {
		version = 1
	}
	status := u.Status
	if status == "" {
		status = domain.UserActive
	}

	_, err := w.exec(ctx, `
		INSERT INTO global_users (id, display_name, primary_email, username, employee_id, status, merged_into,
			sync_version, effective_from, effective_to, is_current)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 1)
	`, u.ID, u.DisplayName, u.PrimaryEmail, u.Username, u.EmployeeID, string(status), u.MergedInto,
		version, formatTime(from))
	if err != nil {
		return fmt.Errorf("inserting global user %s: %w", u.ID, err)
	}

	u.Status = status
	u.SyncVersion = version
	u.EffectiveFrom = from.UTC()
	u.IsCurrent = true
	return nil
}

// CountMappings returns how many mappings point at a global user.
func (w *warehouse) CountMappings(ctx context.Context, globalUserID string) (int, error) {
	var n int
	if err := w.queryRow(ctx, "SELECT COUNT(*) FROM identity_mappings WHERE global_user_id = ?",
		globalUserID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting identity mappings: %w", err)
	}
	return n, nil
}

// RecordConflict appends an ambiguous governance match.
func (w *warehouse) RecordConflict(ctx context.Context, c *domain.IdentityConflict) error {
	detected := c.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	_, err := w.exec(ctx, `
		INSERT INTO identity_conflicts (mapping_id, source_system, external_user_id, candidates, score, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.MappingID, c.SourceSystem, c.ExternalUserID, strings.Join(c.Candidates, ","), c.Score, formatTime(detected))
	if err != nil {
		return fmt.Errorf("recording identity conflict: %w", err)
	}
	return nil
}

// ListConflicts returns recorded identity conflicts, oldest first.
func (s *Store) ListConflicts(ctx context.Context) ([]domain.IdentityConflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mapping_id, source_system, external_user_id, candidates, score, detected_at
		FROM identity_conflicts ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying identity conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []domain.IdentityConflict //nolint:prealloc // size unknown from query
	for rows.Next() {
		var c domain.IdentityConflict
		var candidates, detected string
		if err := rows.Scan(&c.ID, &c.MappingID, &c.SourceSystem, &c.ExternalUserID, &candidates, &c.Score, &detected); err != nil {
			return nil, fmt.Errorf("scanning identity conflict: %w", err)
		}
		if candidates != "" {
			c.Candidates = strings.Split(candidates, ",")
		}
		c.DetectedAt = parseTime(detected)
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identity conflicts: %w", err)
	}
	return conflicts, nil
}

// ListMappings returns every identity mapping.
func (s *Store) ListMappings(ctx context.Context) ([]domain.IdentityMapping, error) {
	return s.Warehouse().ListMappings(ctx)
}

// ListCurrentUsers returns the current version of every global user.
func (s *Store) ListCurrentUsers(ctx context.Context) ([]domain.GlobalUser, error) {
	return s.Warehouse().ListCurrentUsers(ctx)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMapping(row scanner) (*domain.IdentityMapping, error) {
	var m domain.IdentityMapping
	var status, created, updated string
	if err := row.Scan(&m.ID, &m.GlobalUserID, &m.SourceSystem, &m.ExternalUserID, &m.ExternalUsername,
		&m.ExternalEmail, &m.DisplayName, &status, &m.Confidence, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning identity mapping: %w", err)
	}
	m.Status = domain.MappingStatus(status)
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)
	return &m, nil
}
