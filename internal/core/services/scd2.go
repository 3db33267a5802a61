package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// VersionService performs close-and-insert updates on versioned master
// entities (organizations, global users, projects).
type VersionService struct {
	uow driven.UnitOfWork
	now func() time.Time
}

// NewVersionService creates a version service.
func NewVersionService(uow driven.UnitOfWork) *VersionService {
	return &VersionService{uow: uow, now: time.Now}
}

// CloseCurrentAndInsertNew closes the current row matching match and
// inserts a new current row carrying the old values overlaid by values.
// Returns the new sync_version. Fails with domain.ErrNoCurrentVersion if no
// current row matches; the first row must be created with EnsureInitial.
func (s *VersionService) CloseCurrentAndInsertNew(ctx context.Context, entity domain.VersionedEntity, match, values map[string]any) (int, error) {
	var version int
	err := s.uow.WithinTx(ctx, func(ctx context.Context, w driven.Warehouse) error {
		var err error
		version, err = s.CloseCurrentAndInsertNewIn(ctx, w, entity, match, values)
		return err
	})
	return version, err
}

// CloseCurrentAndInsertNewIn is CloseCurrentAndInsertNew inside the
// caller's transaction.
func (s *VersionService) CloseCurrentAndInsertNewIn(ctx context.Context, w driven.VersionRepository, entity domain.VersionedEntity, match, values map[string]any) (int, error) {
	schema, err := schemaFor(entity)
	if err != nil {
		return 0, err
	}
	if len(match) == 0 {
		return 0, fmt.Errorf("%w: %s update without match criteria", domain.ErrInvalidInput, entity)
	}
	if err := validateColumns(schema, match, true); err != nil {
		return 0, err
	}
	if err := validateColumns(schema, values, false); err != nil {
		return 0, err
	}

	cur, err := w.CurrentVersion(ctx, schema, match)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("%s %s: %w", entity, describeMatch(match), domain.ErrNoCurrentVersion)
	}
	if err != nil {
		return 0, err
	}

	now := s.now()
	if err := w.CloseVersion(ctx, schema, cur.RowID, now); err != nil {
		return 0, err
	}

	merged := make(map[string]any, len(cur.Values)+len(values))
	for k, v := range cur.Values {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}

	next := &domain.Version{
		ID:            cur.ID,
		SyncVersion:   cur.SyncVersion + 1,
		EffectiveFrom: now,
		IsCurrent:     true,
		Values:        merged,
	}
	if err := w.InsertVersion(ctx, schema, next); err != nil {
		return 0, err
	}
	return next.SyncVersion, nil
}

// EnsureInitial inserts version 1 of an entity unless a current row exists.
// Returns the current version and whether it was created.
func (s *VersionService) EnsureInitial(ctx context.Context, w driven.VersionRepository, entity domain.VersionedEntity, id string, values map[string]any) (*domain.Version, bool, error) {
	schema, err := schemaFor(entity)
	if err != nil {
		return nil, false, err
	}
	if err := validateColumns(schema, values, false); err != nil {
		return nil, false, err
	}

	cur, err := w.CurrentVersion(ctx, schema, map[string]any{"id": id})
	if err == nil {
		return cur, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	v := &domain.Version{
		ID:            id,
		SyncVersion:   1,
		EffectiveFrom: s.now(),
		IsCurrent:     true,
		Values:        values,
	}
	if err := w.InsertVersion(ctx, schema, v); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// EnsureProject makes sure the organization and project rows of a target
// exist and reflect its configured name and organization. A changed name or
// organization creates a new version.
func (s *VersionService) EnsureProject(ctx context.Context, target domain.SyncTarget) (*domain.Project, error) {
	var project *domain.Project
	err := s.uow.WithinTx(ctx, func(ctx context.Context, w driven.Warehouse) error {
		orgID := ""
		if target.Organization != "" {
			orgID = slugify(target.Organization)
			org, created, err := s.EnsureInitial(ctx, w, domain.EntityOrganization, orgID,
				map[string]any{"name": target.Organization})
			if err != nil {
				return fmt.Errorf("ensure organization %s: %w", orgID, err)
			}
			if !created && stringValue(org.Values["name"]) != target.Organization {
				if _, err := s.CloseCurrentAndInsertNewIn(ctx, w, domain.EntityOrganization,
					map[string]any{"id": orgID}, map[string]any{"name": target.Organization}); err != nil {
					return fmt.Errorf("version organization %s: %w", orgID, err)
				}
			}
		}

		name := target.Name
		if name == "" {
			name = target.EntityID
		}
		id := domain.ProjectID(target.Source, target.EntityID)
		values := map[string]any{
			"source":          target.Source,
			"external_id":     target.EntityID,
			"name":            name,
			"organization_id": orgID,
		}

		cur, created, err := s.EnsureInitial(ctx, w, domain.EntityProject, id, values)
		if err != nil {
			return fmt.Errorf("ensure project %s: %w", id, err)
		}
		version := cur.SyncVersion
		if !created && (stringValue(cur.Values["name"]) != name || stringValue(cur.Values["organization_id"]) != orgID) {
			version, err = s.CloseCurrentAndInsertNewIn(ctx, w, domain.EntityProject, map[string]any{"id": id},
				map[string]any{"name": name, "organization_id": orgID})
			if err != nil {
				return fmt.Errorf("version project %s: %w", id, err)
			}
		}

		project = &domain.Project{
			ID:             id,
			Source:         target.Source,
			ExternalID:     target.EntityID,
			Name:           name,
			OrganizationID: orgID,
			SyncVersion:    version,
		}
		if last := stringValue(cur.Values["last_activity_at"]); last != "" {
			if t, err := time.Parse(time.RFC3339Nano, last); err == nil {
				project.LastActivityAt = &t
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

func schemaFor(entity domain.VersionedEntity) (domain.VersionSchema, error) {
	schema, ok := domain.VersionSchemas[entity]
	if !ok {
		return domain.VersionSchema{}, fmt.Errorf("%w: versioned entity %q", domain.ErrUnsupportedType, entity)
	}
	return schema, nil
}

func validateColumns(schema domain.VersionSchema, values map[string]any, allowID bool) error {
	for k := range values {
		if k == "id" && !allowID {
			return fmt.Errorf("%w: %s id is not versioned", domain.ErrInvalidInput, schema.Entity)
		}
		if !schema.HasColumn(k) {
			return fmt.Errorf("%w: %s has no column %q", domain.ErrInvalidInput, schema.Entity, k)
		}
	}
	return nil
}

func describeMatch(match map[string]any) string {
	parts := make([]string, 0, len(match))
	for k, v := range match {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// slugify lower-cases s and joins its words with dashes.
func slugify(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return strings.Join(fields, "-")
}
