package domain

import "time"

// VersionedEntity names a master entity kept under SCD2 discipline.
type VersionedEntity string

// Versioned entities.
const (
	EntityOrganization VersionedEntity = "organization"
	EntityGlobalUser   VersionedEntity = "global_user"
	EntityProject      VersionedEntity = "project"
)

// Version is one row of a versioned entity.
type Version struct {
	RowID         int64
	ID            string
	SyncVersion   int
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	IsCurrent     bool

	// Values holds the versioned attributes keyed by column name.
	Values map[string]any
}

// Organization is the current version of an organization.
type Organization struct {
	ID          string
	Name        string
	SyncVersion int
}

// Project is the current version of a tracked project.
type Project struct {
	ID             string
	Source         string
	ExternalID     string
	Name           string
	OrganizationID string
	LastActivityAt *time.Time
	SyncVersion    int
}

// ProjectID returns the stable project id for a source entity.
func ProjectID(source, entityID string) string {
	return source + ":" + entityID
}

// VersionSchema describes the table behind a versioned entity.
// Every table has id, sync_version, effective_from, effective_to and
// is_current columns; Columns lists the remaining attributes.
type VersionSchema struct {
	Entity  VersionedEntity
	Table   string
	Columns []string
}

// HasColumn returns true if name is an attribute column of the schema.
func (s VersionSchema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return name == "id"
}

// VersionSchemas lists the versioned entities and their attribute columns.
var VersionSchemas = map[VersionedEntity]VersionSchema{
	EntityOrganization: {
		Entity:  EntityOrganization,
		Table:   "organizations",
		Columns: []string{"name"},
	},
	EntityGlobalUser: {
		Entity:  EntityGlobalUser,
		Table:   "global_users",
		Columns: []string{"display_name", "primary_email", "username", "employee_id", "status", "merged_into"},
	},
	EntityProject: {
		Entity:  EntityProject,
		Table:   "projects",
		Columns: []string{"source", "external_id", "name", "organization_id", "last_activity_at"},
	},
}
