package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// StagingRepository appends raw payloads to the staging log. It never updates.
type StagingRepository interface {
	AppendStaging(ctx context.Context, records []domain.RawRecord) error
}

// EntityRepository upserts normalised rows by natural key.
// Re-upserting identical values only changes updated_at.
type EntityRepository interface {
	UpsertCommit(ctx context.Context, c *domain.Commit) error
	UpsertIssue(ctx context.Context, i *domain.Issue) error
	UpsertMergeRequest(ctx context.Context, mr *domain.MergeRequest) error
	UpsertPipeline(ctx context.Context, p *domain.Pipeline) error
	UpsertDeployment(ctx context.Context, d *domain.Deployment) error
	UpsertTag(ctx context.Context, t *domain.Tag) error
	UpsertBranch(ctx context.Context, b *domain.Branch) error
	UpsertPackage(ctx context.Context, p *domain.Package) error

	// SetIssueSource sets a merge request's issue_source only if it is empty.
	// Returns true if the row was changed.
	SetIssueSource(ctx context.Context, source, projectID, externalID, issueSource string) (bool, error)

	// TouchProjectActivity moves the current project row's last_activity_at
	// forward to at. It never moves it backwards.
	TouchProjectActivity(ctx context.Context, projectID string, at time.Time) error
}

// IdentityReader loads everything the resolver's match index is built from.
type IdentityReader interface {
	// ListMappings returns every identity mapping.
	ListMappings(ctx context.Context) ([]domain.IdentityMapping, error)

	// ListCurrentUsers returns the current version of every global user.
	ListCurrentUsers(ctx context.Context) ([]domain.GlobalUser, error)
}

// IdentityRepository reads and writes identity mappings and global users.
type IdentityRepository interface {
	IdentityReader

	// GetMapping returns the mapping for an external account.
	// Returns domain.ErrNotFound if none exists.
	GetMapping(ctx context.Context, sourceSystem, externalUserID string) (*domain.IdentityMapping, error)

	// EnsureMapping inserts m unless (source_system, external_user_id) exists.
	// Returns the stored mapping, which is the existing one on conflict.
	EnsureMapping(ctx context.Context, m *domain.IdentityMapping) (*domain.IdentityMapping, error)

	// UpdateMapping repoints and rescores an existing mapping by id.
	UpdateMapping(ctx context.Context, m *domain.IdentityMapping) error

	// InsertGlobalUser inserts the first version of a global user.
	InsertGlobalUser(ctx context.Context, u *domain.GlobalUser) error

	// CountMappings returns how many mappings point at a global user.
	CountMappings(ctx context.Context, globalUserID string) (int, error)

	// RecordConflict appends an ambiguous governance match.
	RecordConflict(ctx context.Context, c *domain.IdentityConflict) error
}

// LinkRepository stores traceability links.
type LinkRepository interface {
	// LinkExists reports whether a link with the same seven-column key exists.
	LinkExists(ctx context.Context, link *domain.TraceabilityLink) (bool, error)

	// InsertLink inserts link, doing nothing on a key conflict.
	// Returns true if a row was inserted.
	InsertLink(ctx context.Context, link *domain.TraceabilityLink) (bool, error)
}

// VersionRepository reads and writes SCD2 rows of versioned entities.
// Column names come from a validated domain.VersionSchema.
type VersionRepository interface {
	// CurrentVersion returns the current row matching all criteria.
	// Returns domain.ErrNotFound if there is none.
	CurrentVersion(ctx context.Context, schema domain.VersionSchema, match map[string]any) (*domain.Version, error)

	// CloseVersion ends a current row's validity at the given time.
	CloseVersion(ctx context.Context, schema domain.VersionSchema, rowID int64, at time.Time) error

	// InsertVersion inserts v as a new row and sets v.RowID.
	InsertVersion(ctx context.Context, schema domain.VersionSchema, v *domain.Version) error
}

// Warehouse is the set of repositories a batch handler writes through.
// A Warehouse handed out by UnitOfWork is bound to one transaction.
type Warehouse interface {
	StagingRepository
	EntityRepository
	IdentityRepository
	LinkRepository
	VersionRepository
}

// UnitOfWork runs a function inside a transaction.
type UnitOfWork interface {
	// WithinTx commits if fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, w Warehouse) error) error
}
