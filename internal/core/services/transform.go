package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/logger"
)

// TransformStats counts what a stage did with one batch.
// Partial counts upserted records whose side effects were skipped.
type TransformStats struct {
	Upserted   int
	Partial    int
	Malformed  int
	Skipped    int
	Links      int
	Identities int
}

// Add accumulates other into s.
func (s *TransformStats) Add(other TransformStats) {
	s.Upserted += other.Upserted
	s.Partial += other.Partial
	s.Malformed += other.Malformed
	s.Skipped += other.Skipped
	s.Links += other.Links
	s.Identities += other.Identities
}

// TransformStage decodes one entity kind from staged payloads and upserts
// it into the warehouse, together with its identity and lineage side
// effects.
type TransformStage interface {
	// Kind returns the entity kind this stage handles.
	Kind() domain.EntityKind

	// Upsert writes every record of the batch through w. Malformed payloads
	// are logged and skipped. Partial payloads keep their base row but skip
	// identity resolution, lineage and activity. Any other failure aborts
	// the batch.
	Upsert(ctx context.Context, w driven.Warehouse, project *domain.Project, batch []domain.RawRecord) (TransformStats, error)
}

// transformDeps is shared by the stages of one sync task.
type transformDeps struct {
	norm     driven.Normaliser
	resolver *IdentityResolver
	links    *TraceabilityExtractor
}

// NewTransformStage returns the stage for kind.
func NewTransformStage(kind domain.EntityKind, norm driven.Normaliser, resolver *IdentityResolver, links *TraceabilityExtractor) (TransformStage, error) {
	d := &transformDeps{norm: norm, resolver: resolver, links: links}

	switch kind {
	case domain.KindCommit:
		return &stage[domain.Commit]{kind: kind, deps: d, decode: norm.Commit, apply: d.applyCommit}, nil
	case domain.KindIssue:
		return &stage[domain.Issue]{kind: kind, deps: d, decode: norm.Issue, apply: d.applyIssue}, nil
	case domain.KindMergeRequest:
		return &stage[domain.MergeRequest]{kind: kind, deps: d, decode: norm.MergeRequest, apply: d.applyMergeRequest}, nil
	case domain.KindPipeline:
		return &stage[domain.Pipeline]{kind: kind, deps: d, decode: norm.Pipeline, apply: d.applyPipeline}, nil
	case domain.KindDeployment:
		return &stage[domain.Deployment]{kind: kind, deps: d, decode: norm.Deployment, apply: d.applyDeployment}, nil
	case domain.KindTag:
		return &stage[domain.Tag]{kind: kind, deps: d, decode: norm.Tag, apply: d.applyTag}, nil
	case domain.KindBranch:
		return &stage[domain.Branch]{kind: kind, deps: d, decode: norm.Branch, apply: d.applyBranch}, nil
	case domain.KindPackage:
		return &stage[domain.Package]{kind: kind, deps: d, decode: norm.Package, apply: d.applyPackage}, nil
	default:
		return nil, fmt.Errorf("%w: entity kind %q", domain.ErrUnsupportedType, kind)
	}
}

// stage runs decode and apply for every record of its kind.
type stage[T any] struct {
	kind   domain.EntityKind
	deps   *transformDeps
	decode func(rec domain.RawRecord, project *domain.Project) (*T, error)
	apply  func(ctx context.Context, w driven.Warehouse, project *domain.Project, entity *T, rs *recordScope) error
}

// recordScope carries the per-record state of an apply call.
type recordScope struct {
	stats *TransformStats

	// bare is set for partial payloads: only the base row is written.
	bare bool
}

func (s *stage[T]) Kind() domain.EntityKind {
	return s.kind
}

func (s *stage[T]) Upsert(ctx context.Context, w driven.Warehouse, project *domain.Project, batch []domain.RawRecord) (TransformStats, error) {
	var stats TransformStats
	for _, rec := range batch {
		if rec.Kind != s.kind {
			stats.Skipped++
			continue
		}

		rs := &recordScope{stats: &stats}
		entity, err := s.decode(rec, project)
		switch {
		case err == nil:
		case entity != nil && errors.Is(err, domain.ErrPartialPayload):
			logger.Warn("partial payload, writing base row only",
				"source", rec.Source,
				"kind", rec.Kind,
				"external_id", rec.ExternalID,
				"error", err)
			rs.bare = true
		case errors.Is(err, domain.ErrMalformedPayload):
			logger.Warn("skipping malformed payload",
				"source", rec.Source,
				"kind", rec.Kind,
				"external_id", rec.ExternalID,
				"error", err)
			stats.Malformed++
			continue
		default:
			return stats, fmt.Errorf("decode %s %s: %w", rec.Kind, rec.ExternalID, err)
		}

		if err := s.apply(ctx, w, project, entity, rs); err != nil {
			return stats, fmt.Errorf("upsert %s %s: %w", rec.Kind, rec.ExternalID, err)
		}
		stats.Upserted++
		if rs.bare {
			stats.Partial++
		}
	}
	return stats, nil
}

// resolveActor returns the global user id of ref, or "" if ref carries no
// usable identifier or the record is bare.
func (d *transformDeps) resolveActor(ctx context.Context, w driven.Warehouse, role string, ref domain.ActorRef, rs *recordScope) (string, error) {
	if rs.bare {
		return "", nil
	}
	if ref.IsZero() {
		if ref.DisplayName != "" {
			logger.Warn("skipping actor without identifier",
				"source", d.norm.Source(),
				"role", role,
				"display_name", ref.DisplayName)
		}
		return "", nil
	}

	res, err := d.resolver.Resolve(ctx, w, d.norm.Source(), ref)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", role, err)
	}
	if res.Created {
		rs.stats.Identities++
	}
	return res.GlobalUserID, nil
}

// recordLinks extracts references from texts and links them to artifact.
// Returns the references found. Bare records record nothing.
func (d *transformDeps) recordLinks(ctx context.Context, w driven.Warehouse, project *domain.Project, artifact domain.ArtifactRef, rs *recordScope, texts ...string) ([]domain.Reference, error) {
	if rs.bare {
		return nil, nil
	}
	refs := d.links.Extract(project.Source, project.ExternalID, texts...)
	if len(refs) == 0 {
		return nil, nil
	}
	n, err := d.links.Record(ctx, w, artifact, refs)
	if err != nil {
		return nil, err
	}
	rs.stats.Links += n
	return refs, nil
}

func (d *transformDeps) applyCommit(ctx context.Context, w driven.Warehouse, project *domain.Project, c *domain.Commit, rs *recordScope) error {
	c.Source, c.ProjectID = project.Source, project.ID

	var err error
	if c.AuthorID, err = d.resolveActor(ctx, w, "author", c.Author, rs); err != nil {
		return err
	}
	if err := w.UpsertCommit(ctx, c); err != nil {
		return err
	}

	artifact := domain.ArtifactRef{System: project.Source, Type: domain.ArtifactCommit, ID: c.SHA}
	if _, err := d.recordLinks(ctx, w, project, artifact, rs, c.Message); err != nil {
		return err
	}

	if rs.bare {
		return nil
	}
	at := c.CommittedAt
	if at.IsZero() {
		at = c.AuthoredAt
	}
	if at.IsZero() {
		return nil
	}
	return w.TouchProjectActivity(ctx, project.ID, at)
}

func (d *transformDeps) applyIssue(ctx context.Context, w driven.Warehouse, project *domain.Project, i *domain.Issue, rs *recordScope) error {
	i.Source, i.ProjectID = project.Source, project.ID

	var err error
	if i.AuthorID, err = d.resolveActor(ctx, w, "author", i.Author, rs); err != nil {
		return err
	}
	if i.AssigneeID, err = d.resolveActor(ctx, w, "assignee", i.Assignee, rs); err != nil {
		return err
	}
	return w.UpsertIssue(ctx, i)
}

func (d *transformDeps) applyMergeRequest(ctx context.Context, w driven.Warehouse, project *domain.Project, mr *domain.MergeRequest, rs *recordScope) error {
	mr.Source, mr.ProjectID = project.Source, project.ID

	var err error
	if mr.AuthorID, err = d.resolveActor(ctx, w, "author", mr.Author, rs); err != nil {
		return err
	}
	if mr.MergedByID, err = d.resolveActor(ctx, w, "merged_by", mr.MergedBy, rs); err != nil {
		return err
	}
	if err := w.UpsertMergeRequest(ctx, mr); err != nil {
		return err
	}

	id := mr.Key
	if id == "" {
		id = mr.ExternalID
	}
	artifact := domain.ArtifactRef{System: project.Source, Type: domain.ArtifactMergeRequest, ID: id}
	refs, err := d.recordLinks(ctx, w, project, artifact, rs, mr.Title, mr.Description)
	if err != nil {
		return err
	}

	if source := IssueSource(refs); source != "" {
		if _, err := w.SetIssueSource(ctx, project.Source, project.ID, mr.ExternalID, source); err != nil {
			return err
		}
	}
	return nil
}

func (d *transformDeps) applyPipeline(ctx context.Context, w driven.Warehouse, project *domain.Project, p *domain.Pipeline, rs *recordScope) error {
	p.Source, p.ProjectID = project.Source, project.ID

	var err error
	if p.TriggerID, err = d.resolveActor(ctx, w, "trigger", p.Trigger, rs); err != nil {
		return err
	}
	return w.UpsertPipeline(ctx, p)
}

func (d *transformDeps) applyDeployment(ctx context.Context, w driven.Warehouse, project *domain.Project, dep *domain.Deployment, rs *recordScope) error {
	dep.Source, dep.ProjectID = project.Source, project.ID

	var err error
	if dep.DeployerID, err = d.resolveActor(ctx, w, "deployer", dep.Deployer, rs); err != nil {
		return err
	}
	return w.UpsertDeployment(ctx, dep)
}

func (d *transformDeps) applyTag(ctx context.Context, w driven.Warehouse, project *domain.Project, t *domain.Tag, _ *recordScope) error {
	t.Source, t.ProjectID = project.Source, project.ID
	return w.UpsertTag(ctx, t)
}

func (d *transformDeps) applyBranch(ctx context.Context, w driven.Warehouse, project *domain.Project, b *domain.Branch, _ *recordScope) error {
	b.Source, b.ProjectID = project.Source, project.ID
	return w.UpsertBranch(ctx, b)
}

func (d *transformDeps) applyPackage(ctx context.Context, w driven.Warehouse, project *domain.Project, p *domain.Package, _ *recordScope) error {
	p.Source, p.ProjectID = project.Source, project.ID
	return w.UpsertPackage(ctx, p)
}
