package gitlab

import (
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/normalisers"
)

// SourceTag is the source tag this normaliser handles.
const SourceTag = "gitlab"

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser decodes GitLab payloads.
type Normaliser struct{}

// New creates a GitLab normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Source returns the source tag.
func (n *Normaliser) Source() string {
	return SourceTag
}

// Commit decodes a repository commit.
func (n *Normaliser) Commit(rec domain.RawRecord, _ *domain.Project) (*domain.Commit, error) {
	var p commitPayload
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.ID == "" {
		return nil, normalisers.Missing(rec, "id")
	}

	title := p.Title
	if title == "" {
		title = normalisers.Title(p.Message)
	}
	c := &domain.Commit{
		SHA:         p.ID,
		Title:       title,
		Message:     p.Message,
		Author:      domain.ActorRef{DisplayName: p.AuthorName, Email: p.AuthorEmail},
		AuthoredAt:  p.AuthoredDate.UTC(),
		CommittedAt: p.CommittedDate.UTC(),
		WebURL:      p.WebURL,
	}
	if p.Stats != nil {
		c.Additions, c.Deletions = p.Stats.Additions, p.Stats.Deletions
	}
	return c, err
}

// Issue decodes a project issue.
func (n *Normaliser) Issue(rec domain.RawRecord, project *domain.Project) (*domain.Issue, error) {
	var p issuePayload
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.ID == 0 || p.IID == 0 {
		return nil, normalisers.Missing(rec, "id")
	}

	issueType := p.IssueType
	if issueType == "" {
		issueType = strings.ToLower(p.Type)
	}
	assignee := p.Assignee
	if assignee == nil && len(p.Assignees) > 0 {
		assignee = &p.Assignees[0]
	}
	return &domain.Issue{
		ExternalID:      strconv.FormatInt(p.ID, 10),
		Key:             normalisers.IssueKey(project, p.IID),
		Title:           p.Title,
		Description:     p.Description,
		State:           p.State,
		IssueType:       issueType,
		Priority:        priority(p.Severity, p.Labels),
		Labels:          p.Labels,
		Author:          p.Author.ref(),
		Assignee:        assignee.ref(),
		CreatedAt:       p.CreatedAt.UTC(),
		SourceUpdatedAt: p.UpdatedAt.UTC(),
		ClosedAt:        utc(p.ClosedAt),
		WebURL:          p.WebURL,
	}, err
}

// MergeRequest decodes a merge request.
func (n *Normaliser) MergeRequest(rec domain.RawRecord, project *domain.Project) (*domain.MergeRequest, error) {
	var p mergeRequestPayload
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.ID == 0 || p.IID == 0 {
		return nil, normalisers.Missing(rec, "id")
	}

	mergedBy := p.MergedBy
	if mergedBy == nil {
		mergedBy = p.MergeUser
	}
	return &domain.MergeRequest{
		ExternalID:      strconv.FormatInt(p.ID, 10),
		Key:             normalisers.MergeRequestKey(project, p.IID),
		Number:          p.IID,
		Title:           p.Title,
		Description:     p.Description,
		State:           p.State,
		SourceBranch:    p.SourceBranch,
		TargetBranch:    p.TargetBranch,
		Author:          p.Author.ref(),
		MergedBy:        mergedBy.ref(),
		CreatedAt:       p.CreatedAt.UTC(),
		SourceUpdatedAt: p.UpdatedAt.UTC(),
		MergedAt:        utc(p.MergedAt),
		ClosedAt:        utc(p.ClosedAt),
		WebURL:          p.WebURL,
	}, err
}

// Pipeline decodes a CI pipeline. The list endpoint omits duration, so it
// is derived from the start and finish times when absent.
func (n *Normaliser) Pipeline(rec domain.RawRecord, _ *domain.Project) (*domain.Pipeline, error) {
	var p pipelinePayload
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.ID == 0 {
		return nil, normalisers.Missing(rec, "id")
	}

	duration := 0
	switch {
	case p.Duration != nil:
		duration = int(*p.Duration)
	case p.StartedAt != nil && p.FinishedAt != nil:
		duration = int(p.FinishedAt.Sub(*p.StartedAt).Seconds())
	}
	return &domain.Pipeline{
		ExternalID:      strconv.FormatInt(p.ID, 10),
		Ref:             p.Ref,
		SHA:             p.SHA,
		Status:          p.Status,
		Trigger:         p.User.ref(),
		DurationSeconds: duration,
		CreatedAt:       p.CreatedAt.UTC(),
		SourceUpdatedAt: p.UpdatedAt.UTC(),
		StartedAt:       utc(p.StartedAt),
		FinishedAt:      utc(p.FinishedAt),
		WebURL:          p.WebURL,
	}, err
}

// Deployment decodes a deployment.
func (n *Normaliser) Deployment(rec domain.RawRecord, _ *domain.Project) (*domain.Deployment, error) {
	var p deploymentPayload
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.ID == 0 {
		return nil, normalisers.Missing(rec, "id")
	}

	d := &domain.Deployment{
		ExternalID:      strconv.FormatInt(p.ID, 10),
		Status:          p.Status,
		Ref:             p.Ref,
		SHA:             p.SHA,
		Deployer:        p.User.ref(),
		CreatedAt:       p.CreatedAt.UTC(),
		SourceUpdatedAt: p.UpdatedAt.UTC(),
		FinishedAt:      utc(p.FinishedAt),
	}
	if p.Environment != nil {
		d.Environment = p.Environment.Name
	}
	if d.FinishedAt == nil && p.Deployable != nil {
		d.FinishedAt = utc(p.Deployable.FinishedAt)
	}
	return d, err
}

// Tag decodes a repository tag.
func (n *Normaliser) Tag(rec domain.RawRecord, _ *domain.Project) (*domain.Tag, error) {
	var p tagPayload
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.Name == "" {
		return nil, normalisers.Missing(rec, "name")
	}

	t := &domain.Tag{
		Name:      p.Name,
		SHA:       p.Target,
		Message:   p.Message,
		CreatedAt: utc(p.CreatedAt),
	}
	if p.Commit != nil {
		if p.Commit.ID != "" {
			t.SHA = p.Commit.ID
		}
		if t.CreatedAt == nil {
			t.CreatedAt = utc(p.Commit.CreatedAt)
		}
	}
	return t, err
}

// Branch decodes a repository branch.
func (n *Normaliser) Branch(rec domain.RawRecord, _ *domain.Project) (*domain.Branch, error) {
	var p branchPayload
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.Name == "" {
		return nil, normalisers.Missing(rec, "name")
	}

	b := &domain.Branch{
		Name:      p.Name,
		Protected: p.Protected,
		Default:   p.Default,
		Merged:    p.Merged,
	}
	if p.Commit != nil {
		b.SHA = p.Commit.ID
	}
	return b, err
}

// Package decodes a package registry entry.
func (n *Normaliser) Package(rec domain.RawRecord, _ *domain.Project) (*domain.Package, error) {
	var p packagePayload
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.ID == 0 {
		return nil, normalisers.Missing(rec, "id")
	}

	return &domain.Package{
		ExternalID:  strconv.FormatInt(p.ID, 10),
		Name:        p.Name,
		Version:     p.Version,
		PackageType: p.PackageType,
		CreatedAt:   p.CreatedAt.UTC(),
	}, err
}

// priority uses the incident severity when set, else a priority:: scoped
// label.
func priority(severity string, labels []string) string {
	if severity != "" && !strings.EqualFold(severity, "unknown") {
		return strings.ToLower(severity)
	}
	for _, l := range labels {
		if v, ok := strings.CutPrefix(strings.ToLower(l), "priority::"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return normalisers.TimePtr(*t)
}
