package github

import (
	"errors"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v80/github"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/normalisers"
)

// SourceTag is the source tag this normaliser handles.
const SourceTag = "github"

var errPullRequest = errors.New("payload is a pull request")

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser decodes GitHub payloads.
type Normaliser struct{}

// New creates a GitHub normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Source returns the source tag.
func (n *Normaliser) Source() string {
	return SourceTag
}

// Commit decodes a repository commit. The linked GitHub account is used
// for identity when present, with the git author's name and email.
func (n *Normaliser) Commit(rec domain.RawRecord, _ *domain.Project) (*domain.Commit, error) {
	var p gh.RepositoryCommit
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.GetSHA() == "" {
		return nil, normalisers.Missing(rec, "sha")
	}

	commit := p.GetCommit()
	author := userRef(p.GetAuthor())
	if a := commit.GetAuthor(); a != nil {
		author.DisplayName = a.GetName()
		author.Email = a.GetEmail()
	}

	c := &domain.Commit{
		SHA:         p.GetSHA(),
		Title:       normalisers.Title(commit.GetMessage()),
		Message:     commit.GetMessage(),
		Author:      author,
		AuthoredAt:  commit.GetAuthor().GetDate().Time.UTC(),
		CommittedAt: commit.GetCommitter().GetDate().Time.UTC(),
		WebURL:      p.GetHTMLURL(),
	}
	if stats := p.GetStats(); stats != nil {
		c.Additions, c.Deletions = stats.GetAdditions(), stats.GetDeletions()
	}
	return c, err
}

// Issue decodes an issue. Pull requests listed by the issues endpoint are
// rejected as malformed.
func (n *Normaliser) Issue(rec domain.RawRecord, project *domain.Project) (*domain.Issue, error) {
	var p gh.Issue
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.GetID() == 0 || p.GetNumber() == 0 {
		return nil, normalisers.Missing(rec, "id")
	}
	if p.IsPullRequest() {
		return nil, normalisers.Malformed(rec, errPullRequest)
	}

	labels := make([]string, 0, len(p.Labels))
	for _, l := range p.Labels {
		labels = append(labels, l.GetName())
	}
	issueType := "issue"
	if t := p.GetType(); t != nil && t.GetName() != "" {
		issueType = strings.ToLower(t.GetName())
	}

	return &domain.Issue{
		ExternalID:      strconv.FormatInt(p.GetID(), 10),
		Key:             normalisers.IssueKey(project, p.GetNumber()),
		Title:           p.GetTitle(),
		Description:     p.GetBody(),
		State:           p.GetState(),
		IssueType:       issueType,
		Priority:        priority(labels),
		Labels:          labels,
		Author:          userRef(p.GetUser()),
		Assignee:        userRef(p.GetAssignee()),
		CreatedAt:       p.GetCreatedAt().Time.UTC(),
		SourceUpdatedAt: p.GetUpdatedAt().Time.UTC(),
		ClosedAt:        normalisers.TimePtr(p.GetClosedAt().Time),
		WebURL:          p.GetHTMLURL(),
	}, err
}

// MergeRequest decodes a pull request. A closed pull request with a merge
// time is reported as merged.
func (n *Normaliser) MergeRequest(rec domain.RawRecord, project *domain.Project) (*domain.MergeRequest, error) {
	var p gh.PullRequest
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.GetID() == 0 || p.GetNumber() == 0 {
		return nil, normalisers.Missing(rec, "id")
	}

	mergedAt := normalisers.TimePtr(p.GetMergedAt().Time)
	state := p.GetState()
	if p.GetMerged() || mergedAt != nil {
		state = "merged"
	}

	return &domain.MergeRequest{
		ExternalID:      strconv.FormatInt(p.GetID(), 10),
		Key:             normalisers.MergeRequestKey(project, p.GetNumber()),
		Number:          p.GetNumber(),
		Title:           p.GetTitle(),
		Description:     p.GetBody(),
		State:           state,
		SourceBranch:    p.GetHead().GetRef(),
		TargetBranch:    p.GetBase().GetRef(),
		Author:          userRef(p.GetUser()),
		MergedBy:        userRef(p.GetMergedBy()),
		CreatedAt:       p.GetCreatedAt().Time.UTC(),
		SourceUpdatedAt: p.GetUpdatedAt().Time.UTC(),
		MergedAt:        mergedAt,
		ClosedAt:        normalisers.TimePtr(p.GetClosedAt().Time),
		WebURL:          p.GetHTMLURL(),
	}, err
}

// Pipeline is not exposed by GitHub.
func (n *Normaliser) Pipeline(_ domain.RawRecord, _ *domain.Project) (*domain.Pipeline, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindPipeline)
}

// Deployment is not exposed by GitHub.
func (n *Normaliser) Deployment(_ domain.RawRecord, _ *domain.Project) (*domain.Deployment, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindDeployment)
}

// Tag decodes a repository tag.
func (n *Normaliser) Tag(rec domain.RawRecord, _ *domain.Project) (*domain.Tag, error) {
	var p gh.RepositoryTag
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.GetName() == "" {
		return nil, normalisers.Missing(rec, "name")
	}
	return &domain.Tag{
		Name: p.GetName(),
		SHA:  p.GetCommit().GetSHA(),
	}, err
}

// Branch decodes a repository branch.
func (n *Normaliser) Branch(rec domain.RawRecord, _ *domain.Project) (*domain.Branch, error) {
	var p gh.Branch
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.GetName() == "" {
		return nil, normalisers.Missing(rec, "name")
	}
	return &domain.Branch{
		Name:      p.GetName(),
		SHA:       p.GetCommit().GetSHA(),
		Protected: p.GetProtected(),
	}, err
}

// Package is not exposed by GitHub.
func (n *Normaliser) Package(_ domain.RawRecord, _ *domain.Project) (*domain.Package, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindPackage)
}

func userRef(u *gh.User) domain.ActorRef {
	if u == nil {
		return domain.ActorRef{}
	}
	ref := domain.ActorRef{
		Username:    u.GetLogin(),
		DisplayName: u.GetName(),
		Email:       u.GetEmail(),
	}
	if u.GetID() != 0 {
		ref.ExternalID = strconv.FormatInt(u.GetID(), 10)
	}
	return ref
}

// priority reads a "priority: high" or "P1" style label.
func priority(labels []string) string {
	for _, l := range labels {
		lower := strings.ToLower(strings.TrimSpace(l))
		if v, ok := strings.CutPrefix(lower, "priority:"); ok {
			return strings.TrimSpace(v)
		}
		if len(lower) == 2 && lower[0] == 'p' && lower[1] >= '0' && lower[1] <= '9' {
			return lower
		}
	}
	return ""
}

