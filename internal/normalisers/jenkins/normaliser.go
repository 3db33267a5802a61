package jenkins

import (
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/normalisers"
)

// SourceTag is the source tag this normaliser handles.
const SourceTag = "jenkins"

// Build statuses not reported in the result field.
const (
	StatusRunning = "running"
	StatusUnknown = "unknown"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser decodes Jenkins payloads.
type Normaliser struct{}

// New creates a Jenkins normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Source returns the source tag.
func (n *Normaliser) Source() string {
	return SourceTag
}

type buildPayload struct {
	Number    int     `json:"number"`
	URL       string  `json:"url"`
	Result    *string `json:"result"`
	Building  bool    `json:"building"`
	Timestamp int64   `json:"timestamp"`
	Duration  int64   `json:"duration"`
	Actions   []struct {
		Causes []struct {
			ShortDescription string `json:"shortDescription"`
			UserID           string `json:"userId"`
			UserName         string `json:"userName"`
		} `json:"causes"`
		LastBuiltRevision *struct {
			SHA1   string `json:"SHA1"`
			Branch []struct {
				Name string `json:"name"`
			} `json:"branch"`
		} `json:"lastBuiltRevision"`
	} `json:"actions"`
	ChangeSets []struct {
		Items []struct {
			CommitID    string `json:"commitId"`
			AuthorEmail string `json:"authorEmail"`
		} `json:"items"`
	} `json:"changeSets"`
}

// Pipeline decodes one build. Jenkins reports times in epoch milliseconds.
func (n *Normaliser) Pipeline(rec domain.RawRecord, _ *domain.Project) (*domain.Pipeline, error) {
	var p buildPayload
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.Number == 0 {
		return nil, normalisers.Missing(rec, "number")
	}

	started := time.UnixMilli(p.Timestamp).UTC()
	pipeline := &domain.Pipeline{
		ExternalID:      strconv.Itoa(p.Number),
		Status:          status(p),
		CreatedAt:       started,
		SourceUpdatedAt: started,
		StartedAt:       normalisers.TimePtr(started),
		WebURL:          p.URL,
	}
	if p.Timestamp == 0 {
		pipeline.CreatedAt, pipeline.SourceUpdatedAt, pipeline.StartedAt = time.Time{}, time.Time{}, nil
	}
	if !p.Building && p.Timestamp > 0 {
		finished := started.Add(time.Duration(p.Duration) * time.Millisecond)
		pipeline.FinishedAt = &finished
		pipeline.SourceUpdatedAt = finished
		pipeline.DurationSeconds = int(p.Duration / 1000)
	}

	for _, a := range p.Actions {
		for _, c := range a.Causes {
			if c.UserID != "" && pipeline.Trigger.IsZero() {
				pipeline.Trigger = domain.ActorRef{Username: c.UserID, DisplayName: c.UserName}
			}
		}
		if rev := a.LastBuiltRevision; rev != nil && pipeline.SHA == "" {
			pipeline.SHA = rev.SHA1
			if len(rev.Branch) > 0 {
				pipeline.Ref = branchName(rev.Branch[0].Name)
			}
		}
	}
	if pipeline.SHA == "" {
		for _, cs := range p.ChangeSets {
			if len(cs.Items) > 0 {
				pipeline.SHA = cs.Items[len(cs.Items)-1].CommitID
			}
		}
	}
	return pipeline, err
}

// Commit is not exposed by Jenkins.
func (n *Normaliser) Commit(_ domain.RawRecord, _ *domain.Project) (*domain.Commit, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindCommit)
}

// Issue is not exposed by Jenkins.
func (n *Normaliser) Issue(_ domain.RawRecord, _ *domain.Project) (*domain.Issue, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindIssue)
}

// MergeRequest is not exposed by Jenkins.
func (n *Normaliser) MergeRequest(_ domain.RawRecord, _ *domain.Project) (*domain.MergeRequest, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindMergeRequest)
}

// Deployment is not exposed by Jenkins.
func (n *Normaliser) Deployment(_ domain.RawRecord, _ *domain.Project) (*domain.Deployment, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindDeployment)
}

// Tag is not exposed by Jenkins.
func (n *Normaliser) Tag(_ domain.RawRecord, _ *domain.Project) (*domain.Tag, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindTag)
}

// Branch is not exposed by Jenkins.
func (n *Normaliser) Branch(_ domain.RawRecord, _ *domain.Project) (*domain.Branch, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindBranch)
}

// Package is not exposed by Jenkins.
func (n *Normaliser) Package(_ domain.RawRecord, _ *domain.Project) (*domain.Package, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindPackage)
}

func status(p buildPayload) string {
	switch {
	case p.Building:
		return StatusRunning
	case p.Result == nil || *p.Result == "":
		return StatusUnknown
	default:
		return strings.ToLower(*p.Result)
	}
}

// branchName strips the remote prefix git plugins add (origin/main,
// refs/remotes/origin/main).
func branchName(name string) string {
	name = strings.TrimPrefix(name, "refs/remotes/")
	name = strings.TrimPrefix(name, "refs/heads/")
	if _, rest, ok := strings.Cut(name, "/"); ok && strings.HasPrefix(name, "origin/") {
		return rest
	}
	return name
}
