package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// --- Fakes shared by the orchestrator and scheduler tests ---

type testActor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

func (a testActor) ref() domain.ActorRef {
	return domain.ActorRef{ExternalID: a.ID, Username: a.Username, DisplayName: a.Name, Email: a.Email}
}

type testCommit struct {
	SHA         string    `json:"sha"`
	Message     string    `json:"message"`
	Author      testActor `json:"author"`
	CommittedAt time.Time `json:"committed_at"`
}

type testMergeRequest struct {
	ID          string    `json:"id"`
	IID         int       `json:"iid"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Author      testActor `json:"author"`
}

// fakeNormaliser decodes the test payload shapes above.
type fakeNormaliser struct{}

func (fakeNormaliser) Source() string { return "gitlab" }

func malformed(rec domain.RawRecord, err error) error {
	return &domain.MalformedPayloadError{Source: rec.Source, Kind: rec.Kind, ExternalID: rec.ExternalID, Err: err}
}

func (fakeNormaliser) Commit(rec domain.RawRecord, _ *domain.Project) (*domain.Commit, error) {
	var c testCommit
	if err := json.Unmarshal(rec.Payload, &c); err != nil {
		return nil, malformed(rec, err)
	}
	if c.SHA == "" {
		return nil, fmt.Errorf("commit %s without sha: %w", rec.ExternalID, domain.ErrInvalidInput)
	}
	return &domain.Commit{SHA: c.SHA, Title: c.Message, Message: c.Message, Author: c.Author.ref(), CommittedAt: c.CommittedAt}, nil
}

func (fakeNormaliser) MergeRequest(rec domain.RawRecord, project *domain.Project) (*domain.MergeRequest, error) {
	var mr testMergeRequest
	if err := json.Unmarshal(rec.Payload, &mr); err != nil {
		return nil, malformed(rec, err)
	}
	return &domain.MergeRequest{
		ExternalID:  mr.ID,
		Key:         fmt.Sprintf("%s!%d", project.ExternalID, mr.IID),
		Number:      mr.IID,
		Title:       mr.Title,
		Description: mr.Description,
		Author:      mr.Author.ref(),
	}, nil
}

func (fakeNormaliser) Issue(domain.RawRecord, *domain.Project) (*domain.Issue, error) {
	return nil, domain.ErrUnsupportedType
}

func (fakeNormaliser) Pipeline(domain.RawRecord, *domain.Project) (*domain.Pipeline, error) {
	return nil, domain.ErrUnsupportedType
}

func (fakeNormaliser) Deployment(domain.RawRecord, *domain.Project) (*domain.Deployment, error) {
	return nil, domain.ErrUnsupportedType
}

func (fakeNormaliser) Tag(domain.RawRecord, *domain.Project) (*domain.Tag, error) {
	return nil, domain.ErrUnsupportedType
}

func (fakeNormaliser) Branch(domain.RawRecord, *domain.Project) (*domain.Branch, error) {
	return nil, domain.ErrUnsupportedType
}

func (fakeNormaliser) Package(domain.RawRecord, *domain.Project) (*domain.Package, error) {
	return nil, domain.ErrUnsupportedType
}

// fakeConnector serves in-memory records per kind.
type fakeConnector struct {
	mu          sync.Mutex
	entityID    string
	records     map[domain.EntityKind][]domain.RawRecord
	validateErr error
	iterErr     map[domain.EntityKind]error
	since       []*time.Time
	closed      bool
}

func (c *fakeConnector) Source() string   { return "gitlab" }
func (c *fakeConnector) EntityID() string { return c.entityID }

func (c *fakeConnector) Kinds() []domain.EntityKind {
	return []domain.EntityKind{domain.KindCommit, domain.KindMergeRequest}
}

func (c *fakeConnector) Validate(context.Context) error { return c.validateErr }

func (c *fakeConnector) ListSince(_ context.Context, kind domain.EntityKind, since *time.Time) (driven.RecordIterator, error) {
	c.mu.Lock()
	c.since = append(c.since, since)
	c.mu.Unlock()

	it := driven.NewSliceIterator(c.records[kind])
	if err := c.iterErr[kind]; err != nil {
		return &failingIterator{SliceIterator: it, err: err}, nil
	}
	return it, nil
}

func (c *fakeConnector) Count(_ context.Context, _ string) (int, error) {
	return len(c.records[domain.KindCommit]), nil
}

func (c *fakeConnector) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type staticTokens struct{}

func (staticTokens) GetToken(context.Context) (string, error) { return "token", nil }
func (staticTokens) Username() string                         { return "" }
func (staticTokens) IsAuthenticated() bool                    { return true }

type fakeTokenFactory struct{}

func (fakeTokenFactory) ForSource(domain.SourceConfig) (driven.TokenProvider, error) {
	return staticTokens{}, nil
}

func payload(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func gitlabRecord(kind domain.EntityKind, id string, body []byte) domain.RawRecord {
	return domain.RawRecord{
		Source:        "gitlab",
		Kind:          kind,
		ExternalID:    id,
		EntityID:      "group/repo",
		Payload:       body,
		SchemaVersion: "v4",
	}
}
