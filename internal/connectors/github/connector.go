package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/trellis/internal/connectors/rest"
	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

const (
	// SourceTag is the source tag for GitHub.
	SourceTag = "github"

	// SchemaVersion tags payloads from the REST API v3.
	SchemaVersion = "github-v3"
)

// Ensure Connector implements the interface.
var _ driven.Connector = (*Connector)(nil)

// Ensure New satisfies the builder signature.
var _ driven.ConnectorBuilder = New

// supportedKinds lists what a repository exposes, in processing order.
var supportedKinds = []domain.EntityKind{
	domain.KindIssue,
	domain.KindCommit,
	domain.KindMergeRequest,
	domain.KindTag,
	domain.KindBranch,
}

// Connector fetches records from one GitHub repository.
type Connector struct {
	source   string
	entityID string
	owner    string
	repo     string
	kinds    []domain.EntityKind
	client   *Client
	now      func() time.Time

	mu     sync.Mutex
	closed bool
}

// New creates a connector for the "owner/repo" in target.EntityID.
func New(cfg domain.SourceConfig, target domain.TargetConfig, tokens driven.TokenProvider) (driven.Connector, error) {
	owner, repo, ok := strings.Cut(strings.Trim(target.EntityID, "/"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("github: entity %q is not owner/repo: %w", target.EntityID, domain.ErrInvalidInput)
	}

	kinds := supportedKinds
	if len(cfg.Kinds) > 0 {
		kinds = make([]domain.EntityKind, 0, len(cfg.Kinds))
		for _, k := range supportedKinds {
			if slices.Contains(cfg.Kinds, k) {
				kinds = append(kinds, k)
			}
		}
		for _, k := range cfg.Kinds {
			if !slices.Contains(supportedKinds, k) {
				return nil, fmt.Errorf("github does not list %s: %w", k, domain.ErrUnsupportedType)
			}
		}
	}

	return &Connector{
		source:   cfg.Tag,
		entityID: owner + "/" + repo,
		owner:    owner,
		repo:     repo,
		kinds:    kinds,
		client:   NewClient(cfg, tokens),
		now:      time.Now,
	}, nil
}

// Source returns the source tag.
func (c *Connector) Source() string {
	return c.source
}

// EntityID returns "owner/repo".
func (c *Connector) EntityID() string {
	return c.entityID
}

// Kinds returns the listed kinds.
func (c *Connector) Kinds() []domain.EntityKind {
	return slices.Clone(c.kinds)
}

func (c *Connector) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrConnectorClosed
	}
	return nil
}

// Validate checks the repository is reachable with the configured token.
func (c *Connector) Validate(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	// Check context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if _, err := c.client.GetRepository(ctx, c.owner, c.repo); err != nil {
		return err
	}
	return nil
}

// listing describes how one kind is read.
type listing struct {
	path    string
	query   url.Values
	idField string

	// skip drops an item; stop ends the listing at an item.
	skip func(item json.RawMessage) bool
	stop func(item json.RawMessage) bool
}

func (c *Connector) listing(kind domain.EntityKind, since *time.Time) (listing, bool) {
	base := fmt.Sprintf("repos/%s/%s/", url.PathEscape(c.owner), url.PathEscape(c.repo))
	switch kind {
	case domain.KindCommit:
		q := url.Values{}
		if since != nil {
			q.Set("since", rest.FormatSince(*since))
		}
		return listing{path: base + "commits", query: q, idField: "sha"}, true

	case domain.KindIssue:
		q := url.Values{"state": {"all"}, "sort": {"updated"}, "direction": {"asc"}}
		if since != nil {
			q.Set("since", rest.FormatSince(*since))
		}
		// Pull requests show up in the issues endpoint too.
		return listing{path: base + "issues", query: q, idField: "id", skip: isPullRequest}, true

	case domain.KindMergeRequest:
		q := url.Values{"state": {"all"}, "sort": {"updated"}, "direction": {"desc"}}
		l := listing{path: base + "pulls", query: q, idField: "id"}
		if since != nil {
			watermark := *since
			l.stop = func(item json.RawMessage) bool { return updatedBefore(item, watermark) }
		}
		return l, true

	case domain.KindTag:
		return listing{path: base + "tags", idField: "name"}, true

	case domain.KindBranch:
		return listing{path: base + "branches", idField: "name"}, true
	}
	return listing{}, false
}

// ListSince returns a lazy iterator over records of kind changed since.
func (c *Connector) ListSince(_ context.Context, kind domain.EntityKind, since *time.Time) (driven.RecordIterator, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	l, ok := c.listing(kind, since)
	if !ok || !slices.Contains(c.kinds, kind) {
		return nil, fmt.Errorf("%s: %s: %w", c.source, kind, domain.ErrUnsupportedType)
	}

	op := "list " + string(kind)
	return &pageIterator{
		fetch: func(ctx context.Context, page int) (*Page, error) {
			return c.client.ListPage(ctx, op, l.path, l.query, page, PerPage)
		},
		mapItem: func(item json.RawMessage) (domain.RawRecord, bool, bool) {
			if l.stop != nil && l.stop(item) {
				return domain.RawRecord{}, false, true
			}
			if l.skip != nil && l.skip(item) {
				return domain.RawRecord{}, false, false
			}
			return domain.RawRecord{
				Source:        c.source,
				Kind:          kind,
				ExternalID:    rest.FieldString(item, l.idField),
				EntityID:      c.entityID,
				Payload:       item,
				SchemaVersion: SchemaVersion,
				CollectedAt:   c.now().UTC(),
			}, true, false
		},
		page: 1,
	}, nil
}

// Count returns the number of items behind resourcePath. A kind name
// counts that kind's listing; anything else is a path under the API root.
// One item is requested per page so the last page number is the total.
func (c *Connector) Count(ctx context.Context, resourcePath string) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	path, query := resourcePath, url.Values(nil)
	if l, ok := c.listing(domain.EntityKind(resourcePath), nil); ok {
		path, query = l.path, l.query
	}

	page, err := c.client.ListPage(ctx, "count "+resourcePath, path, query, 0, 1)
	if err != nil {
		return 0, err
	}
	if page.LastPage > 0 {
		return page.LastPage, nil
	}
	return len(page.Items), nil
}

// Close marks the connector closed.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func isPullRequest(item json.RawMessage) bool {
	var probe struct {
		PullRequest json.RawMessage `json:"pull_request"`
	}
	if err := json.Unmarshal(item, &probe); err != nil {
		return false
	}
	return len(probe.PullRequest) > 0 && string(probe.PullRequest) != "null"
}

func updatedBefore(item json.RawMessage, since time.Time) bool {
	var probe struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(item, &probe); err != nil || probe.UpdatedAt.IsZero() {
		return false
	}
	return probe.UpdatedAt.Before(since)
}
