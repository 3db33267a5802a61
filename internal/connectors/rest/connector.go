package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// Ensure Connector implements the interface.
var _ driven.Connector = (*Connector)(nil)

// DefaultPageSize is the page size requested from paginated listings.
const DefaultPageSize = 100

// Resource describes how one entity kind is listed.
type Resource struct {
	// Path is relative to the client's base URL.
	Path string

	// Query builds the listing parameters for a watermark (nil = full).
	Query func(since *time.Time) url.Values

	// Pager builds the paginator. Nil uses a PagePaginator.
	Pager func(path string, query url.Values) Paginator

	// ResultsKey locates the array when pages are objects.
	ResultsKey string

	// IDField is the item field holding the source's id.
	IDField string

	// Keep filters items client-side, for APIs without a since parameter.
	Keep func(item json.RawMessage, since *time.Time) bool
}

// ConnectorConfig configures a Connector for one tracked entity.
type ConnectorConfig struct {
	Source        string
	EntityID      string
	SchemaVersion string

	// ValidatePath is fetched by Validate.
	ValidatePath string

	Resources map[domain.EntityKind]Resource

	// Kinds restricts the listed kinds. Empty lists every resource.
	Kinds []domain.EntityKind
}

// Connector is a driven.Connector over a set of REST resources.
type Connector struct {
	cfg    ConnectorConfig
	client *Client
	kinds  []domain.EntityKind
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewConnector creates a connector. Kinds that have no resource are
// rejected with domain.ErrUnsupportedType.
func NewConnector(client *Client, cfg ConnectorConfig) (*Connector, error) {
	if cfg.EntityID == "" {
		return nil, fmt.Errorf("%s: entity id is required: %w", cfg.Source, domain.ErrInvalidInput)
	}
	for _, k := range cfg.Kinds {
		if _, ok := cfg.Resources[k]; !ok {
			return nil, fmt.Errorf("%s does not list %s: %w", cfg.Source, k, domain.ErrUnsupportedType)
		}
	}

	kinds := make([]domain.EntityKind, 0, len(cfg.Resources))
	for _, k := range domain.AllKinds {
		if _, ok := cfg.Resources[k]; !ok {
			continue
		}
		if len(cfg.Kinds) > 0 && !slices.Contains(cfg.Kinds, k) {
			continue
		}
		kinds = append(kinds, k)
	}

	return &Connector{
		cfg:    cfg,
		client: client,
		kinds:  kinds,
		now:    time.Now,
	}, nil
}

// Source returns the source tag.
func (c *Connector) Source() string {
	return c.cfg.Source
}

// EntityID returns the tracked entity.
func (c *Connector) EntityID() string {
	return c.cfg.EntityID
}

// Kinds returns the listed kinds in processing order.
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

// Validate fetches the entity itself to check reachability and credentials.
func (c *Connector) Validate(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if _, err := c.client.Get(ctx, "validate "+c.cfg.EntityID, &Request{Path: c.cfg.ValidatePath}); err != nil {
		return fmt.Errorf("%s: %w", c.cfg.Source, err)
	}
	return nil
}

// ListSince returns a lazy iterator over records of kind changed since.
func (c *Connector) ListSince(_ context.Context, kind domain.EntityKind, since *time.Time) (driven.RecordIterator, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	res, ok := c.cfg.Resources[kind]
	if !ok || !slices.Contains(c.kinds, kind) {
		return nil, fmt.Errorf("%s: %s: %w", c.cfg.Source, kind, domain.ErrUnsupportedType)
	}

	pager := c.pager(res, since)
	mapItem := func(item json.RawMessage) (domain.RawRecord, bool) {
		if res.Keep != nil && !res.Keep(item, since) {
			return domain.RawRecord{}, false
		}
		return domain.RawRecord{
			Source:        c.cfg.Source,
			Kind:          kind,
			ExternalID:    FieldString(item, res.IDField),
			EntityID:      c.cfg.EntityID,
			Payload:       item,
			SchemaVersion: c.cfg.SchemaVersion,
			CollectedAt:   c.now().UTC(),
		}, true
	}
	return NewIterator(c.client, "list "+string(kind), pager, res.ResultsKey, mapItem), nil
}

func (c *Connector) pager(res Resource, since *time.Time) Paginator {
	var query url.Values
	if res.Query != nil {
		query = res.Query(since)
	}
	if res.Pager != nil {
		return res.Pager(res.Path, query)
	}
	return NewPagePaginator(res.Path, query, DefaultPageSize)
}

// Count returns the number of items behind resourcePath. A kind name
// counts that kind's full listing; anything else is fetched as a path.
func (c *Connector) Count(ctx context.Context, resourcePath string) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if res, ok := c.cfg.Resources[domain.EntityKind(resourcePath)]; ok {
		req := c.pager(res, nil).First()
		return c.client.Count(ctx, req.Path, req.Query, res.ResultsKey)
	}
	return c.client.Count(ctx, resourcePath, nil, "")
}

// Close marks the connector closed.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
