package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// Connector fetches records from one tracked entity of an external system.
// Each source (gitlab, github, jira, jenkins) provides an implementation.
type Connector interface {
	// Source returns the source tag.
	Source() string

	// EntityID returns the tracked entity (project path, Jira key, job name).
	EntityID() string

	// Kinds returns the entity kinds this connector can list.
	Kinds() []domain.EntityKind

	// Validate checks the connector is configured and authenticated.
	// For API connectors this makes a lightweight test call.
	Validate(ctx context.Context) error

	// ListSince returns a lazy sequence of records of the given kind changed
	// at or after since. A nil since lists everything.
	// Pagination, throttling and retries are handled inside the iterator.
	ListSince(ctx context.Context, kind domain.EntityKind, since *time.Time) (RecordIterator, error)

	// Count returns the total number of items behind a resource path.
	Count(ctx context.Context, resourcePath string) (int, error)

	// Close releases resources.
	Close() error
}

// RecordIterator is a pull-based, finite, non-restartable record sequence.
// Once Next returns false the iterator stays exhausted; resuming from a
// different watermark requires a new ListSince call.
type RecordIterator interface {
	// Next advances to the next record, fetching a page when needed.
	Next(ctx context.Context) bool

	// Record returns the current record. Valid only after Next returned true.
	Record() domain.RawRecord

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close stops iteration early and releases resources.
	Close() error
}

// ConnectorBuilder creates a connector for one target of a source.
type ConnectorBuilder func(cfg domain.SourceConfig, target domain.TargetConfig, tokens TokenProvider) (Connector, error)

// SliceIterator is a RecordIterator over records already in memory.
// Useful for replays and tests.
type SliceIterator struct {
	records []domain.RawRecord
	pos     int
	closed  bool
}

// NewSliceIterator creates an iterator over records.
func NewSliceIterator(records []domain.RawRecord) *SliceIterator {
	return &SliceIterator{records: records, pos: -1}
}

// Next advances the iterator.
func (it *SliceIterator) Next(ctx context.Context) bool {
	if it.closed || ctx.Err() != nil {
		return false
	}
	if it.pos+1 >= len(it.records) {
		it.pos = len(it.records)
		it.closed = true
		return false
	}
	it.pos++
	return true
}

// Record returns the current record.
func (it *SliceIterator) Record() domain.RawRecord {
	if it.pos < 0 || it.pos >= len(it.records) {
		return domain.RawRecord{}
	}
	return it.records[it.pos]
}

// Err always returns nil.
func (it *SliceIterator) Err() error {
	return nil
}

// Close marks the iterator exhausted.
func (it *SliceIterator) Close() error {
	it.closed = true
	return nil
}
