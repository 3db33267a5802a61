package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// StagingWriter appends raw payloads to the staging log and streams them
// back for reprocessing.
type StagingWriter struct {
	store driven.StagingStore
}

// NewStagingWriter creates a staging writer. store is only needed for Replay.
func NewStagingWriter(store driven.StagingStore) *StagingWriter {
	return &StagingWriter{store: store}
}

// Write appends every record of the batch verbatim inside the batch's
// transaction. It never updates existing rows.
func (s *StagingWriter) Write(ctx context.Context, w driven.StagingRepository, batch []domain.RawRecord) error {
	if len(batch) == 0 {
		return nil
	}
	if err := w.AppendStaging(ctx, batch); err != nil {
		return fmt.Errorf("write staging: %w", err)
	}
	return nil
}

// Replay returns an iterator over the staged records of one tracked entity
// and kind, oldest first, reading pageSize rows at a time.
func (s *StagingWriter) Replay(source, entityID string, kind domain.EntityKind, pageSize int) driven.RecordIterator {
	if pageSize <= 0 {
		pageSize = domain.DefaultBatchSize
	}
	return &replayIterator{
		store:    s.store,
		source:   source,
		entityID: entityID,
		kind:     kind,
		pageSize: pageSize,
	}
}

// replayIterator pages through staging_records by id.
type replayIterator struct {
	store    driven.StagingStore
	source   string
	entityID string
	kind     domain.EntityKind
	pageSize int

	page    []domain.StagingRecord
	pos     int
	afterID int64
	current domain.RawRecord
	done    bool
	err     error
}

func (it *replayIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if it.pos >= len(it.page) {
		if it.page != nil && len(it.page) < it.pageSize {
			it.done = true
			return false
		}
		page, err := it.store.ReplayStaging(ctx, it.source, it.entityID, it.kind, it.afterID, it.pageSize)
		if err != nil {
			it.err = fmt.Errorf("replay staging: %w", err)
			it.done = true
			return false
		}
		if len(page) == 0 {
			it.done = true
			return false
		}
		it.page = page
		it.pos = 0
	}

	rec := it.page[it.pos]
	it.pos++
	it.afterID = rec.ID
	it.current = rec.RawRecord
	return true
}

func (it *replayIterator) Record() domain.RawRecord {
	return it.current
}

func (it *replayIterator) Err() error {
	return it.err
}

func (it *replayIterator) Close() error {
	it.done = true
	return nil
}
