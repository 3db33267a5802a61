package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/logger"
)

// BatchHandler processes one batch inside the batch's transaction.
type BatchHandler func(ctx context.Context, w driven.Warehouse, batch []domain.RawRecord) error

// BatchCommitted is called after a batch's transaction has committed.
type BatchCommitted func(batch []domain.RawRecord)

// BatchProcessor pulls fixed-size batches from a record iterator and commits
// each batch in its own transaction.
type BatchProcessor struct {
	uow driven.UnitOfWork
}

// NewBatchProcessor creates a batch processor.
func NewBatchProcessor(uow driven.UnitOfWork) *BatchProcessor {
	return &BatchProcessor{uow: uow}
}

// Process drains it in batches of batchSize and returns how many records
// were committed.
//
// A handler error rolls back that batch only and is returned; batches
// committed before it stay committed. An iterator error stops the run before
// the partially read batch is handled. committed, when set, runs only for
// batches whose transaction committed.
func (p *BatchProcessor) Process(ctx context.Context, it driven.RecordIterator, batchSize int, handler BatchHandler, committed BatchCommitted) (int, error) {
	defer it.Close()

	if batchSize <= 0 {
		batchSize = domain.DefaultBatchSize
	}

	processed := 0
	for n := 1; ; n++ {
		batch := make([]domain.RawRecord, 0, batchSize)
		for len(batch) < batchSize && it.Next(ctx) {
			batch = append(batch, it.Record())
		}
		if err := it.Err(); err != nil {
			return processed, err
		}
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if len(batch) == 0 {
			return processed, nil
		}

		logger.Section(fmt.Sprintf("Batch %d", n))
		if err := p.uow.WithinTx(ctx, func(ctx context.Context, w driven.Warehouse) error {
			return handler(ctx, w, batch)
		}); err != nil {
			return processed, fmt.Errorf("batch %d: %w", n, err)
		}
		processed += len(batch)
		if committed != nil {
			committed(batch)
		}
		logger.Debug("batch committed", "batch", n, "records", len(batch), "total", processed)

		if len(batch) < batchSize {
			return processed, nil
		}
	}
}
