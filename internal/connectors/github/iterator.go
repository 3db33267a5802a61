package github

import (
	"context"
	"encoding/json"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/logger"
)

// Ensure pageIterator implements the interface.
var _ driven.RecordIterator = (*pageIterator)(nil)

// pageIterator follows go-github's NextPage links lazily.
type pageIterator struct {
	fetch   func(ctx context.Context, page int) (*Page, error)
	mapItem func(item json.RawMessage) (rec domain.RawRecord, keep, stop bool)

	page  int
	pages int
	buf   []domain.RawRecord
	cur   domain.RawRecord
	last  bool
	done  bool
	err   error
}

func (it *pageIterator) Next(ctx context.Context) bool {
	for {
		if len(it.buf) > 0 {
			it.cur = it.buf[0]
			it.buf = it.buf[1:]
			return true
		}
		if it.done || it.last {
			it.done = true
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			it.done = true
			return false
		}

		page, err := it.fetch(ctx, it.page)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.pages++

		for _, item := range page.Items {
			rec, keep, stop := it.mapItem(item)
			if stop {
				it.last = true
				break
			}
			if keep {
				it.buf = append(it.buf, rec)
			}
		}
		if page.NextPage == 0 {
			it.last = true
		}
		it.page = page.NextPage

		logger.Debug("fetched github page", "page", it.pages, "items", len(page.Items), "kept", len(it.buf))
	}
}

func (it *pageIterator) Record() domain.RawRecord {
	return it.cur
}

func (it *pageIterator) Err() error {
	return it.err
}

func (it *pageIterator) Close() error {
	it.done = true
	it.buf = nil
	return nil
}
