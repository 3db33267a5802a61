package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/logger"
)

// Ensure Iterator implements the interface.
var _ driven.RecordIterator = (*Iterator)(nil)

// MapFunc turns one listed item into a record. Returning false skips it.
type MapFunc func(item json.RawMessage) (domain.RawRecord, bool)

// Iterator fetches pages lazily and yields their items one at a time.
// It is not restartable: once Next returns false it stays exhausted.
type Iterator struct {
	client  *Client
	op      string
	pager   Paginator
	key     string
	mapItem MapFunc

	next  *Request
	buf   []domain.RawRecord
	cur   domain.RawRecord
	pages int
	done  bool
	err   error
}

// NewIterator creates an iterator. No request is made until Next.
func NewIterator(client *Client, op string, pager Paginator, resultsKey string, mapItem MapFunc) *Iterator {
	return &Iterator{
		client:  client,
		op:      op,
		pager:   pager,
		key:     resultsKey,
		mapItem: mapItem,
		next:    pager.First(),
	}
}

// Next advances to the next record, fetching pages as needed.
func (it *Iterator) Next(ctx context.Context) bool {
	for {
		if len(it.buf) > 0 {
			it.cur = it.buf[0]
			it.buf = it.buf[1:]
			return true
		}
		if it.done || it.next == nil {
			it.done = true
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			it.done = true
			return false
		}
		if !it.fetch(ctx) {
			it.done = true
			return false
		}
	}
}

func (it *Iterator) fetch(ctx context.Context) bool {
	req := it.next
	resp, err := it.client.Get(ctx, it.op, req)
	if err != nil {
		it.err = err
		return false
	}

	items, err := Items(resp.Body, it.key)
	if err != nil {
		it.err = fmt.Errorf("%s: %s: decode page %d: %w", it.client.Source(), it.op, it.pages+1, err)
		return false
	}

	for _, item := range items {
		if rec, ok := it.mapItem(item); ok {
			it.buf = append(it.buf, rec)
		}
	}
	it.pages++
	it.next = it.pager.Next(resp, len(items))

	logger.Debug("fetched page", "source", it.client.Source(), "op", it.op,
		"page", it.pages, "items", len(items), "kept", len(it.buf))
	return true
}

// Record returns the current record.
func (it *Iterator) Record() domain.RawRecord {
	return it.cur
}

// Err returns the error that stopped iteration.
func (it *Iterator) Err() error {
	return it.err
}

// Close stops iteration.
func (it *Iterator) Close() error {
	it.done = true
	it.buf = nil
	return nil
}

// Pages returns how many pages were fetched.
func (it *Iterator) Pages() int {
	return it.pages
}

// FieldString returns a top-level scalar field of item as a string.
// Numbers are kept in their JSON form; missing fields yield "".
func FieldString(item json.RawMessage, field string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(item, &obj); err != nil {
		return ""
	}
	raw, ok := obj[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	v := strings.TrimSpace(string(raw))
	if v == "null" || strings.HasPrefix(v, "{") || strings.HasPrefix(v, "[") {
		return ""
	}
	return v
}

// FormatSince renders a watermark for query parameters.
func FormatSince(since time.Time) string {
	return since.UTC().Format(time.RFC3339)
}
