package sqlstore

import (
	"context"
	"database/sql"

	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// warehouse implements driven.Warehouse over a *sql.DB or a *sql.Tx.
type warehouse struct {
	q querier
	d dialect
}

var _ driven.Warehouse = (*warehouse)(nil)

func (w *warehouse) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return w.q.ExecContext(ctx, w.d.rebind(query), args...)
}

func (w *warehouse) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return w.q.QueryContext(ctx, w.d.rebind(query), args...)
}

func (w *warehouse) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return w.q.QueryRowContext(ctx, w.d.rebind(query), args...)
}
