package bulkload

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmelanson/rhino-etl/internal/pipeline"
	"github.com/dmelanson/rhino-etl/internal/schema"
)

// ErrCursorExhausted is reported when a cursor is advanced again after it
// already signaled end-of-data.
var ErrCursorExhausted = errors.New("row cursor advanced past end-of-data")

// rowCursor adapts the lazy row sequence into the forward-only tabular
// cursor a bulk write consumes (the db.RowCursor / pgx.CopyFromSource
// shape). Column order and declared types are fixed from the schema for the
// cursor's lifetime.
//
// The cursor holds exactly one row at a time: memory is O(row width)
// regardless of how many rows stream through. It is single-pass; there is no
// rewind.
type rowCursor struct {
	ctx     context.Context
	rows    <-chan pipeline.Row
	columns []schema.Column

	current []any
	count   int64
	done    bool
	err     error
}

func newRowCursor(ctx context.Context, rows <-chan pipeline.Row, s schema.Schema) *rowCursor {
	return &rowCursor{ctx: ctx, rows: rows, columns: s.Columns()}
}

// Columns returns the cursor's ordered columns with their declared types.
func (c *rowCursor) Columns() []schema.Column { return c.columns }

// Rows returns how many rows the cursor has yielded so far.
func (c *rowCursor) Rows() int64 { return c.count }

// Next pulls the next row from the sequence and projects it into column
// order. A row missing any declared field is an error, never a silent
// default: a quietly defaulted value would corrupt the load without
// tripping the transaction-level error signal.
func (c *rowCursor) Next() bool {
	if c.err != nil {
		return false
	}
	if c.done {
		c.err = ErrCursorExhausted
		return false
	}

	var row pipeline.Row
	var ok bool
	select {
	case <-c.ctx.Done():
		c.err = c.ctx.Err()
		return false
	case row, ok = <-c.rows:
		if !ok {
			c.done = true
			return false
		}
	}

	vals := make([]any, len(c.columns))
	for i, col := range c.columns {
		v, ok := row[col.Name]
		if !ok {
			c.err = fmt.Errorf("row %d missing field %q", c.count+1, col.Name)
			return false
		}
		// Pass through as-is; type mismatches are the bulk protocol's to report.
		vals[i] = v
	}
	c.current = vals
	c.count++
	return true
}

// Values returns the current row's values in column order.
func (c *rowCursor) Values() ([]any, error) { return c.current, c.err }

// Err returns the first error the cursor encountered.
func (c *rowCursor) Err() error { return c.err }
