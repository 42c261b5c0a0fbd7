// Package mysql implements the db backend for MySQL. MySQL has no wire-level
// COPY equivalent usable through database/sql, so the bulk path is batched
// multi-row INSERTs inside the transaction. Batches are bounded, so memory
// stays O(batch), not O(row count).
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dmelanson/rhino-etl/internal/db"
)

// batchRows is the number of rows per INSERT statement.
const batchRows = 1000

func init() {
	db.Register("mysql", Open)
}

// Open connects to MySQL and pings to fail fast.
func Open(ctx context.Context, dsn string) (db.Conn, func(), error) {
	sdb, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := sdb.PingContext(ctx); err != nil {
		_ = sdb.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	release := func() { _ = sdb.Close() }
	return &myConn{db: sdb}, release, nil
}

type myConn struct{ db *sql.DB }

func (c *myConn) Begin(ctx context.Context) (db.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &myTx{exec: tx.ExecContext, commit: tx.Commit, rollback: tx.Rollback}, nil
}

// myTx keeps function-valued fields instead of *sql.Tx so tests can fake the
// statement execution without a driver.
type myTx struct {
	exec     func(ctx context.Context, query string, args ...any) (sql.Result, error)
	commit   func() error
	rollback func() error
}

// BulkCopy streams the cursor into the target table in multi-row INSERT
// batches.
//
// Option mapping: none of the flags needs action on MySQL. LOCK TABLES
// commits the open transaction implicitly, so TableLock cannot be honored
// here; explicit identity values and nulls are written as supplied.
func (t *myTx) BulkCopy(ctx context.Context, spec db.BulkSpec, src db.RowCursor) (int64, error) {
	width := len(spec.Columns)
	prefix := insertPrefix(spec.Table, spec.Columns)
	rowPH := rowPlaceholder(width)

	var (
		total int64
		args  = make([]any, 0, batchRows*width)
		count int
	)
	flush := func() error {
		if count == 0 {
			return nil
		}
		var b strings.Builder
		b.WriteString(prefix)
		for i := 0; i < count; i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(rowPH)
		}
		if _, err := t.exec(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		total += int64(count)
		args = args[:0]
		count = 0
		return nil
	}

	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return total, err
		}
		if len(vals) != width {
			return total, fmt.Errorf("row width %d, want %d columns", len(vals), width)
		}
		args = append(args, vals...)
		count++
		if count >= batchRows {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := src.Err(); err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

func (t *myTx) Commit(ctx context.Context) error   { return t.commit() }
func (t *myTx) Rollback(ctx context.Context) error { return t.rollback() }

func insertPrefix(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = myIdent(c)
	}
	return "INSERT INTO " + myFQN(table) + " (" + strings.Join(quoted, ",") + ") VALUES "
}

func rowPlaceholder(width int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"
}

// myIdent quotes a MySQL identifier with backticks, escaping embedded ones.
func myIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

// myFQN quotes a possibly database-qualified name like "app.events".
func myFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = myIdent(p)
	}
	return strings.Join(parts, ".")
}
