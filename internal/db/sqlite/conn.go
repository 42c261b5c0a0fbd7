// Package sqlite implements the db backend for SQLite via modernc.org/sqlite
// (pure Go, no cgo). The bulk path is a prepared single-row INSERT executed
// per cursor row inside the transaction; SQLite's single-writer model makes
// that the fast path already.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/dmelanson/rhino-etl/internal/db"
)

func init() {
	db.Register("sqlite", Open)
}

// Open opens (or creates) the database file named by dsn.
func Open(ctx context.Context, dsn string) (db.Conn, func(), error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := sdb.PingContext(ctx); err != nil {
		_ = sdb.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	release := func() { _ = sdb.Close() }
	return &liteConn{db: sdb}, release, nil
}

type liteConn struct{ db *sql.DB }

func (c *liteConn) Begin(ctx context.Context) (db.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &liteTx{tx: tx}, nil
}

type liteTx struct{ tx *sql.Tx }

// BulkCopy streams the cursor through a prepared INSERT.
//
// Option mapping: a write transaction already excludes other writers, so
// TableLock is inherent; KeepIdentity and KeepNulls are SQLite's native
// behavior for supplied values.
func (t *liteTx) BulkCopy(ctx context.Context, spec db.BulkSpec, src db.RowCursor) (int64, error) {
	quoted := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		quoted[i] = liteIdent(c)
	}
	q := "INSERT INTO " + liteFQN(spec.Table) +
		" (" + strings.Join(quoted, ",") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?,", len(spec.Columns)), ",") + ")"

	stmt, err := t.tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var total int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return total, err
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return total, fmt.Errorf("insert row %d: %w", total, err)
		}
		total++
	}
	if err := src.Err(); err != nil {
		return total, err
	}
	return total, nil
}

func (t *liteTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *liteTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// liteIdent quotes an identifier with double quotes, escaping embedded ones.
func liteIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// liteFQN quotes a possibly database-qualified name like "main.events" to
// "main"."events".
func liteFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = liteIdent(p)
	}
	return strings.Join(parts, ".")
}
