// Package mssql implements the db backend for Microsoft SQL Server using the
// go-mssqldb bulk copy API (TDS CopyIn). Rows stream from the cursor into a
// prepared bulk statement one at a time; a final no-arg Exec flushes the
// batch.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/dmelanson/rhino-etl/internal/db"
)

func init() {
	db.Register("mssql", Open)
}

// Open validates the DSN, connects, and pings to fail fast on obvious
// mistakes.
func Open(ctx context.Context, dsn string) (db.Conn, func(), error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	sdb, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := sdb.PingContext(ctx); err != nil {
		_ = sdb.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	release := func() { _ = sdb.Close() }
	return &msConn{db: sdb}, release, nil
}

type msConn struct{ db *sql.DB }

func (c *msConn) Begin(ctx context.Context) (db.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &msTx{core: realTx{tx: tx}}, nil
}

// bulkStmt abstracts *sql.Stmt so tests can fake the bulk statement without
// a driver.
type bulkStmt interface {
	ExecContext(ctx context.Context, args ...any) (sql.Result, error)
	Close() error
}

// txCore abstracts *sql.Tx to the operations this backend performs.
type txCore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Prepare(ctx context.Context, query string) (bulkStmt, error)
	Commit() error
	Rollback() error
}

// realTx adapts *sql.Tx to txCore.
type realTx struct{ tx *sql.Tx }

func (r realTx) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.tx.ExecContext(ctx, q, args...)
}

func (r realTx) Prepare(ctx context.Context, q string) (bulkStmt, error) {
	st, err := r.tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (r realTx) Commit() error   { return r.tx.Commit() }
func (r realTx) Rollback() error { return r.tx.Rollback() }

type msTx struct{ core txCore }

// BulkCopy streams the cursor into the target table via TVP/CopyIn.
//
// Option mapping: TableLock and KeepNulls map onto mssql.BulkOptions
// directly. KeepIdentity is expressed as SET IDENTITY_INSERT ON for the
// duration of the load; the setting dies with the session/transaction.
func (t *msTx) BulkCopy(ctx context.Context, spec db.BulkSpec, src db.RowCursor) (int64, error) {
	if spec.Options.KeepIdentity {
		on := "SET IDENTITY_INSERT " + msFQN(spec.Table) + " ON"
		if _, err := t.core.ExecContext(ctx, on); err != nil {
			return 0, fmt.Errorf("identity insert on: %w", err)
		}
	}

	opts := mssql.BulkOptions{
		Tablock:   spec.Options.TableLock,
		KeepNulls: spec.Options.KeepNulls,
	}
	stmt, err := t.core.Prepare(ctx, mssql.CopyIn(spec.Table, opts, spec.Columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}

	var streamed int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", streamed, err)
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", streamed, err)
		}
		streamed++
	}
	if err := src.Err(); err != nil {
		_ = stmt.Close()
		return 0, err
	}

	// Finalize: a no-arg Exec flushes the bulk operation.
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (t *msTx) Commit(ctx context.Context) error   { return t.core.Commit() }
func (t *msTx) Rollback(ctx context.Context) error { return t.core.Rollback() }

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name like "dbo.events" to
// "[dbo].[events]".
func msFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = msIdent(p)
	}
	return strings.Join(parts, ".")
}
