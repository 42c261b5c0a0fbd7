// Package postgres implements the db backend for Postgres using pgx v5. The
// bulk path is COPY FROM: the row cursor is handed to pgx directly, so rows
// stream server-side without intermediate buffering.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/dmelanson/rhino-etl/internal/db"
)

func init() {
	db.Register("postgres", Open)
}

// pgConnLike is the subset of *pgx.Conn used by this backend. It exists as an
// interface seam so tests can inject a fake without a network connection.
type pgConnLike interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// connectFn is a test hook pointing at pgx.Connect.
var connectFn = func(ctx context.Context, dsn string) (pgConnLike, error) {
	return pgx.Connect(ctx, dsn)
}

// Open connects to Postgres and returns the connection with its release
// function.
func Open(ctx context.Context, dsn string) (db.Conn, func(), error) {
	c, err := connectFn(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgx connect: %w", err)
	}
	release := func() { _ = c.Close(context.Background()) }
	return &pgConn{conn: c}, release, nil
}

type pgConn struct{ conn pgConnLike }

func (c *pgConn) Begin(ctx context.Context) (db.Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct{ tx pgx.Tx }

// BulkCopy streams the cursor into the target table via COPY FROM.
//
// Option mapping: TableLock takes an EXCLUSIVE table lock for the remainder
// of the transaction before the COPY starts. KeepIdentity and KeepNulls need
// no action here: COPY writes supplied values as-is, including explicit
// nulls and identity values for listed columns. A non-zero Timeout is also
// pushed server-side as a transaction-local statement_timeout, in addition
// to the caller's context deadline.
func (t *pgTx) BulkCopy(ctx context.Context, spec db.BulkSpec, src db.RowCursor) (int64, error) {
	if spec.Timeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", spec.Timeout.Milliseconds())
		if _, err := t.tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("set statement timeout: %w", err)
		}
	}
	if spec.Options.TableLock {
		lock := "LOCK TABLE " + pgFQN(spec.Table) + " IN EXCLUSIVE MODE"
		if _, err := t.tx.Exec(ctx, lock); err != nil {
			return 0, fmt.Errorf("lock table: %w", err)
		}
	}
	n, err := t.tx.CopyFrom(ctx, splitFQN(spec.Table), spec.Columns, src)
	if err != nil {
		return n, fmt.Errorf("copy from: %w", err)
	}
	return n, nil
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// pgIdent safely quotes a single identifier segment.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.events" to
// "public"."events".
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
