package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmelanson/rhino-etl/internal/db"
)

// sliceCursor is a db.RowCursor over a fixed slice.
type sliceCursor struct {
	rows [][]any
	i    int
}

func (c *sliceCursor) Next() bool {
	if c.i >= len(c.rows) {
		return false
	}
	c.i++
	return true
}
func (c *sliceCursor) Values() ([]any, error) { return c.rows[c.i-1], nil }
func (c *sliceCursor) Err() error             { return nil }

func newTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "load.db")
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sdb.Close()
	if _, err := sdb.Exec(`CREATE TABLE orders (id INTEGER, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return path
}

func countRows(t *testing.T, path string) int {
	t.Helper()
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sdb.Close()
	var n int
	if err := sdb.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// TestBulkCopy_CommitPersists loads rows through the backend and verifies
// they are visible after commit. Uses a real database file; the driver is
// pure Go.
func TestBulkCopy_CommitPersists(t *testing.T) {
	t.Parallel()

	path := newTestDB(t)
	ctx := context.Background()

	conn, release, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	n, err := tx.BulkCopy(ctx, db.BulkSpec{
		Table:   "orders",
		Columns: []string{"id", "name"},
	}, &sliceCursor{rows: [][]any{{1, "ada"}, {2, "grace"}}})
	if err != nil {
		t.Fatalf("BulkCopy error: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	if got := countRows(t, path); got != 2 {
		t.Fatalf("rows after commit = %d, want 2", got)
	}
}

// TestBulkCopy_RollbackDiscards verifies a rolled-back load leaves the table
// untouched.
func TestBulkCopy_RollbackDiscards(t *testing.T) {
	t.Parallel()

	path := newTestDB(t)
	ctx := context.Background()

	conn, release, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if _, err := tx.BulkCopy(ctx, db.BulkSpec{
		Table:   "orders",
		Columns: []string{"id", "name"},
	}, &sliceCursor{rows: [][]any{{1, "ada"}}}); err != nil {
		t.Fatalf("BulkCopy error: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback error: %v", err)
	}

	if got := countRows(t, path); got != 0 {
		t.Fatalf("rows after rollback = %d, want 0", got)
	}
}

// TestBulkCopy_BadTable verifies insert failures are surfaced.
func TestBulkCopy_BadTable(t *testing.T) {
	t.Parallel()

	path := newTestDB(t)
	ctx := context.Background()

	conn, release, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.BulkCopy(ctx, db.BulkSpec{
		Table:   "absent",
		Columns: []string{"id"},
	}, &sliceCursor{rows: [][]any{{1}}}); err == nil {
		t.Fatalf("missing table accepted")
	}
}

// TestQuoting covers double-quote escaping and FQN splitting.
func TestQuoting(t *testing.T) {
	t.Parallel()

	if got, want := liteIdent(`we"ird`), `"we""ird"`; got != want {
		t.Errorf("liteIdent = %s, want %s", got, want)
	}
	if got, want := liteFQN("main.orders"), `"main"."orders"`; got != want {
		t.Errorf("liteFQN = %s, want %s", got, want)
	}
	if got, want := liteFQN("orders"), `"orders"`; got != want {
		t.Errorf("liteFQN = %s, want %s", got, want)
	}
}

// TestBulkCopy_QualifiedTable verifies a schema-qualified name reaches the
// attached database rather than being treated as a literal table name.
func TestBulkCopy_QualifiedTable(t *testing.T) {
	t.Parallel()

	path := newTestDB(t)
	ctx := context.Background()

	conn, release, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	n, err := tx.BulkCopy(ctx, db.BulkSpec{
		Table:   "main.orders", // "main" is the default attached database
		Columns: []string{"id", "name"},
	}, &sliceCursor{rows: [][]any{{1, "ada"}}})
	if err != nil {
		t.Fatalf("BulkCopy error: %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if got := countRows(t, path); got != 1 {
		t.Fatalf("rows after commit = %d, want 1", got)
	}
}
