// Package db defines the backend-agnostic connection and transaction
// contracts used by load stages, plus the registry that resolves an opaque
// connection name to a live connection.
//
// Backends (Postgres, MSSQL, MySQL, SQLite) register an opener for their
// kind at init time and are wired in by a blank import of db/all. The rest
// of the codebase depends only on the interfaces here and never imports a
// database driver directly.
package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Options are the independent bulk-load flags. Each flag is individually
// toggleable with no ordering dependency between them. A backend applies the
// flags its protocol can express and documents the rest.
type Options struct {
	// TableLock holds an exclusive table lock for the duration of the load.
	TableLock bool
	// KeepIdentity keeps source-supplied identity values instead of letting
	// the destination regenerate them.
	KeepIdentity bool
	// KeepNulls preserves explicit nulls instead of applying column defaults.
	KeepNulls bool
}

// BulkSpec describes one bulk write: the destination table, the destination
// columns in cursor order, and the load options. Timeout is carried for
// backends that can push it server-side; the caller additionally bounds the
// write with a context deadline.
type BulkSpec struct {
	Table   string
	Columns []string
	Options Options
	Timeout time.Duration
}

// RowCursor is the forward-only, single-pass cursor a bulk write consumes.
// It is shaped exactly like pgx.CopyFromSource so the Postgres backend can
// hand it to COPY verbatim.
type RowCursor interface {
	// Next advances to the next row, returning false at end-of-data or on
	// error. Callers must check Err after Next returns false.
	Next() bool
	// Values returns the current row's values in column order.
	Values() ([]any, error)
	// Err returns the first error encountered while advancing.
	Err() error
}

// Conn is a live connection capable of starting transactions.
type Conn interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one transaction. BulkCopy streams the cursor into the destination in
// a single pass; the cursor may not be rewound or re-read.
type Tx interface {
	BulkCopy(ctx context.Context, spec BulkSpec, src RowCursor) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Provider resolves an opaque connection name to a live Conn. The returned
// release function must be called on every exit path; it closes whatever the
// opener acquired.
type Provider interface {
	Acquire(ctx context.Context, name string) (Conn, func(), error)
}

// OpenFunc opens a connection of one backend kind. The release function
// closes it.
type OpenFunc func(ctx context.Context, dsn string) (Conn, func(), error)

var (
	regMu   sync.RWMutex
	openers = map[string]OpenFunc{}
)

// Register registers (or replaces) the opener for a backend kind. It is
// called from backend packages' init functions.
func Register(kind string, open OpenFunc) {
	regMu.Lock()
	defer regMu.Unlock()
	openers[kind] = open
}

// ListKinds returns a snapshot of the registered backend kinds, sorted.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(openers))
	for k := range openers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ErrUnknownConnection is returned by Resolver.Acquire for a name it does
// not know.
var ErrUnknownConnection = errors.New("unknown connection name")

// ConnConfig names the backend kind and DSN of one configured connection.
type ConnConfig struct {
	Kind string
	DSN  string
}

// Resolver is the Provider used in production: a static table of named
// connections, each opened on demand through the registered opener for its
// kind.
type Resolver struct {
	conns map[string]ConnConfig
}

// NewResolver builds a Resolver over the given named connections.
func NewResolver(conns map[string]ConnConfig) *Resolver {
	c := make(map[string]ConnConfig, len(conns))
	for k, v := range conns {
		c[k] = v
	}
	return &Resolver{conns: c}
}

// Acquire resolves name and opens a connection through its backend opener.
func (r *Resolver) Acquire(ctx context.Context, name string) (Conn, func(), error) {
	cfg, ok := r.conns[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	regMu.RLock()
	open, ok := openers[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("unsupported connection kind=%q for %q", cfg.Kind, name)
	}
	return open(ctx, cfg.DSN)
}
