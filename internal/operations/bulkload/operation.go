// Package bulkload implements the bulk-load sink stage: it streams the
// incoming row sequence into a destination table inside a single
// transaction, then commits or rolls back based on the run-wide error state
// rather than this stage's own outcome.
package bulkload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmelanson/rhino-etl/internal/db"
	"github.com/dmelanson/rhino-etl/internal/metrics"
	"github.com/dmelanson/rhino-etl/internal/pipeline"
	"github.com/dmelanson/rhino-etl/internal/schema"
)

// DefaultTimeout bounds the bulk write when the config does not.
const DefaultTimeout = 600 * time.Second

// ErrNilRows is returned when Execute is handed a nil input sequence.
var ErrNilRows = errors.New("input row sequence is nil")

// SchemaResolver supplies the destination schema for one execution. Concrete
// strategies range from a static declaration to introspecting the
// destination table.
type SchemaResolver interface {
	Resolve(ctx context.Context) (schema.Schema, error)
}

// Config is the load stage's configuration surface. All fields are fixed for
// the duration of one Execute call; they may be changed between calls.
type Config struct {
	// Name identifies the stage in errors, logs, and metrics.
	Name string
	// Connection is the opaque name the Provider resolves to a live
	// connection.
	Connection string
	// Table is the destination table, possibly schema-qualified. Required.
	Table string
	// Timeout bounds the bulk write. Zero means DefaultTimeout.
	Timeout time.Duration
	// Options are the bulk-load flags applied by the backend.
	Options db.Options
	// Mapping pre-populates source-field to destination-column entries.
	// PrepareMapping identity-fills the rest from the schema and never
	// overwrites these.
	Mapping schema.Mapping
}

// Operation is the bulk-load sink stage. It is not reentrant: its schema and
// mapping are prepared in place per call, so concurrent Execute calls on the
// same instance are unsupported.
type Operation struct {
	cfg      Config
	provider db.Provider
	resolver SchemaResolver
	errs     pipeline.ErrorState

	schema  schema.Schema
	mapping schema.Mapping
}

// New validates the configuration and builds the stage. An empty target
// table is a configuration error surfaced here, not at Execute time.
func New(cfg Config, provider db.Provider, resolver SchemaResolver, errs pipeline.ErrorState) (*Operation, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("bulkload: target table is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("bulkload: connection provider is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("bulkload: schema resolver is required")
	}
	if errs == nil {
		return nil, fmt.Errorf("bulkload: pipeline error state is required")
	}
	if cfg.Name == "" {
		cfg.Name = "bulkload"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	op := &Operation{cfg: cfg, provider: provider, resolver: resolver, errs: errs}
	if cfg.Mapping != nil {
		op.mapping = schema.Mapping{}
		for k, v := range cfg.Mapping {
			op.mapping[k] = v
		}
	}
	return op, nil
}

// Name implements pipeline.Operation.
func (o *Operation) Name() string { return o.cfg.Name }

// Execute streams rows into the destination table in one transaction and
// returns an empty output sequence (this is a sink stage).
//
// The commit/rollback decision is made after the write completes: if any
// stage in the run has recorded an error, the transaction is rolled back
// even though the local write succeeded. Connection and transaction are
// released on every exit path.
func (o *Operation) Execute(ctx context.Context, rows <-chan pipeline.Row) (<-chan pipeline.Row, error) {
	if rows == nil {
		return nil, fmt.Errorf("%s: %w", o.cfg.Name, ErrNilRows)
	}

	if err := o.prepareSchema(ctx); err != nil {
		return nil, o.fail(fmt.Errorf("prepare schema: %w", err))
	}
	o.prepareMapping()
	if err := o.mapping.Validate(o.schema); err != nil {
		return nil, o.fail(err)
	}

	conn, release, err := o.provider.Acquire(ctx, o.cfg.Connection)
	if err != nil {
		return nil, o.fail(fmt.Errorf("acquire connection %q: %w", o.cfg.Connection, err))
	}
	defer release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, o.fail(fmt.Errorf("begin tx: %w", err))
	}
	finished := false
	defer func() {
		if !finished {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	// The timeout bounds the whole bulk write, including time spent waiting
	// on the input sequence, so the cursor watches the same deadline.
	wctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	cur := newRowCursor(wctx, rows, o.schema)
	spec := db.BulkSpec{
		Table:   o.cfg.Table,
		Columns: o.mapping.Destinations(o.schema),
		Options: o.cfg.Options,
		Timeout: o.cfg.Timeout,
	}

	n, err := tx.BulkCopy(wctx, spec, cur)
	if err != nil {
		// The deferred rollback runs before the error propagates.
		return nil, o.fail(fmt.Errorf("bulk write: %w", err))
	}

	log := slog.With("stage", o.cfg.Name, "table", o.cfg.Table, "rows", n)
	if o.errs.Failed() {
		// Not a local failure: another stage in this run recorded an error,
		// so the whole run's writes are discarded.
		log.Info("pipeline error recorded, rolling back bulk load")
		if err := tx.Rollback(ctx); err != nil {
			return nil, o.fail(fmt.Errorf("rollback: %w", err))
		}
		finished = true
		log.Info("bulk load rolled back")
		metrics.RecordOutcome(o.cfg.Name, o.cfg.Table, "rollback", n)
		return pipeline.Empty(), nil
	}

	log.Debug("committing bulk load")
	if err := tx.Commit(ctx); err != nil {
		return nil, o.fail(fmt.Errorf("commit: %w", err))
	}
	finished = true
	log.Debug("bulk load committed")
	metrics.RecordOutcome(o.cfg.Name, o.cfg.Table, "commit", n)

	return pipeline.Empty(), nil
}

// prepareSchema resolves the destination schema for this execution.
func (o *Operation) prepareSchema(ctx context.Context) error {
	s, err := o.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if s.Len() == 0 {
		return fmt.Errorf("resolver returned an empty schema")
	}
	o.schema = s
	return nil
}

// prepareMapping identity-fills the mapping from the schema: every column
// without an entry maps to itself. Caller-set entries survive; the fill is
// additive, so repeated preparation is idempotent.
func (o *Operation) prepareMapping() {
	if o.mapping == nil {
		o.mapping = schema.Mapping{}
	}
	o.mapping.FillIdentity(o.schema)
}

// Mapping exposes the prepared mapping. Mainly useful to callers that tweak
// entries between executions.
func (o *Operation) Mapping() schema.Mapping { return o.mapping }

func (o *Operation) fail(err error) error {
	return fmt.Errorf("%s: table %s: %w", o.cfg.Name, o.cfg.Table, err)
}
