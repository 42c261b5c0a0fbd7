// Package pipeline contains the storage-agnostic contracts shared by all
// pipeline stages: the Row record type, the Operation stage interface, and
// the run-wide error signal that stages consult at commit time.
package pipeline

import (
	"context"
	"sync/atomic"
)

// Row is one unit of the streaming data model: a field-name-to-value record.
// Rows are produced one at a time by upstream stages and consumed exactly
// once; a stage must not mutate a Row it did not create.
type Row map[string]any

// Operation is a single pipeline stage. Execute consumes the input sequence
// and returns its output sequence. Source stages ignore the input; sink
// stages block until the input is drained and return an empty, closed
// channel to preserve composability.
type Operation interface {
	// Name identifies the stage in errors, logs, and metrics.
	Name() string

	Execute(ctx context.Context, in <-chan Row) (<-chan Row, error)
}

// ErrorState is the read-only view of the run-wide error flag. Stages that
// need commit/rollback decisions read it after their write completes.
//
// Reads are unsynchronized with respect to concurrent writers: a stale read
// only biases a stage toward committing slightly early or late relative to
// another stage's failure. That race is tolerated.
type ErrorState interface {
	Failed() bool
}

// Signal is the single-writer-many-reader broadcast flag behind ErrorState.
// The run owner records failures; stages hold it as an ErrorState.
type Signal struct {
	failed atomic.Bool
}

// Record marks the current run as failed. Recording an already-failed run is
// a no-op.
func (s *Signal) Record() { s.failed.Store(true) }

// Failed reports whether any stage in the current run has recorded an error.
func (s *Signal) Failed() bool { return s.failed.Load() }

// Empty returns a closed channel carrying no rows. Sink stages return it as
// their output sequence.
func Empty() <-chan Row {
	ch := make(chan Row)
	close(ch)
	return ch
}

// FromRows exposes a fixed slice of rows as a lazily consumed sequence.
// Intended for tests and small in-memory sources.
func FromRows(rows []Row) <-chan Row {
	ch := make(chan Row, 1)
	go func() {
		defer close(ch)
		for _, r := range rows {
			ch <- r
		}
	}()
	return ch
}
