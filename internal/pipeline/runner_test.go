package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeOp is a scriptable stage for runner tests.
type fakeOp struct {
	name string
	fn   func(ctx context.Context, in <-chan Row) (<-chan Row, error)

	sawInput []Row
}

func (f *fakeOp) Name() string { return f.name }

func (f *fakeOp) Execute(ctx context.Context, in <-chan Row) (<-chan Row, error) {
	return f.fn(ctx, in)
}

// TestRunner_ChainsStages verifies each stage's output feeds the next one and
// the final output is drained.
func TestRunner_ChainsStages(t *testing.T) {
	t.Parallel()

	src := &fakeOp{name: "src", fn: func(ctx context.Context, in <-chan Row) (<-chan Row, error) {
		return FromRows([]Row{{"n": 1}, {"n": 2}}), nil
	}}

	sink := &fakeOp{name: "sink"}
	sink.fn = func(ctx context.Context, in <-chan Row) (<-chan Row, error) {
		for r := range in {
			sink.sawInput = append(sink.sawInput, r)
		}
		return Empty(), nil
	}

	r := NewRunner(src, sink)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(sink.sawInput) != 2 {
		t.Fatalf("sink saw %d rows, want 2", len(sink.sawInput))
	}
	if r.Signal().Failed() {
		t.Fatalf("clean run left the signal failed")
	}
}

// TestRunner_StageErrorRecordsSignal verifies a failing stage sets the
// run-wide signal, stops the run, and wraps the error with the stage name.
func TestRunner_StageErrorRecordsSignal(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	bad := &fakeOp{name: "bad", fn: func(ctx context.Context, in <-chan Row) (<-chan Row, error) {
		return nil, boom
	}}
	neverRan := false
	next := &fakeOp{name: "next", fn: func(ctx context.Context, in <-chan Row) (<-chan Row, error) {
		neverRan = true
		return Empty(), nil
	}}

	r := NewRunner(bad, next)
	err := r.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want wrapped boom", err)
	}
	if !strings.Contains(err.Error(), "stage bad") {
		t.Fatalf("error not wrapped with stage name: %v", err)
	}
	if !r.Signal().Failed() {
		t.Fatalf("signal not recorded on stage failure")
	}
	if neverRan {
		t.Fatalf("stage after the failure still ran")
	}
}

// TestRunner_CancelReleasesUpstreamOnFailure verifies that a sink failure
// unblocks an upstream streaming goroutine: the runner's context is canceled
// on exit, so a source stuck on a full output channel exits instead of
// leaking.
func TestRunner_CancelReleasesUpstreamOnFailure(t *testing.T) {
	t.Parallel()

	stopped := make(chan struct{})
	src := &fakeOp{name: "src", fn: func(ctx context.Context, in <-chan Row) (<-chan Row, error) {
		out := make(chan Row) // unbuffered: the writer blocks once the sink stops reading
		go func() {
			defer close(stopped)
			defer close(out)
			for {
				select {
				case out <- Row{"n": 1}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}}
	sink := &fakeOp{name: "sink", fn: func(ctx context.Context, in <-chan Row) (<-chan Row, error) {
		<-in // consume one row, then fail with the stream still open
		return nil, errors.New("sink exploded")
	}}

	if err := NewRunner(src, sink).Run(context.Background()); err == nil {
		t.Fatalf("expected the sink error")
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("source goroutine still blocked after the sink failed")
	}
}

// TestNewRunnerWithSignal verifies a shared signal is the one the runner
// records on.
func TestNewRunnerWithSignal(t *testing.T) {
	t.Parallel()

	shared := &Signal{}
	bad := &fakeOp{name: "bad", fn: func(ctx context.Context, in <-chan Row) (<-chan Row, error) {
		return nil, errors.New("nope")
	}}

	r := NewRunnerWithSignal(shared, bad)
	if r.Signal() != shared {
		t.Fatalf("runner did not adopt the shared signal")
	}
	_ = r.Run(context.Background())
	if !shared.Failed() {
		t.Fatalf("shared signal not recorded")
	}
}
