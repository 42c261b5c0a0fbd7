package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmelanson/rhino-etl/internal/metrics"
)

// Runner chains operations into a run: each stage's output feeds the next
// stage's input. A stage error is recorded on the run's Signal before it
// propagates, so stages downstream that are already streaming can observe it
// at commit time.
type Runner struct {
	ops    []Operation
	signal *Signal
}

// NewRunner builds a Runner over the given stages, executed in order.
func NewRunner(ops ...Operation) *Runner {
	return &Runner{ops: ops, signal: &Signal{}}
}

// NewRunnerWithSignal builds a Runner that shares an existing Signal,
// for callers that constructed their stages around it first.
func NewRunnerWithSignal(signal *Signal, ops ...Operation) *Runner {
	return &Runner{ops: ops, signal: signal}
}

// Signal returns the run-wide error signal. Stages that decide commit versus
// rollback should be constructed with this as their ErrorState.
func (r *Runner) Signal() *Signal { return r.signal }

// Run executes the stages in order and drains any rows the final stage
// emits. It returns the first stage error encountered.
func (r *Runner) Run(ctx context.Context) error {
	// Stages stream through goroutines that watch this context; canceling
	// on every exit path releases upstream streamers when a later stage
	// fails instead of leaving them blocked on a full channel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runID := uuid.NewString()
	start := time.Now()
	slog.Info("pipeline run starting", "run_id", runID, "stages", len(r.ops))

	in := Empty()
	for _, op := range r.ops {
		stageStart := time.Now()
		out, err := op.Execute(ctx, in)
		metrics.RecordStage(op.Name(), err, time.Since(stageStart))
		if err != nil {
			r.signal.Record()
			slog.Error("pipeline stage failed", "run_id", runID, "stage", op.Name(), "error", err)
			return fmt.Errorf("stage %s: %w", op.Name(), err)
		}
		in = out
	}

	// The last stage is normally a sink; drain whatever it emits.
	for range in {
	}

	slog.Info("pipeline run finished",
		"run_id", runID,
		"failed", r.signal.Failed(),
		"elapsed", time.Since(start).Truncate(time.Millisecond),
	)
	return nil
}
