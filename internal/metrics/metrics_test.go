package metrics

import (
	"errors"
	"testing"
	"time"
)

// recBackend records the calls it receives.
type recBackend struct {
	counters   map[string]float64
	histograms map[string]float64
	lastLabels Labels
	flushed    bool
}

func newRecBackend() *recBackend {
	return &recBackend{counters: map[string]float64{}, histograms: map[string]float64{}}
}

func (b *recBackend) IncCounter(name string, delta float64, labels Labels) {
	b.counters[name] += delta
	b.lastLabels = labels
}

func (b *recBackend) ObserveHistogram(name string, value float64, labels Labels) {
	b.histograms[name] = value
	b.lastLabels = labels
}

func (b *recBackend) Flush() error { b.flushed = true; return nil }

func install(t *testing.T, b Backend) {
	t.Helper()
	prev := backend
	SetBackend(b)
	t.Cleanup(func() { backend = prev })
}

// TestRecordStage verifies the status label follows the error.
func TestRecordStage(t *testing.T) {
	b := newRecBackend()
	install(t, b)

	RecordStage("load", nil, 250*time.Millisecond)
	if b.lastLabels["status"] != "success" {
		t.Fatalf("labels = %v", b.lastLabels)
	}
	if b.counters["pipeline_stage_total"] != 1 {
		t.Fatalf("counter = %v", b.counters)
	}
	if got := b.histograms["pipeline_stage_duration_seconds"]; got != 0.25 {
		t.Fatalf("duration = %v", got)
	}

	RecordStage("load", errors.New("x"), time.Second)
	if b.lastLabels["status"] != "failure" {
		t.Fatalf("labels = %v", b.lastLabels)
	}
}

// TestRecordOutcome verifies the row counter is only emitted for non-empty
// loads.
func TestRecordOutcome(t *testing.T) {
	b := newRecBackend()
	install(t, b)

	RecordOutcome("load", "orders", "rollback", 0)
	if b.counters["bulkload_outcome_total"] != 1 {
		t.Fatalf("counters = %v", b.counters)
	}
	if _, ok := b.counters["bulkload_rows_total"]; ok {
		t.Fatalf("rows counter emitted for empty load")
	}

	RecordOutcome("load", "orders", "commit", 42)
	if b.counters["bulkload_rows_total"] != 42 {
		t.Fatalf("counters = %v", b.counters)
	}
	if b.lastLabels["outcome"] != "commit" || b.lastLabels["table"] != "orders" {
		t.Fatalf("labels = %v", b.lastLabels)
	}
}

// TestSetBackend_NilKeepsCurrent verifies nil never clobbers the backend.
func TestSetBackend_NilKeepsCurrent(t *testing.T) {
	b := newRecBackend()
	install(t, b)

	SetBackend(nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if !b.flushed {
		t.Fatalf("nil SetBackend replaced the backend")
	}
}
