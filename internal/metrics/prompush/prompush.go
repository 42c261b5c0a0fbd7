// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// It maps the pipeline's metric names onto client_golang collectors and
// pushes the registry to a Pushgateway instead of exposing a scrape
// endpoint, which fits short-lived batch runs. All Prometheus-specific
// dependencies stay inside this package.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/dmelanson/rhino-etl/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stageCounter  *prometheus.CounterVec // "pipeline_stage_total"
	stageDuration *prometheus.SummaryVec // "pipeline_stage_duration_seconds"

	outcomeCounter *prometheus.CounterVec // "bulkload_outcome_total"
	rowsCounter    *prometheus.CounterVec // "bulkload_rows_total"
}

// NewBackend constructs a Pushgateway backend. jobName is the Pushgateway
// "job" grouping key; gatewayURL is the base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "pipeline"
	}

	reg := prometheus.NewRegistry()

	stageCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_total",
			Help: "Total pipeline stage executions, partitioned by stage and status.",
		},
		[]string{"stage", "status"},
	)
	stageDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "pipeline_stage_duration_seconds",
			Help:       "Duration of pipeline stages in seconds, partitioned by stage and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"stage", "status"},
	)
	outcomeCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkload_outcome_total",
			Help: "Bulk load outcomes (commit/rollback), partitioned by stage and table.",
		},
		[]string{"stage", "table", "outcome"},
	)
	rowsCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkload_rows_total",
			Help: "Rows streamed per bulk load, partitioned by stage, table, and outcome.",
		},
		[]string{"stage", "table", "outcome"},
	)

	for _, c := range []prometheus.Collector{stageCounter, stageDuration, outcomeCounter, rowsCounter} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	return &Backend{
		gatewayURL:     gatewayURL,
		jobName:        jobName,
		reg:            reg,
		stageCounter:   stageCounter,
		stageDuration:  stageDuration,
		outcomeCounter: outcomeCounter,
		rowsCounter:    rowsCounter,
	}, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "pipeline_stage_total":
		b.stageCounter.WithLabelValues(labels["stage"], labels["status"]).Add(delta)

	case "bulkload_outcome_total":
		b.outcomeCounter.WithLabelValues(labels["stage"], labels["table"], labels["outcome"]).Add(delta)

	case "bulkload_rows_total":
		b.rowsCounter.WithLabelValues(labels["stage"], labels["table"], labels["outcome"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "pipeline_stage_duration_seconds" {
		return
	}
	b.stageDuration.WithLabelValues(labels["stage"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
