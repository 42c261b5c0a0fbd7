package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dmelanson/rhino-etl/internal/config"
	"github.com/dmelanson/rhino-etl/internal/db"
	"github.com/dmelanson/rhino-etl/internal/db/postgres"
	"github.com/dmelanson/rhino-etl/internal/logging"
	"github.com/dmelanson/rhino-etl/internal/metrics"
	"github.com/dmelanson/rhino-etl/internal/metrics/datadog"
	"github.com/dmelanson/rhino-etl/internal/metrics/prompush"
	"github.com/dmelanson/rhino-etl/internal/operations/bulkload"
	"github.com/dmelanson/rhino-etl/internal/operations/csvsource"
	"github.com/dmelanson/rhino-etl/internal/pipeline"
	"github.com/dmelanson/rhino-etl/internal/schema"

	// register all backends with the db factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "github.com/dmelanson/rhino-etl/internal/db/all"
)

// main is the entry point for the bulkload binary. It loads the pipeline
// config, optionally initializes a metrics backend, and executes the
// streaming run: CSV source into a transactional bulk-load sink.
func main() {
	var (
		cfgPath  string
		validate bool
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/sample.json", "pipeline config path (json or yaml)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Parse()

	// Load a .env file when present so ${VAR} references in DSNs resolve.
	_ = godotenv.Load()

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	// If validate flag is set, only validate the configuration and exit
	if validate {
		fmt.Printf("configuration is valid: %v\n", cfgPath)
		os.Exit(0)
	}

	logging.Setup(p.Logging.Level, p.Logging.Format)

	setupMetrics(p.Metrics)
	defer func() {
		if err := metrics.Flush(); err != nil {
			slog.Error("metrics flush failed", "error", err)
		}
	}()

	ctx := context.Background()
	start := time.Now()

	if err := run(ctx, p); err != nil {
		slog.Error("pipeline failed", "error", err)
		os.Exit(1)
	}

	slog.Info("pipeline completed", "elapsed", time.Since(start).Truncate(time.Millisecond))
}

// run assembles the operations from the config and executes one pipeline run.
func run(ctx context.Context, p config.Pipeline) error {
	conns := make(map[string]db.ConnConfig, len(p.Connections))
	for name, c := range p.Connections {
		conns[name] = db.ConnConfig{Kind: c.Kind, DSN: c.DSN}
	}
	provider := db.NewResolver(conns)

	resolver, err := schemaResolver(p)
	if err != nil {
		return err
	}

	loadCfg := bulkload.Config{
		Connection: p.Load.Connection,
		Table:      p.Load.Table,
		Timeout:    p.Load.Timeout(),
		Options: db.Options{
			TableLock:    p.Load.Options.TableLock,
			KeepIdentity: p.Load.Options.KeepIdentity,
			KeepNulls:    p.Load.Options.KeepNulls,
		},
		Mapping: schema.Mapping(p.Load.Mapping),
	}

	// Source and sink share the run's error signal: the sink consults it at
	// commit time, so a source failure mid-stream rolls back whatever rows
	// already reached the transaction.
	signal := &pipeline.Signal{}

	source, err := csvsource.New(csvsource.Config{
		Path:      p.Source.Path,
		Delimiter: p.Source.Delimiter,
		HeaderMap: p.Source.HeaderMap,
		TrimSpace: p.Source.TrimSpace,
	}, signal)
	if err != nil {
		return err
	}

	sink, err := bulkload.New(loadCfg, provider, resolver, signal)
	if err != nil {
		return err
	}

	return pipeline.NewRunnerWithSignal(signal, source, sink).Run(ctx)
}

// schemaResolver builds the configured schema strategy.
func schemaResolver(p config.Pipeline) (bulkload.SchemaResolver, error) {
	switch p.Load.ResolveSchema {
	case "", "static":
		cols := make([]schema.Column, 0, len(p.Load.Columns))
		for _, c := range p.Load.Columns {
			t, err := schema.ParseColType(c.Type)
			if err != nil {
				return nil, err
			}
			cols = append(cols, schema.Column{Name: c.Name, Type: t})
		}
		return bulkload.StaticResolver{Columns: cols}, nil
	case "table":
		conn := p.Connections[p.Load.Connection]
		return postgres.TableResolver{DSN: conn.DSN, Table: p.Load.Table}, nil
	default:
		return nil, fmt.Errorf("config: unsupported resolve_schema=%q", p.Load.ResolveSchema)
	}
}

// setupMetrics installs the configured metrics backend; the nop backend
// remains on any failure.
func setupMetrics(m config.Metrics) {
	switch m.Backend {
	case "pushgateway":
		gwURL := m.GatewayURL
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		jobName := m.JobName
		if jobName == "" {
			jobName = "bulkload_job"
		}
		b, err := prompush.NewBackend(jobName, gwURL)
		if err != nil {
			slog.Warn("metrics: pushgateway init failed, using nop", "error", err)
			return
		}
		slog.Info("metrics: pushgateway enabled", "url", gwURL, "job", jobName)
		metrics.SetBackend(b)

	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:      m.StatsdAddr,
			Namespace: m.Namespace,
		})
		if err != nil {
			slog.Warn("metrics: datadog init failed, using nop", "error", err)
			return
		}
		slog.Info("metrics: datadog enabled", "addr", m.StatsdAddr)
		metrics.SetBackend(b)

	case "", "none":
		// metrics disabled; nop backend remains

	default:
		slog.Warn("metrics: unknown backend, metrics disabled", "backend", m.Backend)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
