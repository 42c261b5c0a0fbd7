// Package csvsource implements a source stage that streams a CSV file as
// rows, one record at a time. The header row names the fields; an optional
// header map renames raw headers to canonical field names.
package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dmelanson/rhino-etl/internal/pipeline"
)

// ErrorRecorder receives mid-stream failures. A source cannot return an
// error after Execute has handed out its output channel, so read errors are
// recorded on the run's signal and the stream ends early; the sink's
// commit-time check then discards the partial load.
type ErrorRecorder interface {
	Record()
}

// Config is the source stage's configuration surface.
type Config struct {
	// Name identifies the stage in errors and logs.
	Name string
	// Path is the CSV file to stream. Required.
	Path string
	// Delimiter is the field separator; empty means comma.
	Delimiter string
	// HeaderMap renames raw CSV headers to canonical field names.
	HeaderMap map[string]string
	// TrimSpace trims surrounding whitespace from every field value.
	TrimSpace bool
	// Buffer is the output channel capacity; zero means 256.
	Buffer int
}

// Operation streams a CSV file as pipeline rows.
type Operation struct {
	cfg  Config
	errs ErrorRecorder
}

// New validates the configuration and builds the stage.
func New(cfg Config, errs ErrorRecorder) (*Operation, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("csvsource: path is required")
	}
	if errs == nil {
		return nil, fmt.Errorf("csvsource: error recorder is required")
	}
	if cfg.Name == "" {
		cfg.Name = "csvsource"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Operation{cfg: cfg, errs: errs}, nil
}

// Name implements pipeline.Operation.
func (o *Operation) Name() string { return o.cfg.Name }

// Execute opens the file and reads the header synchronously, so obvious
// mistakes fail the stage. Row streaming then continues in the background;
// the input sequence is ignored (this is a source stage).
func (o *Operation) Execute(ctx context.Context, _ <-chan pipeline.Row) (<-chan pipeline.Row, error) {
	f, err := os.Open(o.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.cfg.Name, err)
	}

	r := csv.NewReader(f)
	if o.cfg.Delimiter != "" {
		r.Comma = rune(o.cfg.Delimiter[0])
	}
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: read header: %w", o.cfg.Name, err)
	}
	fields := o.canonicalFields(header)

	out := make(chan pipeline.Row, o.cfg.Buffer)
	go o.stream(ctx, f, r, fields, out)
	return out, nil
}

// canonicalFields applies the header map to the raw header.
func (o *Operation) canonicalFields(header []string) []string {
	fields := make([]string, len(header))
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		if mapped, ok := o.cfg.HeaderMap[name]; ok && mapped != "" {
			name = mapped
		}
		fields[i] = name
	}
	return fields
}

func (o *Operation) stream(ctx context.Context, f *os.File, r *csv.Reader, fields []string, out chan<- pipeline.Row) {
	defer close(out)
	defer f.Close()

	line := 1 // header was line 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return
		}
		line++
		if err != nil {
			// A malformed row fails the whole run: record and stop so the
			// sink rolls the partial load back.
			o.errs.Record()
			slog.Error("csv read failed", "stage", o.cfg.Name, "line", line, "error", err)
			return
		}

		row := make(pipeline.Row, len(fields))
		for i, name := range fields {
			if i >= len(rec) {
				row[name] = nil
				continue
			}
			v := rec[i]
			if o.cfg.TrimSpace {
				v = strings.TrimSpace(v)
			}
			row[name] = v
		}

		select {
		case out <- row:
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.Canceled) {
				slog.Warn("csv stream interrupted", "stage", o.cfg.Name, "line", line, "error", ctx.Err())
			}
			return
		}
	}
}
