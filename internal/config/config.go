// Package config defines the serializable pipeline configuration: named
// connections, the CSV source, and the bulk-load sink. Files are JSON or
// YAML, chosen by extension. DSNs may reference environment variables with
// ${VAR} syntax; they are expanded at load time.
package config

import (
	"fmt"
	"time"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Connections names each connection the pipeline may acquire.
	Connections map[string]Connection `json:"connections" yaml:"connections"`

	// Source configures the CSV input.
	Source Source `json:"source" yaml:"source"`

	// Load configures the bulk-load sink.
	Load LoadSpec `json:"load" yaml:"load"`

	// Logging configures the process logger.
	Logging Logging `json:"logging" yaml:"logging"`

	// Metrics selects and configures the metrics backend.
	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

// Connection is one named connection: a backend kind and its DSN.
type Connection struct {
	// Kind selects the backend: "postgres", "mssql", "mysql", "sqlite".
	Kind string `json:"kind" yaml:"kind"`

	// DSN is the backend-specific connection string. ${VAR} references are
	// expanded from the environment.
	DSN string `json:"dsn" yaml:"dsn"`
}

// Source configures the CSV source stage.
type Source struct {
	// Path is the local CSV file to stream.
	Path string `json:"path" yaml:"path"`

	// Delimiter is the field separator; empty means comma.
	Delimiter string `json:"delimiter" yaml:"delimiter"`

	// HeaderMap renames raw CSV headers to canonical field names,
	// e.g. { "Order ID": "order_id" }.
	HeaderMap map[string]string `json:"header_map" yaml:"header_map"`

	// TrimSpace trims surrounding whitespace from field values.
	TrimSpace bool `json:"trim_space" yaml:"trim_space"`
}

// Column declares one schema column for the static resolver.
type Column struct {
	Name string `json:"name" yaml:"name"`
	// Type is a declared column type: text, int, float, bool, time, bytes.
	Type string `json:"type" yaml:"type"`
}

// Options are the bulk-load flags.
type Options struct {
	TableLock    bool `json:"table_lock" yaml:"table_lock"`
	KeepIdentity bool `json:"keep_identity" yaml:"keep_identity"`
	KeepNulls    bool `json:"keep_nulls" yaml:"keep_nulls"`
}

// LoadSpec configures the bulk-load sink stage.
type LoadSpec struct {
	// Connection names an entry in Pipeline.Connections.
	Connection string `json:"connection" yaml:"connection"`

	// Table is the destination table, possibly schema-qualified.
	Table string `json:"table" yaml:"table"`

	// TimeoutSeconds bounds the bulk write; 0 means the default (600).
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`

	// ResolveSchema selects the schema strategy: "static" (Columns below) or
	// "table" (introspect the destination; postgres connections only).
	// Empty means "static".
	ResolveSchema string `json:"resolve_schema" yaml:"resolve_schema"`

	// Columns declares the schema for the "static" strategy.
	Columns []Column `json:"columns" yaml:"columns"`

	// Mapping pre-populates source-field to destination-column entries;
	// unmapped schema columns map to themselves.
	Mapping map[string]string `json:"mapping" yaml:"mapping"`

	// Options are the bulk-load flags.
	Options Options `json:"options" yaml:"options"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend: "" or "none", "pushgateway", "datadog".
	Backend string `json:"backend" yaml:"backend"`

	// Pushgateway settings (backend "pushgateway").
	GatewayURL string `json:"gateway_url" yaml:"gateway_url"`
	JobName    string `json:"job_name" yaml:"job_name"`

	// Datadog settings (backend "datadog").
	StatsdAddr string `json:"statsd_addr" yaml:"statsd_addr"`
	Namespace  string `json:"namespace" yaml:"namespace"`
}

// Timeout returns the configured load timeout as a duration, or zero when
// unset.
func (l LoadSpec) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Validate checks the cross-field constraints a decoder cannot.
func (p Pipeline) Validate() error {
	if p.Source.Path == "" {
		return fmt.Errorf("config: source.path is required")
	}
	if p.Load.Table == "" {
		return fmt.Errorf("config: load.table is required")
	}
	if p.Load.Connection == "" {
		return fmt.Errorf("config: load.connection is required")
	}
	conn, ok := p.Connections[p.Load.Connection]
	if !ok {
		return fmt.Errorf("config: load.connection %q is not declared in connections", p.Load.Connection)
	}
	switch p.Load.ResolveSchema {
	case "", "static":
		if len(p.Load.Columns) == 0 {
			return fmt.Errorf("config: load.columns is required with the static schema strategy")
		}
	case "table":
		if conn.Kind != "postgres" {
			return fmt.Errorf("config: resolve_schema=table requires a postgres connection, got %q", conn.Kind)
		}
	default:
		return fmt.Errorf("config: unsupported resolve_schema=%q", p.Load.ResolveSchema)
	}
	return nil
}
