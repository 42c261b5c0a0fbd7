package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/dmelanson/rhino-etl/internal/schema"
)

// TableResolver resolves a load schema by introspecting the destination
// table's columns in information_schema. It opens its own short-lived
// connection; resolution happens before the load connection is acquired.
type TableResolver struct {
	DSN   string
	Table string // possibly schema-qualified; namespace defaults to "public"
}

// querier is the subset of *pgx.Conn used for introspection.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

// Test hooks: fetchColumnsFn lets tests bypass the query entirely;
// queryConnectFn lets them fake the connection.
var (
	fetchColumnsFn = fetchColumns

	queryConnectFn = func(ctx context.Context, dsn string) (querier, error) {
		return pgx.Connect(ctx, dsn)
	}
)

// Resolve queries the destination table's column names and types, in ordinal
// order.
func (r TableResolver) Resolve(ctx context.Context) (schema.Schema, error) {
	if r.Table == "" {
		return schema.Schema{}, fmt.Errorf("table resolver: table is required")
	}
	ns, table := "public", r.Table
	if i := strings.IndexByte(r.Table, '.'); i >= 0 {
		ns, table = r.Table[:i], r.Table[i+1:]
	}
	cols, err := fetchColumnsFn(ctx, r.DSN, ns, table)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("resolve schema for %s: %w", r.Table, err)
	}
	if len(cols) == 0 {
		return schema.Schema{}, fmt.Errorf("resolve schema: table %s has no columns (missing table?)", r.Table)
	}
	return schema.New(cols...)
}

func fetchColumns(ctx context.Context, dsn, ns, table string) ([]schema.Column, error) {
	conn, err := queryConnectFn(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx connect: %w", err)
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx,
		`SELECT column_name, data_type
		   FROM information_schema.columns
		  WHERE table_schema = $1 AND table_name = $2
		  ORDER BY ordinal_position`, ns, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		cols = append(cols, schema.Column{Name: name, Type: mapPgType(typ)})
	}
	return cols, rows.Err()
}

// mapPgType maps information_schema data_type strings onto declared column
// types. Unknown types pass through as Any; the bulk protocol sees the raw
// values either way.
func mapPgType(t string) schema.ColType {
	switch strings.ToLower(t) {
	case "smallint", "integer", "bigint":
		return schema.Int
	case "real", "double precision", "numeric":
		return schema.Float
	case "boolean":
		return schema.Bool
	case "date", "timestamp without time zone", "timestamp with time zone":
		return schema.Time
	case "bytea":
		return schema.Bytes
	case "text", "character varying", "character":
		return schema.Text
	default:
		return schema.Any
	}
}
