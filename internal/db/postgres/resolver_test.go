package postgres

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/dmelanson/rhino-etl/internal/schema"
)

func withFakeColumns(t *testing.T, fn func(ctx context.Context, dsn, ns, table string) ([]schema.Column, error)) {
	t.Helper()
	orig := fetchColumnsFn
	fetchColumnsFn = fn
	t.Cleanup(func() { fetchColumnsFn = orig })
}

// TestTableResolver verifies the namespace split and the resulting schema
// order.
func TestTableResolver(t *testing.T) {
	var gotNS, gotTable string
	withFakeColumns(t, func(ctx context.Context, dsn, ns, table string) ([]schema.Column, error) {
		gotNS, gotTable = ns, table
		return []schema.Column{
			{Name: "id", Type: schema.Int},
			{Name: "name", Type: schema.Text},
		}, nil
	})

	s, err := TableResolver{DSN: "postgres://x", Table: "sales.orders"}.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if gotNS != "sales" || gotTable != "orders" {
		t.Fatalf("split = %q.%q, want sales.orders", gotNS, gotTable)
	}
	if got, want := s.Fields(), []string{"id", "name"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("fields = %v, want %v", got, want)
	}
}

// TestTableResolver_DefaultNamespace verifies an unqualified table resolves
// in public.
func TestTableResolver_DefaultNamespace(t *testing.T) {
	var gotNS string
	withFakeColumns(t, func(ctx context.Context, dsn, ns, table string) ([]schema.Column, error) {
		gotNS = ns
		return []schema.Column{{Name: "id"}}, nil
	})

	if _, err := (TableResolver{Table: "orders"}).Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if gotNS != "public" {
		t.Fatalf("namespace = %q, want public", gotNS)
	}
}

// TestTableResolver_Failures covers the missing-table and query-error paths.
func TestTableResolver_Failures(t *testing.T) {
	if _, err := (TableResolver{}).Resolve(context.Background()); err == nil {
		t.Errorf("empty table accepted")
	}

	withFakeColumns(t, func(ctx context.Context, dsn, ns, table string) ([]schema.Column, error) {
		return nil, nil
	})
	_, err := TableResolver{Table: "ghost"}.Resolve(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no columns") {
		t.Errorf("missing table error = %v", err)
	}

	withFakeColumns(t, func(ctx context.Context, dsn, ns, table string) ([]schema.Column, error) {
		return nil, errors.New("connection refused")
	})
	_, err = TableResolver{Table: "orders"}.Resolve(context.Background())
	if err == nil || !strings.Contains(err.Error(), "resolve schema for orders") {
		t.Errorf("query error = %v", err)
	}
}

// TestMapPgType spot-checks the information_schema type mapping.
func TestMapPgType(t *testing.T) {
	t.Parallel()

	cases := map[string]schema.ColType{
		"integer":                     schema.Int,
		"bigint":                      schema.Int,
		"numeric":                     schema.Float,
		"boolean":                     schema.Bool,
		"timestamp with time zone":    schema.Time,
		"timestamp without time zone": schema.Time,
		"bytea":                       schema.Bytes,
		"character varying":           schema.Text,
		"jsonb":                       schema.Any,
	}
	for in, want := range cases {
		if got := mapPgType(in); got != want {
			t.Errorf("mapPgType(%q) = %v, want %v", in, got, want)
		}
	}
}
