package bulkload

import (
	"context"
	"fmt"

	"github.com/dmelanson/rhino-etl/internal/schema"
)

// StaticResolver resolves the schema from a fixed column declaration,
// typically loaded from the pipeline config.
type StaticResolver struct {
	Columns []schema.Column
}

// Resolve implements SchemaResolver.
func (r StaticResolver) Resolve(ctx context.Context) (schema.Schema, error) {
	if len(r.Columns) == 0 {
		return schema.Schema{}, fmt.Errorf("static resolver: no columns declared")
	}
	return schema.New(r.Columns...)
}

// ResolverFunc adapts a function to SchemaResolver.
type ResolverFunc func(ctx context.Context) (schema.Schema, error)

// Resolve implements SchemaResolver.
func (f ResolverFunc) Resolve(ctx context.Context) (schema.Schema, error) { return f(ctx) }
