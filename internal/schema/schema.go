// Package schema models the destination of a bulk load: the ordered set of
// columns with their declared types, and the source-field to destination-
// column mapping applied during the load.
package schema

import (
	"fmt"
	"sort"
)

// ColType is the declared type of a column. Values are passed through to the
// bulk protocol as-is; the type is carried for cursor metadata and for
// backends that need a declared shape, never for coercion.
type ColType string

const (
	Text  ColType = "text"
	Int   ColType = "int"
	Float ColType = "float"
	Bool  ColType = "bool"
	Time  ColType = "time"
	Bytes ColType = "bytes"
	Any   ColType = "any"
)

// ParseColType maps a config string to a ColType. The empty string means
// Any. Unknown names are rejected.
func ParseColType(s string) (ColType, error) {
	switch ColType(s) {
	case "":
		return Any, nil
	case Text, Int, Float, Bool, Time, Bytes, Any:
		return ColType(s), nil
	default:
		return "", fmt.Errorf("schema: unknown column type %q", s)
	}
}

// Column is one schema entry: a source field name and its declared type.
type Column struct {
	Name string
	Type ColType
}

// Schema is the ordered column set of a load destination, keyed by the
// case-sensitive source field name. It is populated once per execution and
// is immutable afterwards.
type Schema struct {
	cols  []Column
	index map[string]int
}

// New builds a Schema from columns in the given order. Duplicate names are
// rejected.
func New(cols ...Column) (Schema, error) {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		if c.Name == "" {
			return Schema{}, fmt.Errorf("schema: column %d has empty name", i)
		}
		if _, dup := idx[c.Name]; dup {
			return Schema{}, fmt.Errorf("schema: duplicate column %q", c.Name)
		}
		idx[c.Name] = i
	}
	out := make([]Column, len(cols))
	copy(out, cols)
	return Schema{cols: out, index: idx}, nil
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.cols) }

// Columns returns the columns in declaration order. The caller must not
// mutate the returned slice.
func (s Schema) Columns() []Column { return s.cols }

// Fields returns the column names in declaration order.
func (s Schema) Fields() []string {
	out := make([]string, len(s.cols))
	for i, c := range s.cols {
		out[i] = c.Name
	}
	return out
}

// Has reports whether the schema declares the named column.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Type returns the declared type for name.
func (s Schema) Type(name string) (ColType, bool) {
	i, ok := s.index[name]
	if !ok {
		return "", false
	}
	return s.cols[i].Type, true
}

// Mapping relates a source field name to its destination column name. The
// destination side is case-sensitive because bulk protocols are.
type Mapping map[string]string

// FillIdentity adds Mapping[name] = name for every schema column that has no
// entry yet. Entries the caller set are never overwritten; the fill is
// additive only.
func (m Mapping) FillIdentity(s Schema) {
	for _, c := range s.Columns() {
		if _, ok := m[c.Name]; !ok {
			m[c.Name] = c.Name
		}
	}
}

// Validate checks that every mapping key names a schema column. A key
// outside the schema is a configuration error surfaced before any I/O.
func (m Mapping) Validate(s Schema) error {
	var bad []string
	for k := range m {
		if !s.Has(k) {
			bad = append(bad, k)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return fmt.Errorf("mapping references unknown schema columns %v", bad)
}

// Destinations returns the destination column names in schema order.
// Validate must have passed; fields without a mapping entry fall back to
// their own name.
func (m Mapping) Destinations(s Schema) []string {
	out := make([]string, 0, s.Len())
	for _, c := range s.Columns() {
		dest, ok := m[c.Name]
		if !ok {
			dest = c.Name
		}
		out = append(out, dest)
	}
	return out
}
