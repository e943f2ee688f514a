// Package table holds the in-memory column-ordered tables decoded from the
// array store and passed through the query pipeline.
package table

import (
	"math"
)

// Kind describes the value type carried by a column.
type Kind string

const (
	KindString Kind = "string"
	KindFloat  Kind = "float"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
)

// Column describes one field of a table. Categorical reports whether the
// values were decoded from a categorical (codes + categories) encoding.
type Column struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"type"`
	Categorical bool   `json:"categorical,omitempty"`
}

// Table is a row-major table with a declared column order. Cell values are
// string, float64, int64, bool or nil (missing). Index optionally carries the
// row labels (the dataframe index, e.g. barcodes).
//
// Tables handed out by the store are shared between requests and must be
// treated as immutable; operations return new tables.
type Table struct {
	Columns []Column
	Index   []string
	Rows    [][]any
}

// New constructs an empty table with the given columns.
func New(columns ...Column) *Table {
	return &Table{Columns: append([]Column(nil), columns...)}
}

// Len returns the number of rows; a nil table has none.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Names returns the column names in declared order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	if t == nil {
		return -1
	}
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Lookup returns the position of the first column matching one of names, in
// the order the names are given.
func (t *Table) Lookup(names ...string) (int, bool) {
	for _, n := range names {
		if i := t.ColumnIndex(n); i >= 0 {
			return i, true
		}
	}
	return -1, false
}

// Append adds a row. The row length must match the column count.
func (t *Table) Append(row ...any) {
	t.Rows = append(t.Rows, row)
}

// IndexLabel returns the index label for row i, falling back to nothing when
// the table has no index.
func (t *Table) IndexLabel(i int) (string, bool) {
	if t == nil || i < 0 || i >= len(t.Index) {
		return "", false
	}
	return t.Index[i], true
}

// String returns the value as a string when it is one.
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Float returns a finite numeric value as float64. NaN, nil and non-numeric
// values report false.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case float32:
		if math.IsNaN(float64(n)) {
			return 0, false
		}
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// KindOf infers the column kind of a single value.
func KindOf(v any) Kind {
	switch v.(type) {
	case float64, float32:
		return KindFloat
	case int64, int:
		return KindInt
	case bool:
		return KindBool
	default:
		return KindString
	}
}
