// Package table holds the tabular result shared by the source connector, the
// query cache and the dashboard layer.
//
// A Table keeps its columns in source order and stores every cell as one of
// the JSON-native scalar types: nil, bool, string or json.Number. Keeping the
// cell set that narrow is what makes a result served from the cache compare
// equal to the same result read fresh from the database.
package table

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedValue is returned when a cell holds a value outside the
// scalar set a Table can carry.
var ErrUnsupportedValue = errors.New("unsupported cell value")

// Table is an ordered sequence of rows over a fixed column set.
type Table struct {
	// Columns are the raw column names in source order.
	Columns []string `json:"columns"`

	// Rows holds one slice per row, positionally aligned with Columns.
	Rows [][]any `json:"rows"`
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols, Rows: [][]any{}}
}

// Append adds a row. The number of values must match the column count and
// every value must be a supported scalar.
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.Columns))
	}
	for i, v := range values {
		if !IsScalar(v) {
			return fmt.Errorf("%w: column %q holds %T", ErrUnsupportedValue, t.Columns[i], v)
		}
	}
	row := make([]any, len(values))
	copy(row, values)
	t.Rows = append(t.Rows, row)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the index of the named column, or -1.
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at row i in the named column.
func (t *Table) Value(i int, column string) (any, bool) {
	idx := t.Column(column)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return nil, false
	}
	return t.Rows[i][idx], true
}

// Records returns the rows as column-name keyed maps.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for i, c := range t.Columns {
			rec[c] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := New(t.Columns...)
	for _, row := range t.Rows {
		r := make([]any, len(row))
		copy(r, row)
		out.Rows = append(out.Rows, r)
	}
	return out
}

// Drop returns a copy of the table without the named columns. Unknown names
// are ignored.
func (t *Table) Drop(columns ...string) *Table {
	drop := make(map[string]bool, len(columns))
	for _, c := range columns {
		drop[c] = true
	}
	var keep []int
	var names []string
	for i, c := range t.Columns {
		if !drop[c] {
			keep = append(keep, i)
			names = append(names, c)
		}
	}
	out := New(names...)
	for _, row := range t.Rows {
		r := make([]any, len(keep))
		for j, i := range keep {
			r[j] = row[i]
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}

// Filter returns a copy holding only the rows keep accepts.
func (t *Table) Filter(keep func(row []any) bool) *Table {
	out := New(t.Columns...)
	for _, row := range t.Rows {
		if keep(row) {
			r := make([]any, len(row))
			copy(r, row)
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// IsScalar reports whether v is one of the cell types a Table carries.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, json.Number:
		return true
	default:
		return false
	}
}

// Float reads a numeric cell as float64.
func Float(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}
