package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrCorruptPayload is returned by Decode when the payload is not a JSON
// array of flat row objects sharing one key set.
var ErrCorruptPayload = errors.New("corrupt table payload")

// ErrDuplicateColumn is returned by Encode for a table whose column names
// repeat, e.g. SELECT a.id, b.id. Row objects cannot hold both values.
var ErrDuplicateColumn = errors.New("duplicate column name")

// Encode serializes the table as a JSON array with one object per row. Keys
// are written in column order and must be unique.
func Encode(t *Table) ([]byte, error) {
	if t == nil {
		return nil, errors.New("cannot encode nil table")
	}

	seen := make(map[string]struct{}, len(t.Columns))
	keys := make([][]byte, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c)
		}
		seen[c] = struct{}{}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encoding column %q: %w", c, err)
		}
		keys[i] = k
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, fmt.Errorf("row %d has %d values, table has %d columns", r, len(row), len(t.Columns))
		}
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i, v := range row {
			if !IsScalar(v) {
				return nil, fmt.Errorf("%w: row %d column %q holds %T", ErrUnsupportedValue, r, t.Columns[i], v)
			}
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(keys[i])
			buf.WriteByte(':')
			val, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encoding row %d column %q: %w", r, t.Columns[i], err)
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	return buf.Bytes(), nil
}

// Decode parses a payload produced by Encode. The column order is taken from
// the first row; an empty array decodes to a table with no columns.
func Decode(data []byte) (*Table, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrCorruptPayload)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, fmt.Errorf("%w: expected array, got %s", ErrCorruptPayload, doc.Type)
	}

	items := doc.Array()
	t := New()
	if len(items) == 0 {
		return t, nil
	}

	first := items[0]
	if !first.IsObject() {
		return nil, fmt.Errorf("%w: row 0 is not an object", ErrCorruptPayload)
	}
	first.ForEach(func(key, _ gjson.Result) bool {
		t.Columns = append(t.Columns, key.String())
		return true
	})

	index := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrCorruptPayload, c)
		}
		index[c] = i
	}

	t.Rows = make([][]any, 0, len(items))
	for r, item := range items {
		row, err := decodeRow(item, index)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrCorruptPayload, r, err)
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

func decodeRow(item gjson.Result, index map[string]int) ([]any, error) {
	if !item.IsObject() {
		return nil, errors.New("not an object")
	}

	row := make([]any, len(index))
	seen := make([]bool, len(index))
	var rowErr error
	item.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		i, ok := index[name]
		if !ok {
			rowErr = fmt.Errorf("unexpected column %q", name)
			return false
		}
		if seen[i] {
			rowErr = fmt.Errorf("duplicate column %q", name)
			return false
		}
		v, err := scalar(value)
		if err != nil {
			rowErr = fmt.Errorf("column %q: %w", name, err)
			return false
		}
		row[i] = v
		seen[i] = true
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	for name, i := range index {
		if !seen[i] {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return row, nil
}

func scalar(value gjson.Result) (any, error) {
	switch value.Type {
	case gjson.Null:
		return nil, nil
	case gjson.False:
		return false, nil
	case gjson.True:
		return true, nil
	case gjson.String:
		return value.String(), nil
	case gjson.Number:
		return json.Number(value.Raw), nil
	default:
		return nil, errors.New("nested values are not supported")
	}
}
