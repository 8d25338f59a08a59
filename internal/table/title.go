package table

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TitleCase turns a snake_case column name into title case with spaces,
// e.g. "single_author_publications" becomes "Single Author Publications".
func TitleCase(column string) string {
	return cases.Title(language.Und).String(strings.ReplaceAll(column, "_", " "))
}

// TitleColumns returns a copy of t whose column names are title cased.
// Row storage is shared with t.
func TitleColumns(t *Table) *Table {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = TitleCase(c)
	}
	return &Table{Columns: cols, Rows: t.Rows}
}
