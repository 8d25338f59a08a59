package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/eutopia/collabdash/internal/table"
)

const tabPadding = 2

// isWriterTerminal reports whether w is a terminal file.
func isWriterTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isTerminal(f)
	}
	return false
}

// renderTable writes t as aligned columns under a one-line header. The
// header is styled only on a terminal.
func renderTable(w io.Writer, title string, t *table.Table) error {
	header := fmt.Sprintf("%s (%d rows)", title, t.Len())
	if isWriterTerminal(w) {
		header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render(header)
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	if t == nil || len(t.Columns) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, tabPadding, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Columns, "\t"))
	rule := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		rule[i] = strings.Repeat("-", len(c))
	}
	fmt.Fprintln(tw, strings.Join(rule, "\t"))

	cells := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ReplaceAll(x, "\t", " ")
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
