package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Align controls horizontal placement within a table column.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// Column describes one table column.
type Column struct {
	Header string
	Align  Align
	// Status colors cells through Styles.StatusStyle.
	Status bool
}

// Table renders static tabular data with per-column alignment and optional
// status coloring. Rows wider than the column set are truncated; narrower
// rows leave trailing cells blank.
type Table struct {
	Title   string
	Columns []Column
	Rows    [][]string
}

// NewTable creates a table with the given title and columns.
func NewTable(title string, cols ...Column) *Table {
	return &Table{Title: title, Columns: cols}
}

// AddRow appends one row of cells.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// View renders the table using the provided styles.
func (t *Table) View(styles Styles) string {
	if len(t.Rows) == 0 || len(t.Columns) == 0 {
		return ""
	}

	widths := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		widths[i] = lipgloss.Width(c.Header)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(styles.Title.Render(t.Title))
		sb.WriteString("\n")
	}

	sep := styles.Muted.Render("  ")
	for i, c := range t.Columns {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(styles.Bold.Render(pad(c.Header, widths[i], c.Align)))
	}
	sb.WriteString("\n")

	total := 0
	for _, w := range widths {
		total += w
	}
	total += 2 * (len(t.Columns) - 1)
	sb.WriteString(styles.RenderDivider(total))
	sb.WriteString("\n")

	for _, row := range t.Rows {
		for i, c := range t.Columns {
			if i > 0 {
				sb.WriteString(sep)
			}
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			style := styles.Body
			if c.Status {
				style = styles.StatusStyle(cell)
			}
			sb.WriteString(style.Render(pad(cell, widths[i], c.Align)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func pad(s string, width int, a Align) string {
	gap := width - lipgloss.Width(s)
	if gap <= 0 {
		return s
	}
	if a == AlignRight {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}
