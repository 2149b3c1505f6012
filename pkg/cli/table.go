// Package cli provides terminal rendering helpers for the netmirror
// command line tool.
package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// terminalWidth returns the terminal column count for stdout. The
// COLUMNS environment variable overrides the detected width. Returns 0
// when stdout is not a terminal and COLUMNS is unset, meaning no width
// constraint applies.
func terminalWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if n, err := strconv.Atoi(cols); err == nil && n > 0 {
			return n
		}
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 0
	}
	return w
}

// Table produces column-aligned output. Headers and a dash divider are
// written on Flush, so empty tables produce no output. When a width
// constraint applies, the last column is truncated to fit.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends one row; values are stringified with %v.
func (t *Table) AddRow(values ...interface{}) {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = fmt.Sprintf("%v", v)
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Flush writes the rendered table to w. Empty tables write nothing.
func (t *Table) Flush(w io.Writer) {
	if len(t.rows) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && utf8.RuneCountInString(cell) > widths[i] {
				widths[i] = utf8.RuneCountInString(cell)
			}
		}
	}

	limit := terminalWidth()
	writeRow := func(cells []string) {
		var b strings.Builder
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			if i == len(cells)-1 {
				b.WriteString(cell)
			} else {
				b.WriteString(cell)
				b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)))
			}
		}
		line := b.String()
		if limit > 0 && utf8.RuneCountInString(line) > limit {
			runes := []rune(line)
			line = string(runes[:limit-1]) + "…"
		}
		fmt.Fprintln(w, line)
	}

	writeRow(t.headers)
	divider := make([]string, len(t.headers))
	for i := range t.headers {
		divider[i] = strings.Repeat("-", widths[i])
	}
	writeRow(divider)
	for _, row := range t.rows {
		writeRow(row)
	}
}
