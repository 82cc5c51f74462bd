package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

type tone int

const (
	toneNeutral tone = iota
	toneOK
	toneWarn
	toneFail
)

// printer writes human summaries, styled when attached to a terminal.
type printer struct {
	out    io.Writer
	styled bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{out: w, styled: isTerminal(w)}
}

func (p *printer) paint(t tone, s string) string {
	if !p.styled {
		return s
	}
	switch t {
	case toneOK:
		return successStyle.Render(s)
	case toneWarn:
		return warnStyle.Render(s)
	case toneFail:
		return failureStyle.Render(s)
	}
	return mutedStyle.Render(s)
}

func (p *printer) title(s string) {
	if p.styled {
		s = titleStyle.Render(s)
	}
	fmt.Fprintln(p.out, s)
}

func (p *printer) line(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// table prints rows as padded columns. The tone of each row colours its
// status column.
func (p *printer) table(header []string, rows [][]string, tones []tone, statusCol int) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	render := func(row []string, t tone, head bool) string {
		cells := make([]string, len(row))
		for i, cell := range row {
			padded := cell
			if i < len(row)-1 {
				padded = cell + strings.Repeat(" ", widths[i]-len(cell))
			}
			switch {
			case head && p.styled:
				padded = titleStyle.Render(padded)
			case i == statusCol:
				padded = p.paint(t, padded)
			}
			cells[i] = padded
		}
		return strings.TrimRight(strings.Join(cells, "  "), " ")
	}

	fmt.Fprintln(p.out, render(header, toneNeutral, true))
	for i, row := range rows {
		fmt.Fprintln(p.out, render(row, tones[i], false))
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return s[:limit]
	}
	return s[:limit-3] + "..."
}
