// Package ui renders operator-facing CLI output: status tables and
// key/value summaries for cellctl.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	AccentStyle = lipgloss.NewStyle().Foreground(purple)
	OKStyle     = lipgloss.NewStyle().Foreground(green)
	ErrStyle    = lipgloss.NewStyle().Foreground(red)
	WarnStyle   = lipgloss.NewStyle().Foreground(yellow)
	LabelStyle  = lipgloss.NewStyle().Foreground(dim)
)

// DetectColorProfile picks lipgloss's color profile from the real
// terminal when interactive is true, or forces plain ASCII otherwise
// (piped output, CI logs).
func DetectColorProfile(interactive bool) {
	if interactive {
		lipgloss.SetColorProfile(termenv.ColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

func Bool(v bool) string {
	if v {
		return OKStyle.Render("true")
	}
	return ErrStyle.Render("false")
}

func Warn(s string) string { return WarnStyle.Render(s) }
func Err(s string) string  { return ErrStyle.Render(s) }

// Pair is one row of a KeyValues block.
type Pair struct {
	Key   string
	Value string
}

func KV(key, value string) Pair { return Pair{Key: key, Value: value} }

// KeyValues renders aligned "key:  value" lines, trailing newline included.
func KeyValues(pairs ...Pair) string {
	maxLen := 0
	for _, p := range pairs {
		if len(p.Key) > maxLen {
			maxLen = len(p.Key)
		}
	}
	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", maxLen+1, p.Key+":")
		sb.WriteString(LabelStyle.Render(label) + " " + p.Value + "\n")
	}
	return sb.String()
}

// Table renders a rounded-border table, zebra-striped by row.
func Table(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return cellStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}
