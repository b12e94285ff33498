package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/raphaelgruber/kbsync/internal/models"
)

// Theme defines the color scheme for status output.
type Theme struct {
	Active  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Active:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) activeStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Active)
}

func (t Theme) successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// printer renders statuses, colored only when writing to a terminal.
type printer struct {
	theme Theme
	color bool
}

func newPrinter(w io.Writer) printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return printer{theme: defaultTheme, color: color}
}

func (p printer) render(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

// documentStatus pads before styling so ANSI codes do not break column widths.
func (p printer) documentStatus(s models.KBStatus, width int) string {
	text := padRight(string(s), width)
	switch s {
	case models.KBStatusSynced:
		return p.render(p.theme.successStyle(), text)
	case models.KBStatusFailed:
		return p.render(p.theme.errorStyle(), text)
	case models.KBStatusIngesting:
		return p.render(p.theme.activeStyle(), text)
	default:
		return p.render(p.theme.hintStyle(), text)
	}
}

func (p printer) jobStatus(s models.JobStatus, width int) string {
	text := padRight(string(s), width)
	switch s {
	case models.JobStatusComplete:
		return p.render(p.theme.successStyle(), text)
	case models.JobStatusFailed:
		return p.render(p.theme.errorStyle(), text)
	case models.JobStatusInProgress, models.JobStatusStarting:
		return p.render(p.theme.activeStyle(), text)
	default:
		return p.render(p.theme.hintStyle(), text)
	}
}

func padRight(s string, width int) string {
	for len(s) < width {
		s += " "
	}
	return s
}
