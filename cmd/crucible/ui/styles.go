// Package ui provides the visual styling for crucible's CLI output: the
// color theme, summary tables, and the live run dashboard.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Semantic colors, shared by both themes.
var (
	colorPass = lipgloss.Color("#8BC34A") // lime green
	colorFail = lipgloss.Color("#e53935") // red
	colorWarn = lipgloss.Color("#FFC107") // yellow
	colorInfo = lipgloss.Color("#2196F3") // blue
)

// Theme holds the current color scheme.
type Theme struct {
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme.
func LightTheme() Theme {
	return Theme{
		Foreground: lipgloss.Color("#101F38"),
		Primary:    lipgloss.Color("#101F38"),
		Accent:     lipgloss.Color("#8BC34A"),
		Muted:      lipgloss.Color("#6b7685"),
		Border:     lipgloss.Color("#dce0e5"),
		IsDark:     false,
	}
}

// DarkTheme returns the dark mode theme.
func DarkTheme() Theme {
	return Theme{
		Foreground: lipgloss.Color("#f2f2f2"),
		Primary:    lipgloss.Color("#8BC34A"),
		Accent:     lipgloss.Color("#8BC34A"),
		Muted:      lipgloss.Color("#7d8799"),
		Border:     lipgloss.Color("#2a3850"),
		IsDark:     true,
	}
}

// DetectTheme picks a theme from the terminal environment. COLORFGBG is the
// usual "foreground;background" pair; ANSI backgrounds 0-6 and 8 read as
// dark. CRUCIBLE_DARK_MODE=1 forces dark.
func DetectTheme() Theme {
	if colorTerm := os.Getenv("COLORFGBG"); colorTerm != "" {
		parts := strings.Split(colorTerm, ";")
		if len(parts) == 2 {
			if bgIdx, err := strconv.Atoi(parts[1]); err == nil {
				if (bgIdx >= 0 && bgIdx <= 6) || bgIdx == 8 {
					return DarkTheme()
				}
			}
		}
	}
	if os.Getenv("CRUCIBLE_DARK_MODE") == "1" {
		return DarkTheme()
	}
	return LightTheme()
}

// Styles holds the styled components used by tables and the dashboard.
type Styles struct {
	Theme Theme

	Header  lipgloss.Style
	Content lipgloss.Style

	Title lipgloss.Style
	Body  lipgloss.Style
	Muted lipgloss.Style
	Bold  lipgloss.Style

	Pass    lipgloss.Style
	Fail    lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style

	Spinner lipgloss.Style
	Badge   lipgloss.Style
	Divider lipgloss.Style
}

// NewStyles creates a Styles instance for the given theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Background(theme.Primary).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),

		Content: lipgloss.NewStyle().
			Padding(1, 2),

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true).
			MarginBottom(1),

		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Bold: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		Pass: lipgloss.NewStyle().
			Foreground(colorPass).
			Bold(true),

		Fail: lipgloss.NewStyle().
			Foreground(colorFail).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(colorWarn).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(colorInfo),

		Spinner: lipgloss.NewStyle().
			Foreground(theme.Accent),

		Badge: lipgloss.NewStyle().
			Background(theme.Accent).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true),

		Divider: lipgloss.NewStyle().
			Foreground(theme.Border),
	}
}

// DefaultStyles returns styles with the detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// StatusStyle maps a claim or cluster outcome word to its display style.
func (s Styles) StatusStyle(status string) lipgloss.Style {
	switch strings.ToLower(strings.TrimPrefix(status, "/")) {
	case "pass", "passed", "ok":
		return s.Pass
	case "fail", "failed", "error", "errored":
		return s.Fail
	case "skipped", "skip":
		return s.Warning
	default:
		return s.Body
	}
}

// RenderDivider returns a horizontal divider of the given width.
func (s Styles) RenderDivider(width int) string {
	return s.Divider.Render(strings.Repeat("─", width))
}
