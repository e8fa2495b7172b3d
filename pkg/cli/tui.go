// Package cli provides configuration, paths and terminal output for the
// handset command.
package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for terminal output.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/help text color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Border lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Value:  lipgloss.NewStyle(),
		Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Primary).Padding(0, 1),
	}
}

// Field is one labeled line of a Panel.
type Field struct {
	Label string
	Value string
}

// Panel renders a titled box of aligned label/value lines.
type Panel struct {
	Styles Styles
	Title  string
	Fields []Field
}

// NewPanel creates a panel with the default styles.
func NewPanel(title string) *Panel {
	return &Panel{Styles: NewStyles(DefaultTheme), Title: title}
}

// Add appends a field and returns the panel for chaining.
func (p *Panel) Add(label, value string) *Panel {
	p.Fields = append(p.Fields, Field{Label: label, Value: value})
	return p
}

// Render renders the panel to a string.
func (p *Panel) Render() string {
	width := 0
	for _, f := range p.Fields {
		width = max(width, lipgloss.Width(f.Label))
	}

	lines := make([]string, 0, len(p.Fields)+2)
	if p.Title != "" {
		lines = append(lines, p.Styles.Title.Render(p.Title), "")
	}
	for _, f := range p.Fields {
		label := f.Label + strings.Repeat(" ", width-lipgloss.Width(f.Label))
		value := f.Value
		if value == "" {
			value = "-"
		}
		lines = append(lines, p.Styles.Label.Render(label)+"  "+p.Styles.Value.Render(value))
	}
	return p.Styles.Border.Render(strings.Join(lines, "\n"))
}

// MaskSecret masks a secret for display, keeping four characters at each
// end of long values.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
