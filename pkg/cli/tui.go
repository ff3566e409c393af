package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/help text color
	Warn    lipgloss.Color
	Fail    lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Warn:    lipgloss.Color("#e3b341"),
	Fail:    lipgloss.Color("#f85149"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Border  lipgloss.Style
	Help    lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

// DefaultStyles are derived from DefaultTheme.
var DefaultStyles = NewStyles(DefaultTheme)

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border:  lipgloss.NewStyle().Foreground(t.Primary),
		Help:    lipgloss.NewStyle().Foreground(t.Dim),
		Success: lipgloss.NewStyle().Foreground(t.Primary),
		Warning: lipgloss.NewStyle().Foreground(t.Warn),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(t.Fail),
	}
}

// Table is a simple column-aligned table.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Render renders the table with a styled header and a rule under it.
// Cells are padded to the widest entry of their column.
func (t Table) Render(s Styles) string {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	var lines []string
	lines = append(lines, s.Label.Render(joinCells(t.Headers, widths)))
	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("─", w)
	}
	lines = append(lines, s.Border.Render(strings.Join(rule, "  ")))
	for _, row := range t.Rows {
		lines = append(lines, joinCells(row, widths))
	}
	return strings.Join(lines, "\n")
}

func joinCells(cells []string, widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		var c string
		if i < len(cells) {
			c = cells[i]
		}
		parts[i] = c + strings.Repeat(" ", max(0, w-lipgloss.Width(c)))
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

// Field is one labeled value in a Summary.
type Field struct {
	Label string
	Value string
}

// Summary renders a titled box of labeled values, used for end-of-run
// reports.
type Summary struct {
	Title  string
	Status string
	Fields []Field
}

// Render renders the summary to a string.
func (m Summary) Render(s Styles) string {
	labelWidth := 0
	for _, f := range m.Fields {
		labelWidth = max(labelWidth, lipgloss.Width(f.Label))
	}

	title := s.Title.Render(m.Title)
	if m.Status != "" {
		title += " " + s.Help.Render("["+m.Status+"]")
	}
	body := []string{title, ""}
	for _, f := range m.Fields {
		pad := strings.Repeat(" ", labelWidth-lipgloss.Width(f.Label))
		body = append(body, s.Label.Render(f.Label)+pad+"  "+f.Value)
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.Border.GetForeground()).
		Padding(0, 1).
		Render(strings.Join(body, "\n"))
}
