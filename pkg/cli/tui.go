package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme is the colour scheme of rendered reports.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	Alert   lipgloss.Color
}

// DefaultTheme is green with grey help text.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Alert:   lipgloss.Color("#ff5f5f"),
}

// Styles are derived from a Theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
	Alert  lipgloss.Style
}

// NewStyles derives styles from t.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border: lipgloss.NewStyle().Foreground(t.Primary),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
		Alert:  lipgloss.NewStyle().Bold(true).Foreground(t.Alert),
	}
}

// Section is a labelled block of lines inside a Frame.
type Section struct {
	Label string
	Lines []string
}

// Frame is a boxed report: a title with a status tag, then sections.
type Frame struct {
	Styles   Styles
	Title    string
	Status   string
	Alert    bool
	Sections []Section
	Footer   string
}

// Render draws the frame width columns wide. Sections keep their last
// maxLines lines; zero keeps all.
func (f Frame) Render(width, maxLines int) string {
	width = max(width, 20)
	bc := f.Styles.Border
	inner := width - 4

	var lines []string
	lines = append(lines, bc.Render("╭"+strings.Repeat("─", width-2)+"╮"))

	title := f.Styles.Title.Render(f.Title)
	statusStyle := f.Styles.Help
	if f.Alert {
		statusStyle = f.Styles.Alert
	}
	status := statusStyle.Render("[" + f.Status + "]")
	pad := max(0, width-5-lipgloss.Width(title)-lipgloss.Width(status))
	lines = append(lines, bc.Render("│")+" "+title+" "+status+strings.Repeat(" ", pad)+" "+bc.Render("│"))

	for _, sec := range f.Sections {
		label := f.Styles.Label.Render(sec.Label)
		lines = append(lines, bc.Render("├─")+label+
			bc.Render(strings.Repeat("─", max(0, width-3-lipgloss.Width(label))))+bc.Render("┤"))
		content := sec.Lines
		if maxLines > 0 && len(content) > maxLines {
			content = content[len(content)-maxLines:]
		}
		for _, text := range content {
			if inner > 1 && lipgloss.Width(text) > inner {
				text = truncate(text, inner-1) + "…"
			}
			lines = append(lines, bc.Render("│")+" "+text+
				strings.Repeat(" ", max(0, inner-lipgloss.Width(text)))+" "+bc.Render("│"))
		}
	}

	lines = append(lines, bc.Render("╰"+strings.Repeat("─", width-2)+"╯"))
	if f.Footer != "" {
		lines = append(lines, f.Styles.Help.Render(f.Footer))
	}
	return strings.Join(lines, "\n")
}

// truncate cuts s to at most width display columns.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	w := 0
	for i, r := range s {
		rw := lipgloss.Width(string(r))
		if w+rw > width {
			return s[:i]
		}
		w += rw
	}
	return s
}
