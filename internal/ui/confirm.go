package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Confirm shows a warning box with the given lines and asks a yes/no
// question. Only "y" or "yes" (any case) confirms; EOF declines.
func Confirm(in io.Reader, out io.Writer, title string, lines []string, question string) bool {
	width := GetTerminalWidth()

	content := []string{
		"",
		lipgloss.NewStyle().Foreground(WarningColor).Bold(true).
			Render(fmt.Sprintf("   %s  WARNING  ─  %s", WarningMarker, title)),
		"",
	}
	for _, line := range lines {
		content = append(content, lipgloss.NewStyle().Foreground(TextColor).Render("   • "+line))
	}
	content = append(content, "")

	box := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(WarningColor).
		Width(width-2).
		Padding(0, 2).
		Render(strings.Join(content, "\n"))

	_, _ = fmt.Fprintln(out, box)
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprint(out, lipgloss.NewStyle().Foreground(WarningColor).Bold(true).Render(question+" [y/N]: "))

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		_, _ = fmt.Fprintln(out)
		return false
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	default:
		_, _ = fmt.Fprintln(out, lipgloss.NewStyle().Foreground(MutedColor).Render("  Cancelled."))
		return false
	}
}
