package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette for discovery output
var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple - headers, borders
	SuccessColor = lipgloss.Color("#43BF6D") // Green - discovered peers, success
	ErrorColor   = lipgloss.Color("#FF5555") // Red - errors, lost peers
	WarningColor = lipgloss.Color("#FFA500") // Orange - warnings, lagging
	MutedColor   = lipgloss.Color("#626262") // Gray - secondary info
	TextColor    = lipgloss.Color("#FFFFFF") // White - main content
)

// Layout constants
const (
	MinTerminalWidth = 60  // Minimum supported terminal width
	MaxContentWidth  = 120 // Maximum content width before capping
)

var (
	// HeaderTitleStyle is for the main command title (e.g., "PEER SCAN")
	HeaderTitleStyle = lipgloss.NewStyle().
				Foreground(TextColor).
				Bold(true).
				PaddingLeft(2)

	// HeaderCommandStyle is for the command path (e.g., "qopy-discover scan")
	HeaderCommandStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				PaddingLeft(2)

	// HeaderParamKeyStyle is for parameter keys (e.g., "Service:")
	HeaderParamKeyStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				PaddingLeft(2)

	// HeaderParamValueStyle is for parameter values
	HeaderParamValueStyle = lipgloss.NewStyle().
				Foreground(TextColor)

	// ProgressLabelStyle is for "Scanning for peers..."
	ProgressLabelStyle = lipgloss.NewStyle().
				Foreground(TextColor).
				PaddingLeft(2)

	SuccessTitleStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	ErrorTitleStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	ErrorMessageStyle = lipgloss.NewStyle().
				Foreground(ErrorColor)

	// ResultKeyStyle is for result detail keys
	ResultKeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(15)

	ResultValueStyle = lipgloss.NewStyle().
				Foreground(TextColor)

	TroubleshootingTitleStyle = lipgloss.NewStyle().
					Foreground(MutedColor).
					Bold(true)

	TroubleshootingItemStyle = lipgloss.NewStyle().
					Foreground(MutedColor)

	// TableHeaderStyle is for peer table column titles
	TableHeaderStyle = lipgloss.NewStyle().
				Foreground(PrimaryColor).
				Bold(true)

	// TableCellStyle is for peer table values
	TableCellStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	// EventTimeStyle is for the timestamp column of event lines
	EventTimeStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	// EventDiscoveredStyle, EventLostStyle and EventLifecycleStyle color the
	// event kind column
	EventDiscoveredStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	EventLostStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	EventLifecycleStyle = lipgloss.NewStyle().
				Foreground(PrimaryColor)

	// StatusStyle is for the watch status line
	StatusStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			PaddingLeft(2)

	// HelpStyle is for key hints
	HelpStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true).
			PaddingLeft(2)
)

// Status markers
const (
	SuccessMarker    = "✓"
	FailureMarker    = "✗"
	WarningMarker    = "⚠"
	DiscoveredMarker = "+"
	LostMarker       = "-"
	LifecycleMarker  = "●"
)

// GetTerminalWidth returns the current terminal width, with fallback
func GetTerminalWidth() int {
	width, _ := GetTerminalSize()
	return width
}

// GetTerminalSize returns the current terminal width and height
func GetTerminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth, 24 // Default fallback
	}
	return clampWidth(width), height
}

// IsTerminal reports whether stdout is attached to a terminal. Commands fall
// back to plain line output when it is not.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func clampWidth(width int) int {
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}

// RenderHorizontalDivider creates a horizontal line of the specified width
func RenderHorizontalDivider(width int, char string) string {
	if width < 1 {
		width = 1
	}
	return lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Render(strings.Repeat(char, width))
}
