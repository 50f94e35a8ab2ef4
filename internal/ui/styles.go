package ui

import "github.com/charmbracelet/lipgloss"

// Tokyo Night palette.
var (
	ColorBg      = lipgloss.Color("#1a1b26")
	ColorSurface = lipgloss.Color("#24283b")
	ColorBorder  = lipgloss.Color("#414868")
	ColorText    = lipgloss.Color("#c0caf5")
	ColorTextDim = lipgloss.Color("#787fa0")
	ColorAccent  = lipgloss.Color("#7aa2f7")
	ColorGreen   = lipgloss.Color("#9ece6a")
	ColorYellow  = lipgloss.Color("#e0af68")
	ColorOrange  = lipgloss.Color("#ff9e64")
	ColorRed     = lipgloss.Color("#f7768e")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	listItemStyle = lipgloss.NewStyle().
			Foreground(ColorText).
			Padding(0, 1)

	selectedItemStyle = lipgloss.NewStyle().
				Foreground(ColorBg).
				Background(ColorAccent).
				Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)

	paneBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	scrollBadgeStyle = lipgloss.NewStyle().
				Foreground(ColorBg).
				Background(ColorYellow).
				Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)

	toastInfoStyle = lipgloss.NewStyle().
			Foreground(ColorBg).
			Background(ColorAccent).
			Padding(0, 1)

	toastWarnStyle = lipgloss.NewStyle().
			Foreground(ColorBg).
			Background(ColorYellow).
			Padding(0, 1)

	toastErrorStyle = lipgloss.NewStyle().
			Foreground(ColorBg).
			Background(ColorRed).
			Padding(0, 1)
)

// activityBadge maps an activity state string to a colored badge.
func activityBadge(state string) string {
	switch state {
	case "running":
		return lipgloss.NewStyle().Foreground(ColorOrange).Render("● busy")
	case "waiting":
		return lipgloss.NewStyle().Foreground(ColorYellow).Render("◐ waiting")
	case "idle":
		return lipgloss.NewStyle().Foreground(ColorGreen).Render("○ idle")
	default:
		return dimStyle.Render("· unknown")
	}
}
