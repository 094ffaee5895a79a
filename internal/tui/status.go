// internal/tui/status.go
package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// statusColor maps a backend init status to a badge background.
func statusColor(status string) lipgloss.Color {
	switch status {
	case "ready":
		return lipgloss.Color("40")
	case "degraded":
		return lipgloss.Color("229")
	default:
		return lipgloss.Color("9")
	}
}

// formatStatusIndicator returns a human-readable label for a backend status.
func formatStatusIndicator(status string) string {
	if status == "" {
		return "Status: unknown"
	}
	return "Status: " + status
}

// renderStatusBadge returns a Lipgloss-styled badge for the backend status.
func renderStatusBadge(status string) string {
	badgeStyle := lipgloss.NewStyle().Background(statusColor(status)).Foreground(lipgloss.Color("0")).Padding(0, 1).MarginLeft(1)
	return badgeStyle.Render(formatStatusIndicator(status))
}
