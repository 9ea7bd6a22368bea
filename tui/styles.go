package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/vpnctl/common"
)

var (
	colorConnected = lipgloss.Color("#22c55e")
	colorPending   = lipgloss.Color("#d97706")
	colorFailed    = lipgloss.Color("#dc2626")
	colorDimmed    = lipgloss.Color("#6b7280")
	colorBorder    = lipgloss.Color("#4b5563")
	colorTitle     = lipgloss.Color("#3b82f6")
)

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorTitle)
	styleLabel = lipgloss.NewStyle().Foreground(colorDimmed).Width(10)
	styleError = lipgloss.NewStyle().Foreground(colorFailed)
	styleBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

func statusColor(s common.ConnectionStatus) lipgloss.Color {
	switch {
	case s == common.StatusConnected:
		return colorConnected
	case s == common.StatusError:
		return colorFailed
	case s.IsTransient():
		return colorPending
	default:
		return colorDimmed
	}
}

func statusGlyph(s common.ConnectionStatus) string {
	switch s {
	case common.StatusConnected:
		return "●"
	case common.StatusError:
		return "✗"
	case common.StatusDisconnected:
		return "○"
	default:
		return "◌"
	}
}
