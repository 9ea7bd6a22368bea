// Package tui renders a live view of one VPN connection in the terminal.
package tui

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/yllada/vpnctl/common"
	"github.com/yllada/vpnctl/management"
)

// Config wires the view to a connection.
type Config struct {
	// Profile is the displayed profile name.
	Profile string
	// Initial is shown until the first status arrives.
	Initial management.Status
	// Since is when the tunnel came up, zero if it is not up yet.
	Since   time.Time
	Status  <-chan management.Status
	Traffic <-chan management.TrafficSample
	// Done is closed when the connection has ended.
	Done <-chan struct{}
	// Disconnect asks the connection to end.
	Disconnect func() error
}

type statusMsg management.Status

type trafficMsg management.TrafficSample

type doneMsg struct{}

type disconnectResultMsg struct{ err error }

type tickMsg time.Time

// Model is the Bubble Tea model of the watch view.
type Model struct {
	cfg     Config
	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	width   int

	status      management.Status
	traffic     management.TrafficSample
	connectedAt time.Time
	now         time.Time

	disconnecting bool
	err           error
	done          bool
}

// New creates the watch view model.
func New(cfg Config) Model {
	return Model{
		cfg:         cfg,
		keys:        DefaultKeyMap(),
		help:        help.New(),
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		status:      cfg.Initial,
		connectedAt: cfg.Since,
		now:         time.Now(),
	}
}

// Init starts listening to the connection feeds.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitStatus(m.cfg.Status),
		waitTraffic(m.cfg.Traffic),
		waitDone(m.cfg.Done),
		m.spinner.Tick,
		tick(),
	)
}

func waitStatus(ch <-chan management.Status) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return statusMsg(s)
	}
}

func waitTraffic(ch <-chan management.TrafficSample) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return trafficMsg(s)
	}
}

func waitDone(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		<-ch
		return doneMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case statusMsg:
		m.status = management.Status(msg)
		if m.status.Status == common.StatusConnected && m.connectedAt.IsZero() {
			m.connectedAt = m.now
		}
		return m, waitStatus(m.cfg.Status)

	case trafficMsg:
		m.traffic = management.TrafficSample(msg)
		return m, waitTraffic(m.cfg.Traffic)

	case disconnectResultMsg:
		if msg.err != nil {
			m.err = msg.err
			m.disconnecting = false
		}
		return m, nil

	case doneMsg:
		m.done = true
		return m, tea.Quit

	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Disconnect):
		if m.disconnecting || m.cfg.Disconnect == nil {
			return m, nil
		}
		m.disconnecting = true
		disconnect := m.cfg.Disconnect
		return m, func() tea.Msg {
			return disconnectResultMsg{err: disconnect()}
		}
	}
	return m, nil
}

// View renders the connection.
func (m Model) View() string {
	s := m.status.Status

	statusText := m.status.String()
	if m.disconnecting && s != common.StatusDisconnected && s != common.StatusError {
		statusText = common.StatusDisconnecting.String()
		s = common.StatusDisconnecting
	}
	glyph := statusGlyph(s)
	if s.IsTransient() {
		glyph = m.spinner.View()
	}
	status := lipgloss.NewStyle().Foreground(statusColor(s)).Render(glyph + " " + statusText)

	rows := []string{
		styleTitle.Render(common.AppName) + "  " + m.cfg.Profile,
		"",
		row("Status", status),
		row("Server", server(m.status)),
		row("Address", orDash(m.status.LocalIP)),
		row("Uptime", m.uptime()),
		row("Traffic", fmt.Sprintf("↓ %s  ↑ %s",
			humanize.Bytes(m.traffic.TotalIn), humanize.Bytes(m.traffic.TotalOut))),
	}
	if m.err != nil {
		rows = append(rows, "", styleError.Render("Error: "+m.err.Error()))
	}

	box := styleBox
	if m.width > 4 {
		box = box.Width(m.width - 2)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		box.Render(strings.Join(rows, "\n")),
		m.help.View(m.keys),
	)
}

func (m Model) uptime() string {
	if m.status.Status != common.StatusConnected || m.connectedAt.IsZero() {
		return "-"
	}
	return formatDuration(m.now.Sub(m.connectedAt))
}

func row(label, value string) string {
	return styleLabel.Render(label) + value
}

func server(s management.Status) string {
	if s.RemoteIP == "" {
		return "-"
	}
	if s.Port == 0 {
		return s.RemoteIP
	}
	return net.JoinHostPort(s.RemoteIP, strconv.Itoa(s.Port))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
