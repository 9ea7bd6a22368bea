package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/vpnctl/common"
	"github.com/yllada/vpnctl/management"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update() returned %T, want Model", next)
	}
	return model, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestModel_StatusAndTraffic(t *testing.T) {
	statusCh := make(chan management.Status, 1)
	trafficCh := make(chan management.TrafficSample, 1)
	m := New(Config{
		Profile: "work",
		Initial: management.Status{Status: common.StatusConnecting},
		Status:  statusCh,
		Traffic: trafficCh,
	})

	if view := m.View(); !strings.Contains(view, "Connecting...") || !strings.Contains(view, "work") {
		t.Errorf("initial View() = %q", view)
	}

	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	m, _ = update(t, m, tickMsg(start))

	var cmd tea.Cmd
	m, cmd = update(t, m, statusMsg{
		Status:   common.StatusConnected,
		LocalIP:  "10.8.0.6",
		RemoteIP: "203.0.113.7",
		Port:     443,
	})
	if cmd == nil {
		t.Error("status update did not wait for the next status")
	}

	// The returned command reads the next status from the feed.
	statusCh <- management.Status{Status: common.StatusReconnecting}
	if got, ok := cmd().(statusMsg); !ok || got.Status != common.StatusReconnecting {
		t.Errorf("next status command returned %v", got)
	}

	m, _ = update(t, m, trafficMsg{TotalIn: 1000, TotalOut: 2500000, BytesIn: 1000, BytesOut: 2500000})
	m, _ = update(t, m, tickMsg(start.Add(65*time.Second)))

	view := m.View()
	for _, want := range []string{"Connected", "10.8.0.6", "203.0.113.7:443", "1m 5s", "1.0 kB", "2.5 MB"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() lacks %q:\n%s", want, view)
		}
	}
}

func TestModel_ErrorStatus(t *testing.T) {
	m := New(Config{Profile: "work"})
	m, _ = update(t, m, statusMsg{Status: common.StatusDisconnecting, Error: management.ErrorAuthFailed})

	if view := m.View(); !strings.Contains(view, "Authentication failed") {
		t.Errorf("View() = %q, want the error", view)
	}
	if got := m.uptime(); got != "-" {
		t.Errorf("uptime() = %q, want -", got)
	}
}

func TestModel_Disconnect(t *testing.T) {
	calls := 0
	m := New(Config{
		Profile:    "work",
		Initial:    management.Status{Status: common.StatusConnected},
		Disconnect: func() error { calls++; return errors.New("engine did not answer") },
	})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	if !m.disconnecting {
		t.Error("disconnect key did not mark the view as disconnecting")
	}
	if view := m.View(); !strings.Contains(view, "Disconnecting...") {
		t.Errorf("View() = %q, want Disconnecting...", view)
	}

	// A second press while disconnecting is ignored.
	if _, again := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}); again != nil {
		t.Error("second disconnect key press issued a command")
	}

	m, _ = update(t, m, cmd())
	if calls != 1 {
		t.Errorf("Disconnect called %d times, want 1", calls)
	}
	if m.disconnecting || m.err == nil {
		t.Errorf("failed disconnect: disconnecting = %v, err = %v", m.disconnecting, m.err)
	}
	if view := m.View(); !strings.Contains(view, "engine did not answer") {
		t.Errorf("View() lacks the disconnect error:\n%s", view)
	}
}

func TestModel_Quit(t *testing.T) {
	m := New(Config{Profile: "work"})

	if _, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); !isQuit(cmd) {
		t.Error("q did not quit")
	}

	done := make(chan struct{})
	close(done)
	m = New(Config{Profile: "work", Done: done})
	msg := waitDone(m.cfg.Done)()
	m, cmd := update(t, m, msg)
	if !m.done || !isQuit(cmd) {
		t.Error("ended connection did not quit the view")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{2*time.Hour + 1*time.Minute, "2h 1m 0s"},
		{-time.Second, "0s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
