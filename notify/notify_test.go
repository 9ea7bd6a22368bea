package notify

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
)

type sent struct {
	app, icon, title, body string
	urgency                byte
}

func newTestNotifier(t *testing.T, enabled bool, fail error) (*Notifier, *[]sent) {
	t.Helper()
	var got []sent
	n := New(enabled, nil)
	n.send = func(app, icon, title, body string, hints map[string]dbus.Variant) (uint32, error) {
		got = append(got, sent{app, icon, title, body, hints["urgency"].Value().(byte)})
		return 1, fail
	}
	return n, &got
}

func TestNotifier_Events(t *testing.T) {
	n, got := newTestNotifier(t, true, nil)

	n.Connected("work")
	n.Disconnected("work")
	n.Error("work", "Authentication failed")

	want := []sent{
		{"vpnctl", "network-vpn", "VPN Connected", "Connected to work", UrgencyLow},
		{"vpnctl", "network-vpn-disconnected", "VPN Disconnected", "Disconnected from work", UrgencyLow},
		{"vpnctl", "network-vpn-error", "Connection Error", "work: Authentication failed", UrgencyCritical},
	}
	if len(*got) != len(want) {
		t.Fatalf("sent %d notifications, want %d", len(*got), len(want))
	}
	for i := range want {
		if (*got)[i] != want[i] {
			t.Errorf("notification %d = %+v, want %+v", i, (*got)[i], want[i])
		}
	}
}

func TestNotifier_Disabled(t *testing.T) {
	n, got := newTestNotifier(t, false, nil)
	n.Connected("work")
	if len(*got) != 0 {
		t.Errorf("disabled notifier sent %d notifications", len(*got))
	}

	var nilNotifier *Notifier
	nilNotifier.Connected("work")
}

func TestNotifier_FailureIsLoggedOnly(t *testing.T) {
	n, got := newTestNotifier(t, true, errors.New("no daemon"))
	if err := n.Notify("title", "body"); err != nil {
		t.Errorf("Notify() error = %v", err)
	}
	if len(*got) != 1 {
		t.Errorf("sent %d notifications, want 1", len(*got))
	}
}

func TestNotification_Defaults(t *testing.T) {
	tests := []struct {
		n       Notification
		icon    string
		urgency byte
	}{
		{Notification{Type: NotificationInfo}, "network-vpn", UrgencyLow},
		{Notification{Type: NotificationWarning}, "dialog-warning", UrgencyNormal},
		{Notification{Type: NotificationError}, "dialog-error", UrgencyCritical},
		{Notification{Type: NotificationError, Icon: "custom"}, "custom", UrgencyCritical},
	}
	for _, tt := range tests {
		if got := tt.n.icon(); got != tt.icon {
			t.Errorf("icon() = %q, want %q", got, tt.icon)
		}
		if got := tt.n.urgency(); got != tt.urgency {
			t.Errorf("urgency() = %d, want %d", got, tt.urgency)
		}
	}
}
