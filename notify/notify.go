// Package notify sends desktop notifications for connection events
// through the org.freedesktop.Notifications service.
package notify

import (
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpnctl/common"
)

const (
	notificationsDest   = "org.freedesktop.Notifications"
	notificationsPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsNotify = "org.freedesktop.Notifications.Notify"

	expireDefault int32 = -1
)

// Urgency levels understood by org.freedesktop.Notifications.
const (
	UrgencyLow byte = iota
	UrgencyNormal
	UrgencyCritical
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification represents a system notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Icon    string
}

func (n Notification) icon() string {
	if n.Icon != "" {
		return n.Icon
	}
	switch n.Type {
	case NotificationWarning:
		return "dialog-warning"
	case NotificationError:
		return "dialog-error"
	default:
		return "network-vpn"
	}
}

func (n Notification) urgency() byte {
	switch n.Type {
	case NotificationError:
		return UrgencyCritical
	case NotificationWarning:
		return UrgencyNormal
	default:
		return UrgencyLow
	}
}

// sender delivers one Notify call and returns the notification id.
type sender func(appName, icon, title, body string, hints map[string]dbus.Variant) (uint32, error)

// Notifier shows notifications on the session bus. A nil *Notifier and a
// disabled one drop everything.
type Notifier struct {
	logger  common.Logger
	enabled bool

	once sync.Once
	send sender
	err  error
}

// New returns a Notifier. The session bus is only contacted on first use.
func New(enabled bool, logger common.Logger) *Notifier {
	if logger == nil {
		logger = common.NopLogger{}
	}
	return &Notifier{logger: logger, enabled: enabled}
}

func (n *Notifier) connect() {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		n.err = err
		return
	}
	obj := conn.Object(notificationsDest, notificationsPath)
	n.send = func(appName, icon, title, body string, hints map[string]dbus.Variant) (uint32, error) {
		var id uint32
		err := obj.Call(notificationsNotify, 0,
			appName, uint32(0), icon, title, body, []string{}, hints, expireDefault,
		).Store(&id)
		return id, err
	}
}

// Show displays n. Failures are logged only.
func (n *Notifier) Show(note Notification) {
	if n == nil || !n.enabled {
		return
	}
	n.once.Do(func() {
		if n.send == nil {
			n.connect()
		}
	})
	if n.send == nil {
		n.logger.Debug("Notifications unavailable: %v", n.err)
		return
	}

	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(note.urgency())}
	if _, err := n.send(common.AppName, note.icon(), note.Title, note.Message, hints); err != nil {
		n.logger.Warn("Error showing notification: %v", err)
	}
}

// Notify implements common.Notifier.
func (n *Notifier) Notify(title, message string) error {
	n.Show(Notification{Title: title, Message: message})
	return nil
}

// NotifyWithIcon implements common.Notifier.
func (n *Notifier) NotifyWithIcon(title, message, icon string) error {
	n.Show(Notification{Title: title, Message: message, Icon: icon})
	return nil
}

// Connected shows a notification when the VPN connects
func (n *Notifier) Connected(profileName string) {
	n.Show(Notification{
		Title:   "VPN Connected",
		Message: "Connected to " + profileName,
		Type:    NotificationSuccess,
		Icon:    "network-vpn",
	})
}

// Disconnected shows a notification when the VPN disconnects
func (n *Notifier) Disconnected(profileName string) {
	n.Show(Notification{
		Title:   "VPN Disconnected",
		Message: "Disconnected from " + profileName,
		Type:    NotificationInfo,
		Icon:    "network-vpn-disconnected",
	})
}

// Error shows a notification for connection errors
func (n *Notifier) Error(profileName, errorMsg string) {
	n.Show(Notification{
		Title:   "Connection Error",
		Message: profileName + ": " + errorMsg,
		Type:    NotificationError,
		Icon:    "network-vpn-error",
	})
}
