// Package common provides shared constants, types, and utilities
// used across vpnctl.
package common

// ConnectionStatus represents the state of a VPN connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
	StatusError
	StatusAuthenticating
	StatusRetrievingConfiguration
	StatusAssigningIP
	StatusReconnecting
)

// String returns a human-readable status string.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	case StatusDisconnecting:
		return "Disconnecting..."
	case StatusError:
		return "Error"
	case StatusAuthenticating:
		return "Authenticating..."
	case StatusRetrievingConfiguration:
		return "Retrieving configuration..."
	case StatusAssigningIP:
		return "Assigning IP..."
	case StatusReconnecting:
		return "Reconnecting..."
	default:
		return "Unknown"
	}
}

// IsTransient reports whether the status is an intermediate step of a
// connection attempt.
func (s ConnectionStatus) IsTransient() bool {
	switch s {
	case StatusConnecting, StatusAuthenticating, StatusRetrievingConfiguration,
		StatusAssigningIP, StatusReconnecting, StatusDisconnecting:
		return true
	}
	return false
}

// Logger defines the interface for structured logging.
// It is also the write-only diagnostic sink handed to the control channel
// client: nothing it does influences control flow.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}

// Notifier defines the interface for sending notifications.
type Notifier interface {
	// Notify sends a notification with the given title and message.
	Notify(title, message string) error
	// NotifyWithIcon sends a notification with a custom icon.
	NotifyWithIcon(title, message, icon string) error
}

// NopLogger discards everything. Useful as a default diagnostic sink.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
