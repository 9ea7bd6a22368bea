package management

import "strings"

// ErrorCode is the normalized error reported with a connection status.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorUnknown
	ErrorAuthFailed
	ErrorTLS
	ErrorTunDevice
	ErrorHostUnresolved
)

// String returns a human-readable error description.
func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorUnknown:
		return "Unknown error"
	case ErrorAuthFailed:
		return "Authentication failed"
	case ErrorTLS:
		return "TLS negotiation failed"
	case ErrorTunDevice:
		return "Cannot open TUN/TAP device"
	case ErrorHostUnresolved:
		return "Cannot resolve server address"
	default:
		return "Unknown error"
	}
}

// stateError maps the description of a RECONNECTING or EXITING state to
// an error code. Other states never carry an error.
func stateError(name, desc string) ErrorCode {
	if name != "RECONNECTING" && name != "EXITING" {
		return ErrorNone
	}
	switch desc {
	case "auth-failure":
		return ErrorAuthFailed
	case "tls-error":
		return ErrorTLS
	default:
		return ErrorNone
	}
}

// fatalError maps the text of a >FATAL: notification.
func fatalError(text string) ErrorCode {
	switch {
	case strings.Contains(text, "Cannot open TUN/TAP"),
		strings.Contains(text, "TUNSETIFF"):
		return ErrorTunDevice
	case strings.Contains(text, "Cannot resolve host address"):
		return ErrorHostUnresolved
	default:
		return ErrorUnknown
	}
}
