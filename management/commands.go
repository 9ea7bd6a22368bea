package management

import (
	"strconv"
	"strings"
)

// Command is one outbound management command.
type Command struct {
	// Line is sent to the engine.
	Line string
	// LogText is safe to log; secrets are redacted.
	LogText string
}

func (c Command) String() string {
	return c.LogText
}

func plain(line string) Command {
	return Command{Line: line, LogText: line}
}

// Username supplies the tunnel username.
func Username(name string) Command {
	return plain(`username "Auth" ` + quote(name))
}

// Password supplies the tunnel password.
func Password(secret string) Command {
	return Command{
		Line:    `password "Auth" ` + quote(secret),
		LogText: `password "Auth" ***`,
	}
}

// EchoOn enables real-time echo notifications.
func EchoOn() Command { return plain("echo on all") }

// StateOn enables real-time state notifications.
func StateOn() Command { return plain("state on") }

// ByteCountOn enables byte count notifications every interval seconds.
func ByteCountOn(interval int) Command {
	if interval < 1 {
		interval = 1
	}
	return plain("bytecount " + strconv.Itoa(interval))
}

// LogOn enables real-time log notifications.
func LogOn() Command { return plain("log on") }

// HoldRelease lets the engine start negotiating the tunnel.
func HoldRelease() Command { return plain("hold release") }

// Disconnect asks the engine to tear the tunnel down.
func Disconnect() Command { return plain("signal SIGTERM") }

// Exit closes the management session.
func Exit() Command { return plain("exit") }

// quote wraps s in double quotes, escaping backslashes and quotes the way
// the management interface parser expects. Line breaks are dropped: one
// command is one line.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\r', '\n':
			continue
		case '\\', '"':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}
