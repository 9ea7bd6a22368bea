package management

import (
	"fmt"

	"github.com/yllada/vpnctl/common"
)

// Status is an immutable snapshot of the tunnel state. A new snapshot
// supersedes the previous one.
type Status struct {
	Status   common.ConnectionStatus
	Error    ErrorCode
	LocalIP  string
	RemoteIP string
	Port     int
	// Label identifies the server, usually the profile name.
	Label string
}

func (s Status) String() string {
	if s.Error != ErrorNone {
		return fmt.Sprintf("%s (%s)", s.Status, s.Error)
	}
	return s.Status.String()
}

// TrafficSample reports bytes transferred since the previous sample.
// Totals are the engine's running counters.
type TrafficSample struct {
	BytesIn  uint64
	BytesOut uint64
	TotalIn  uint64
	TotalOut uint64
}

// Credentials are the tunnel username and password for one connection
// attempt. They are only held in memory and never logged.
type Credentials struct {
	Username string
	Password string
}

// String hides the password so credentials can't leak through %v.
func (c Credentials) String() string {
	return fmt.Sprintf("{%s ***}", c.Username)
}

// GoString hides the password for %#v as well.
func (c Credentials) GoString() string {
	return c.String()
}

// Endpoint describes the server of the current connection attempt.
type Endpoint struct {
	Address string
	Port    int
	Label   string
}
