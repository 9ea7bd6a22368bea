// Package dnspolicy forces the DNS servers pushed by the VPN server onto
// the tunnel link through systemd-resolved, and removes that policy again.
package dnspolicy

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpnctl/common"
)

const (
	resolvedDest    = "org.freedesktop.resolve1"
	resolvedPath    = dbus.ObjectPath("/org/freedesktop/resolve1")
	resolvedManager = "org.freedesktop.resolve1.Manager"
)

// Address families as systemd-resolved expects them.
const (
	familyInet  int32 = 2
	familyInet6 int32 = 10
)

// linkAddress is the (iay) tuple of SetLinkDNS.
type linkAddress struct {
	Family  int32
	Address []byte
}

// linkDomain is the (sb) tuple of SetLinkDomains.
type linkDomain struct {
	Domain      string
	RoutingOnly bool
}

// caller invokes a method on the resolved manager object.
type caller interface {
	call(ctx context.Context, method string, args ...interface{}) error
}

type busCaller struct {
	obj dbus.BusObject
}

func (b busCaller) call(ctx context.Context, method string, args ...interface{}) error {
	return b.obj.CallWithContext(ctx, resolvedManager+"."+method, 0, args...).Err
}

// Resolved configures per-link DNS through org.freedesktop.resolve1.
type Resolved struct {
	conn   *dbus.Conn
	bus    caller
	logger common.Logger
}

// NewResolved connects to the system bus.
func NewResolved(logger common.Logger) (*Resolved, error) {
	if logger == nil {
		logger = common.NopLogger{}
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &Resolved{
		conn:   conn,
		bus:    busCaller{obj: conn.Object(resolvedDest, resolvedPath)},
		logger: logger,
	}, nil
}

// Close releases the bus connection.
func (r *Resolved) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// SetLinkDNS makes servers the only resolvers of the link and routes all
// lookups through it. Invalid addresses are skipped.
func (r *Resolved) SetLinkDNS(ctx context.Context, ifindex int, servers []netip.Addr) error {
	addrs := linkAddresses(servers)
	if len(addrs) == 0 {
		return fmt.Errorf("no usable DNS servers for link %d", ifindex)
	}
	if err := r.bus.call(ctx, "SetLinkDNS", int32(ifindex), addrs); err != nil {
		return fmt.Errorf("SetLinkDNS on link %d: %w", ifindex, err)
	}
	// "~." makes the link the default route for every domain.
	domains := []linkDomain{{Domain: ".", RoutingOnly: true}}
	if err := r.bus.call(ctx, "SetLinkDomains", int32(ifindex), domains); err != nil {
		return fmt.Errorf("SetLinkDomains on link %d: %w", ifindex, err)
	}
	if err := r.bus.call(ctx, "SetLinkDefaultRoute", int32(ifindex), true); err != nil {
		// Older resolved versions lack the method; the domain route suffices.
		r.logger.Debug("SetLinkDefaultRoute on link %d: %v", ifindex, err)
	}
	r.logger.Info("DNS for link %d set to %v", ifindex, servers)
	return nil
}

// RevertLink drops every DNS setting made on the link.
func (r *Resolved) RevertLink(ctx context.Context, ifindex int) error {
	if err := r.bus.call(ctx, "RevertLink", int32(ifindex)); err != nil {
		return fmt.Errorf("RevertLink on link %d: %w", ifindex, err)
	}
	r.logger.Info("DNS for link %d reverted", ifindex)
	return nil
}

// RevertTunnels reverts the DNS policy of every tunnel interface and
// returns the names of the links it touched.
func (r *Resolved) RevertTunnels(ctx context.Context) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var reverted []string
	var firstErr error
	for _, iface := range ifaces {
		if !IsTunnelInterface(iface.Name) {
			continue
		}
		if err := r.RevertLink(ctx, iface.Index); err != nil {
			r.logger.Warn("Failed to revert DNS on %s: %v", iface.Name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reverted = append(reverted, iface.Name)
	}
	return reverted, firstErr
}

// IsTunnelInterface reports whether name looks like an OpenVPN tun/tap
// device.
func IsTunnelInterface(name string) bool {
	return strings.HasPrefix(name, "tun") || strings.HasPrefix(name, "tap")
}

func linkAddresses(servers []netip.Addr) []linkAddress {
	out := make([]linkAddress, 0, len(servers))
	for _, s := range servers {
		s = s.Unmap()
		switch {
		case s.Is4():
			b := s.As4()
			out = append(out, linkAddress{Family: familyInet, Address: b[:]})
		case s.Is6():
			b := s.As16()
			out = append(out, linkAddress{Family: familyInet6, Address: b[:]})
		}
	}
	return out
}
