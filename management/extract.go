package management

import (
	"net/netip"
	"strings"
)

const (
	gatewayDirective = "route-gateway "
	dnsDirective     = "dhcp-option DNS "
)

// ExtractGateway returns the address of the first route-gateway directive
// in text that is followed by a dotted quad. Later directives are ignored.
func ExtractGateway(text string) (netip.Addr, bool) {
	rest := text
	for {
		i := strings.Index(rest, gatewayDirective)
		if i < 0 {
			return netip.Addr{}, false
		}
		rest = rest[i+len(gatewayDirective):]
		if addr, ok := leadingIPv4(rest); ok {
			return addr, true
		}
	}
}

// ExtractDNSServers returns the addresses of every dhcp-option DNS
// directive in text, in order. A value runs up to the next comma or the
// end of the line; values that are not valid addresses are skipped. The
// result is never nil so callers can always store it as a full
// replacement of the previous list.
func ExtractDNSServers(text string) []netip.Addr {
	servers := make([]netip.Addr, 0, 2)
	rest := text
	for {
		i := strings.Index(rest, dnsDirective)
		if i < 0 {
			return servers
		}
		rest = rest[i+len(dnsDirective):]

		value := rest
		if j := strings.IndexAny(rest, ",\n"); j >= 0 {
			value = rest[:j]
		}
		// The last pushed option is followed by the closing quote of the
		// control message.
		value = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(value), "'"))

		addr, err := netip.ParseAddr(value)
		if err != nil {
			continue
		}
		servers = append(servers, addr.Unmap())
	}
}

// leadingIPv4 parses the dotted quad at the start of s. Trailing text is
// allowed; an octet is the longest run of up to three digits whose value
// fits in a byte.
func leadingIPv4(s string) (netip.Addr, bool) {
	var quad [4]byte
	pos := 0
	for i := 0; i < 4; i++ {
		if i > 0 {
			if pos >= len(s) || s[pos] != '.' {
				return netip.Addr{}, false
			}
			pos++
		}
		value, n := leadingOctet(s[pos:])
		if n == 0 {
			return netip.Addr{}, false
		}
		quad[i] = value
		pos += n
	}
	return netip.AddrFrom4(quad), true
}

func leadingOctet(s string) (byte, int) {
	n := 0
	for n < len(s) && n < 3 && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n > 1 && s[0] == '0' {
		return 0, 1
	}
	for n > 0 {
		value := 0
		for _, c := range s[:n] {
			value = value*10 + int(c-'0')
		}
		if value <= 255 {
			return byte(value), n
		}
		n--
	}
	return 0, 0
}
