package management

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractGateway(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"single", "PUSH_REPLY,route-gateway 10.8.0.1,ping 10", "10.8.0.1", true},
		{"first wins", "route-gateway 10.8.0.1,route-gateway 10.9.0.1", "10.8.0.1", true},
		{"end of text", "route-gateway 192.168.1.254", "192.168.1.254", true},
		{"trailing quote", "route-gateway 10.8.0.1'", "10.8.0.1", true},
		{"skips invalid", "route-gateway dhcp,route-gateway 10.8.0.1", "10.8.0.1", true},
		{"octet overflow stops at byte", "route-gateway 10.8.0.2555", "10.8.0.255", true},
		{"leading zero", "route-gateway 10.8.0.01", "10.8.0.0", true},
		{"three octets", "route-gateway 10.8.0", "", false},
		{"missing", "PUSH_REPLY,ping 10", "", false},
		{"needs space", "route-gateway10.8.0.1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractGateway(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ExtractGateway(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if ok && got.String() != tt.want {
				t.Errorf("ExtractGateway(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractDNSServers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "in order",
			text: "PUSH_REPLY,dhcp-option DNS 10.8.0.1,dhcp-option DNS 1.1.1.1,ping 10",
			want: []string{"10.8.0.1", "1.1.1.1"},
		},
		{
			name: "last option before closing quote",
			text: ">LOG:1,,PUSH: Received control message: 'PUSH_REPLY,dhcp-option DNS 9.9.9.9'",
			want: []string{"9.9.9.9"},
		},
		{
			name: "newline terminated",
			text: "dhcp-option DNS 8.8.8.8\ndhcp-option DNS 8.8.4.4\n",
			want: []string{"8.8.8.8", "8.8.4.4"},
		},
		{
			name: "ipv6",
			text: "dhcp-option DNS 2001:4860:4860::8888,dhcp-option DNS ::ffff:1.1.1.1",
			want: []string{"2001:4860:4860::8888", "1.1.1.1"},
		},
		{
			name: "invalid skipped",
			text: "dhcp-option DNS resolver.local,dhcp-option DNS 1.0.0.1",
			want: []string{"1.0.0.1"},
		},
		{
			name: "other dhcp options ignored",
			text: "dhcp-option DOMAIN example.net,dhcp-option DNS 10.8.0.1",
			want: []string{"10.8.0.1"},
		},
		{
			name: "none",
			text: "PUSH_REPLY,route-gateway 10.8.0.1",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractDNSServers(tt.text)
			if got == nil {
				t.Fatal("ExtractDNSServers() returned nil")
			}
			strs := make([]string, 0, len(got))
			for _, a := range got {
				strs = append(strs, a.String())
			}
			if diff := cmp.Diff(tt.want, strs); diff != "" {
				t.Errorf("ExtractDNSServers() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLeadingIPv4(t *testing.T) {
	addr, ok := leadingIPv4("255.255.255.255,rest")
	if !ok || addr != netip.MustParseAddr("255.255.255.255") {
		t.Errorf("leadingIPv4() = %v, %v", addr, ok)
	}
	if _, ok := leadingIPv4(".1.2.3"); ok {
		t.Error("leadingIPv4() accepted an empty octet")
	}
}
