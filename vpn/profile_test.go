package vpn

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yllada/vpnctl/common"
	"github.com/yllada/vpnctl/management"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		want    management.Endpoint
		wantErr error
	}{
		{
			name:   "host and port",
			config: "client\nremote vpn.example.net 443\n",
			want:   management.Endpoint{Address: "vpn.example.net", Port: 443},
		},
		{
			name:   "default port",
			config: "remote 203.0.113.7\n",
			want:   management.Endpoint{Address: "203.0.113.7", Port: 1194},
		},
		{
			name:   "port directive",
			config: "port 1195\nremote 203.0.113.7\n",
			want:   management.Endpoint{Address: "203.0.113.7", Port: 1195},
		},
		{
			name:   "first remote wins",
			config: "# remote commented.example.net\n; remote old.example.net\nremote a.example.net 1194 udp\nremote b.example.net 443 tcp\n",
			want:   management.Endpoint{Address: "a.example.net", Port: 1194},
		},
		{
			name:    "no remote",
			config:  "client\ndev tun\n",
			wantErr: common.ErrNoRemote,
		},
		{
			name:    "bad port",
			config:  "remote vpn.example.net http\n",
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEndpoint(bufio.NewScanner(strings.NewReader(tt.config)))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("parseEndpoint() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEndpoint() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseEndpoint() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseRouteForOpenVPN(t *testing.T) {
	tests := []struct {
		route       string
		wantNetwork string
		wantNetmask string
	}{
		{"192.168.1.0/24", "192.168.1.0", "255.255.255.0"},
		{"192.168.1.77/24", "192.168.1.0", "255.255.255.0"},
		{"10.0.0.0/8", "10.0.0.0", "255.0.0.0"},
		{"172.16.0.0/12", "172.16.0.0", "255.240.0.0"},
		{"8.8.8.8", "8.8.8.8", "255.255.255.255"},
		{"192.168.1.1/32", "192.168.1.1", "255.255.255.255"},
		{" 10.1.0.0/16 ", "10.1.0.0", "255.255.0.0"},
		{"", "", ""},
		{"invalid", "", ""},
		{"fd00::/8", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			network, netmask := parseRouteForOpenVPN(tt.route)
			if network != tt.wantNetwork {
				t.Errorf("parseRouteForOpenVPN(%q) network = %v, want %v", tt.route, network, tt.wantNetwork)
			}
			if netmask != tt.wantNetmask {
				t.Errorf("parseRouteForOpenVPN(%q) netmask = %v, want %v", tt.route, netmask, tt.wantNetmask)
			}
		})
	}
}

func TestProfile_SplitTunnelArgs(t *testing.T) {
	routes := []string{"192.168.1.0/24", "bogus", "8.8.8.8"}
	tests := []struct {
		name    string
		profile Profile
		want    []string
	}{
		{
			name:    "disabled",
			profile: Profile{SplitTunnelMode: SplitTunnelInclude, SplitTunnelRoutes: routes},
		},
		{
			name:    "include",
			profile: Profile{SplitTunnelEnabled: true, SplitTunnelMode: SplitTunnelInclude, SplitTunnelRoutes: routes},
			want: []string{
				"--route-nopull", "--pull-filter", "ignore", "redirect-gateway",
				"--route", "192.168.1.0", "255.255.255.0", "vpn_gateway",
				"--route", "8.8.8.8", "255.255.255.255", "vpn_gateway",
			},
		},
		{
			name:    "exclude",
			profile: Profile{SplitTunnelEnabled: true, SplitTunnelMode: SplitTunnelExclude, SplitTunnelRoutes: routes},
			want: []string{
				"--route", "192.168.1.0", "255.255.255.0", "net_gateway",
				"--route", "8.8.8.8", "255.255.255.255", "net_gateway",
			},
		},
		{
			name:    "unknown mode",
			profile: Profile{SplitTunnelEnabled: true, SplitTunnelMode: "both", SplitTunnelRoutes: routes},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.profile.SplitTunnelArgs()); diff != "" {
				t.Errorf("SplitTunnelArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"valid", Profile{Name: "work", ConfigPath: "/tmp/work.ovpn"}, false},
		{"no name", Profile{ConfigPath: "/tmp/work.ovpn"}, true},
		{"no config", Profile{Name: "work"}, true},
		{"bad split mode", Profile{Name: "work", ConfigPath: "/tmp/work.ovpn", SplitTunnelEnabled: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.profile.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProfileManager_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")

	pm, err := NewProfileManagerAt(configDir)
	if err != nil {
		t.Fatalf("NewProfileManagerAt() error = %v", err)
	}
	if n := len(pm.List()); n != 0 {
		t.Fatalf("List() has %d profiles, want 0", n)
	}

	src := writeConfig(t, dir, "office.ovpn", testConfig)
	profile := &Profile{Name: "office", ConfigPath: src, Username: "alice"}
	if err := pm.Add(profile); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if profile.ID == "" {
		t.Error("Add() did not assign an ID")
	}
	if profile.ConfigPath == src || !strings.HasPrefix(profile.ConfigPath, configDir) {
		t.Errorf("ConfigPath = %q, want a copy under %q", profile.ConfigPath, configDir)
	}

	if err := pm.Add(&Profile{Name: "office", ConfigPath: src}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Add() duplicate error = %v, want %v", err, ErrDuplicateName)
	}

	ep, err := profile.Endpoint()
	if err != nil {
		t.Fatalf("Endpoint() error = %v", err)
	}
	want := management.Endpoint{Address: "vpn.example.net", Port: 443, Label: "office"}
	if ep != want {
		t.Errorf("Endpoint() = %+v, want %+v", ep, want)
	}

	if auth, err := profile.RequiresAuth(); err != nil || !auth {
		t.Errorf("RequiresAuth() = %v, %v, want true", auth, err)
	}
	open := &Profile{ConfigPath: writeConfig(t, dir, "open.ovpn", "client\nremote 203.0.113.7\n")}
	if auth, err := open.RequiresAuth(); err != nil || auth {
		t.Errorf("RequiresAuth() without auth-user-pass = %v, %v, want false", auth, err)
	}

	for _, key := range []string{"office", profile.ID} {
		if p, err := pm.Find(key); err != nil || p.ID != profile.ID {
			t.Errorf("Find(%q) = %v, %v", key, p, err)
		}
	}
	if _, err := pm.Find("nope"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Find() error = %v, want %v", err, ErrProfileNotFound)
	}

	if err := pm.MarkUsed(profile.ID); err != nil {
		t.Fatalf("MarkUsed() error = %v", err)
	}

	// Profiles survive a reload.
	reloaded, err := NewProfileManagerAt(configDir)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	got, err := reloaded.Get(profile.ID)
	if err != nil {
		t.Fatalf("Get() after reload error = %v", err)
	}
	if got.Name != "office" || got.Username != "alice" || got.LastUsed.IsZero() {
		t.Errorf("reloaded profile = %+v", got)
	}

	if err := pm.Remove(profile.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(profile.ConfigPath); !os.IsNotExist(err) {
		t.Error("Remove() kept the copied config file")
	}
	if err := pm.Remove(profile.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("second Remove() error = %v, want %v", err, ErrProfileNotFound)
	}
}

func TestValidateConfigFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid", writeConfig(t, dir, "ok.ovpn", testConfig), false},
		{"conf extension", writeConfig(t, dir, "ok.conf", testConfig), false},
		{"wrong extension", writeConfig(t, dir, "ok.txt", testConfig), true},
		{"no remote", writeConfig(t, dir, "server.ovpn", "dev tun\nserver 10.8.0.0 255.255.255.0\n"), true},
		{"missing", filepath.Join(dir, "missing.ovpn"), true},
		{"directory", dir, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateConfigFile(tt.path); (err != nil) != tt.wantErr {
				t.Errorf("validateConfigFile() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
