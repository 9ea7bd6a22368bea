// Package vpn provides VPN connection management functionality.
// This file contains the Profile and ProfileManager types for managing
// VPN connection profiles.
package vpn

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpnctl/common"
	"github.com/yllada/vpnctl/management"
)

// Common errors - re-exported from common package for convenience.
var (
	ErrProfileNotFound = common.ErrProfileNotFound
	ErrInvalidConfig   = common.ErrInvalidConfig
	ErrDuplicateName   = common.ErrDuplicateName
)

// Split tunnel modes.
const (
	SplitTunnelInclude = "include"
	SplitTunnelExclude = "exclude"
)

const defaultRemotePort = 1194

// Profile represents a VPN connection profile.
// It contains all the necessary information to establish a VPN connection,
// including the path to the OpenVPN configuration file and user credentials.
type Profile struct {
	// ID is a unique identifier for the profile (UUID format).
	ID string `json:"id" yaml:"id"`
	// Name is a human-readable name for the profile.
	Name string `json:"name" yaml:"name"`
	// ConfigPath is the path to the OpenVPN configuration file.
	ConfigPath string `json:"config_path" yaml:"config_path"`
	// Username is the optional username for authentication.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	// AutoConnect indicates whether to connect automatically on startup.
	AutoConnect bool `json:"auto_connect" yaml:"auto_connect"`
	// SavePassword indicates whether to save the password in the keyring.
	SavePassword bool `json:"save_password" yaml:"save_password"`
	// Created is the timestamp when the profile was created.
	Created time.Time `json:"created" yaml:"created"`
	// LastUsed is the timestamp when the profile was last used.
	LastUsed time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`

	// SplitTunnelEnabled enables split tunneling for this profile.
	SplitTunnelEnabled bool `json:"split_tunnel_enabled" yaml:"split_tunnel_enabled"`
	// SplitTunnelMode defines the split tunnel behavior:
	// "include" - Only listed IPs/networks go through VPN
	// "exclude" - All traffic goes through VPN except listed IPs/networks
	SplitTunnelMode string `json:"split_tunnel_mode,omitempty" yaml:"split_tunnel_mode,omitempty"`
	// SplitTunnelRoutes contains the list of IP addresses or CIDR networks
	// Example: ["192.168.1.0/24", "10.0.0.0/8", "8.8.8.8"]
	SplitTunnelRoutes []string `json:"split_tunnel_routes,omitempty" yaml:"split_tunnel_routes,omitempty"`
}

// ProfileManager manages VPN profiles.
// It handles loading, saving, and manipulating profiles stored on disk.
type ProfileManager struct {
	mu         sync.RWMutex
	profiles   []*Profile
	configDir  string
	configFile string
}

// NewProfileManager creates a new ProfileManager instance.
// It initializes the configuration directory and loads existing profiles.
func NewProfileManager() (*ProfileManager, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return NewProfileManagerAt(configDir)
}

// NewProfileManagerAt creates a ProfileManager storing its data in configDir.
func NewProfileManagerAt(configDir string) (*ProfileManager, error) {
	if err := common.EnsureDir(configDir); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	pm := &ProfileManager{
		profiles:   make([]*Profile, 0),
		configDir:  configDir,
		configFile: filepath.Join(configDir, common.ProfilesFileName),
	}

	// Load existing profiles
	if err := pm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	return pm, nil
}

// Load loads profiles from the configuration file.
// Returns nil if the file doesn't exist (no profiles yet).
func (pm *ProfileManager) Load() error {
	data, err := os.ReadFile(pm.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	var profiles []*Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}

	pm.mu.Lock()
	pm.profiles = profiles
	pm.mu.Unlock()
	return nil
}

// Save persists profiles to the configuration file.
func (pm *ProfileManager) Save() error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.saveLocked()
}

func (pm *ProfileManager) saveLocked() error {
	data, err := yaml.Marshal(&pm.profiles)
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}

	if err := os.WriteFile(pm.configFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}

	return nil
}

// Add adds a new profile to the manager.
// It validates the configuration file, generates a unique ID,
// and copies the config file to the application's directory.
func (pm *ProfileManager) Add(profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	// Validate the configuration file
	if err := validateConfigFile(profile.ConfigPath); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, p := range pm.profiles {
		if p.Name == profile.Name {
			return ErrDuplicateName
		}
	}

	// Generate unique ID
	if profile.ID == "" {
		profile.ID = common.GenerateID()
	}

	// Set creation timestamp
	profile.Created = time.Now()

	// Create configs directory
	configsDir := filepath.Join(pm.configDir, "configs")
	if err := common.EnsureDir(configsDir); err != nil {
		return fmt.Errorf("failed to create configs directory: %w", err)
	}

	// Copy configuration file to app directory
	destPath := filepath.Join(configsDir, profile.ID+".ovpn")
	if err := copyFile(profile.ConfigPath, destPath); err != nil {
		return fmt.Errorf("failed to copy config file: %w", err)
	}

	profile.ConfigPath = destPath
	pm.profiles = append(pm.profiles, profile)

	return pm.saveLocked()
}

// Remove removes a profile by ID.
// It also deletes the associated configuration file.
func (pm *ProfileManager) Remove(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i, profile := range pm.profiles {
		if profile.ID == id {
			// The file might already be gone.
			if err := os.Remove(profile.ConfigPath); err != nil && !os.IsNotExist(err) {
				common.LogWarn("Failed to remove %s: %v", profile.ConfigPath, err)
			}

			pm.profiles = append(pm.profiles[:i], pm.profiles[i+1:]...)
			return pm.saveLocked()
		}
	}
	return ErrProfileNotFound
}

// Get retrieves a profile by ID.
func (pm *ProfileManager) Get(id string) (*Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, profile := range pm.profiles {
		if profile.ID == id {
			return profile, nil
		}
	}
	return nil, ErrProfileNotFound
}

// GetByName retrieves a profile by name.
func (pm *ProfileManager) GetByName(name string) (*Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, profile := range pm.profiles {
		if profile.Name == name {
			return profile, nil
		}
	}
	return nil, ErrProfileNotFound
}

// Find retrieves a profile by name, falling back to its ID.
func (pm *ProfileManager) Find(nameOrID string) (*Profile, error) {
	if p, err := pm.GetByName(nameOrID); err == nil {
		return p, nil
	}
	return pm.Get(nameOrID)
}

// List returns all profiles.
func (pm *ProfileManager) List() []*Profile {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return append([]*Profile(nil), pm.profiles...)
}

// Update updates an existing profile.
func (pm *ProfileManager) Update(profile *Profile) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i, p := range pm.profiles {
		if p.ID == profile.ID {
			pm.profiles[i] = profile
			return pm.saveLocked()
		}
	}
	return ErrProfileNotFound
}

// MarkUsed updates the LastUsed timestamp for a profile.
func (pm *ProfileManager) MarkUsed(id string) error {
	profile, err := pm.Get(id)
	if err != nil {
		return err
	}
	profile.LastUsed = time.Now()
	return pm.Update(profile)
}

// Endpoint reads the first remote directive of the profile's configuration.
func (p *Profile) Endpoint() (management.Endpoint, error) {
	f, err := os.Open(p.ConfigPath)
	if err != nil {
		return management.Endpoint{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	ep, err := parseEndpoint(bufio.NewScanner(f))
	if err != nil {
		return management.Endpoint{}, err
	}
	ep.Label = p.Name
	return ep, nil
}

// RequiresAuth reports whether the configuration asks for a username and
// password.
func (p *Profile) RequiresAuth() (bool, error) {
	f, err := os.Open(p.ConfigPath)
	if err != nil {
		return false, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == "auth-user-pass" {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// parseEndpoint returns the first "remote host [port]" directive. A
// "port" directive sets the default port for remotes that omit one.
func parseEndpoint(scanner *bufio.Scanner) (management.Endpoint, error) {
	defaultPort := defaultRemotePort
	var remote []string

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") || strings.HasPrefix(fields[0], ";") {
			continue
		}
		switch fields[0] {
		case "port":
			if len(fields) > 1 {
				if port, err := strconv.Atoi(fields[1]); err == nil {
					defaultPort = port
				}
			}
		case "remote":
			if remote == nil && len(fields) > 1 {
				remote = fields[1:]
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return management.Endpoint{}, fmt.Errorf("failed to read config: %w", err)
	}
	if remote == nil {
		return management.Endpoint{}, common.ErrNoRemote
	}

	ep := management.Endpoint{Address: remote[0], Port: defaultPort}
	if len(remote) > 1 {
		port, err := strconv.Atoi(remote[1])
		if err != nil || port < 1 || port > 65535 {
			return management.Endpoint{}, fmt.Errorf("%w: bad remote port %q", ErrInvalidConfig, remote[1])
		}
		ep.Port = port
	}
	return ep, nil
}

// SplitTunnelArgs returns the openvpn options implementing the profile's
// split tunnel settings. Invalid routes are skipped.
func (p *Profile) SplitTunnelArgs() []string {
	if !p.SplitTunnelEnabled {
		return nil
	}

	var args []string
	gateway := "vpn_gateway"
	switch p.SplitTunnelMode {
	case SplitTunnelInclude:
		// Prevent the server from pushing the default route
		args = append(args, "--route-nopull", "--pull-filter", "ignore", "redirect-gateway")
	case SplitTunnelExclude:
		// Listed networks keep using the gateway that was in place before
		// the tunnel came up.
		gateway = "net_gateway"
	default:
		common.LogWarn("Unknown split tunneling mode: %s", p.SplitTunnelMode)
		return nil
	}

	for _, route := range p.SplitTunnelRoutes {
		network, netmask := parseRouteForOpenVPN(route)
		if network == "" {
			common.LogWarn("Invalid split tunnel route, ignoring: %s", route)
			continue
		}
		args = append(args, "--route", network, netmask, gateway)
	}
	return args
}

// parseRouteForOpenVPN converts a CIDR route to network/netmask format for OpenVPN
// Examples:
//   - "192.168.1.0/24" -> "192.168.1.0", "255.255.255.0"
//   - "10.0.0.1" -> "10.0.0.1", "255.255.255.255"
func parseRouteForOpenVPN(route string) (network, netmask string) {
	route = strings.TrimSpace(route)
	if route == "" {
		return "", ""
	}

	prefix, err := netip.ParsePrefix(route)
	if err != nil {
		addr, err := netip.ParseAddr(route)
		if err != nil || !addr.Is4() {
			return "", ""
		}
		prefix = netip.PrefixFrom(addr, 32)
	}
	if !prefix.Addr().Is4() {
		return "", ""
	}

	prefix = prefix.Masked()
	bits := prefix.Bits()
	var mask [4]byte
	for i := 0; i < 4; i++ {
		switch {
		case bits >= 8:
			mask[i] = 0xff
			bits -= 8
		case bits > 0:
			mask[i] = byte(0xff << (8 - bits))
			bits = 0
		}
	}
	return prefix.Addr().String(), netip.AddrFrom4(mask).String()
}

// validateConfigFile checks if the given file is a valid OpenVPN configuration.
func validateConfigFile(path string) error {
	// Check file exists
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}

	// Check it's a regular file
	if info.IsDir() {
		return ErrInvalidConfig
	}

	// Check file extension
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ovpn" && ext != ".conf" {
		return fmt.Errorf("%w: expected .ovpn or .conf extension", ErrInvalidConfig)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	// A client profile is only usable with a remote to connect to.
	if _, err := parseEndpoint(bufio.NewScanner(f)); err != nil {
		if errors.Is(err, common.ErrNoRemote) {
			return fmt.Errorf("%w: missing remote directive", ErrInvalidConfig)
		}
		return err
	}

	return nil
}

// copyFile copies a file from src to dst with secure permissions.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	return nil
}

// ToJSON converts the profile to a JSON string.
// Useful for debugging and logging.
func (p *Profile) ToJSON() string {
	data, _ := json.MarshalIndent(p, "", "  ")
	return string(data)
}

// Validate checks if the profile has all required fields.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile name is required")
	}
	if p.ConfigPath == "" {
		return errors.New("config path is required")
	}
	if p.SplitTunnelEnabled && p.SplitTunnelMode != SplitTunnelInclude && p.SplitTunnelMode != SplitTunnelExclude {
		return fmt.Errorf("split tunnel mode must be %q or %q", SplitTunnelInclude, SplitTunnelExclude)
	}
	return nil
}
