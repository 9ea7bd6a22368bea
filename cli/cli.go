// Package cli provides the command-line interface of vpnctl.
// Connections run in the foreground: the process that connects owns the
// engine and tears the tunnel down when it is interrupted.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/yllada/vpnctl/common"
	"github.com/yllada/vpnctl/keyring"
	"github.com/yllada/vpnctl/management"
	"github.com/yllada/vpnctl/netcache"
	"github.com/yllada/vpnctl/tui"
	"github.com/yllada/vpnctl/vpn"
)

// TunnelReverter drops DNS policy left on tunnel interfaces.
type TunnelReverter interface {
	RevertTunnels(ctx context.Context) ([]string, error)
}

// Options are the optional collaborators of the CLI.
type Options struct {
	// Store holds the last pushed gateway and DNS servers.
	Store *netcache.Store
	// DNS is used by Restore.
	DNS TunnelReverter
	// Health watches foreground connections when set.
	Health *vpn.HealthChecker
	// Out defaults to stdout.
	Out io.Writer
}

// ConnectOptions tune a foreground connection.
type ConnectOptions struct {
	// Watch shows the live view instead of plain status lines.
	Watch bool
	// SavePassword stores the credentials in the keyring.
	SavePassword bool
}

// CLI represents the command-line interface.
type CLI struct {
	manager *vpn.Manager
	store   *netcache.Store
	dns     TunnelReverter
	health  *vpn.HealthChecker
	out     io.Writer

	prompt          func(label string, secret bool) (string, error)
	loadCredentials func(profileID string) (username, password string, err error)
	saveCredentials func(profileID, username, password string) error
	deleteSecret    func(profileID string) error
}

// New creates a new CLI instance.
func New(manager *vpn.Manager, opts Options) *CLI {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &CLI{
		manager:         manager,
		store:           opts.Store,
		dns:             opts.DNS,
		health:          opts.Health,
		out:             out,
		prompt:          promptTerminal,
		loadCredentials: keyring.GetCredentials,
		saveCredentials: keyring.StoreCredentials,
		deleteSecret:    keyring.Delete,
	}
}

// ListProfiles lists all configured VPN profiles.
func (c *CLI) ListProfiles() error {
	profiles := c.manager.ProfileManager().List()

	if len(profiles) == 0 {
		fmt.Fprintln(c.out, "No VPN profiles configured.")
		fmt.Fprintln(c.out, "Import one with: vpnctl --import FILE.ovpn --name NAME")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSERVER\tSPLIT TUNNEL\tLAST USED")
	fmt.Fprintln(w, "--\t----\t------\t------------\t---------")

	for _, profile := range profiles {
		server := "-"
		if ep, err := profile.Endpoint(); err == nil {
			server = fmt.Sprintf("%s:%d", ep.Address, ep.Port)
		}

		split := "No"
		if profile.SplitTunnelEnabled {
			split = profile.SplitTunnelMode
		}

		lastUsed := "never"
		if !profile.LastUsed.IsZero() {
			lastUsed = humanize.Time(profile.LastUsed)
		}

		// Truncate ID for display
		shortID := profile.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID, profile.Name, server, split, lastUsed)
	}

	return w.Flush()
}

// Import adds an OpenVPN configuration file as a new profile.
func (c *CLI) Import(path, name, username string) error {
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	profile := &vpn.Profile{
		Name:       name,
		ConfigPath: path,
		Username:   username,
	}
	if err := c.manager.ProfileManager().Add(profile); err != nil {
		return fmt.Errorf("failed to import %s: %w", path, err)
	}
	fmt.Fprintf(c.out, "✓ Imported %s (%s)\n", profile.Name, profile.ID)
	return nil
}

// Remove deletes a profile and its saved credentials.
func (c *CLI) Remove(nameOrID string) error {
	profile := c.findProfile(nameOrID)
	if profile == nil {
		return fmt.Errorf("profile not found: %s", nameOrID)
	}
	if _, exists := c.manager.GetConnection(profile.ID); exists {
		return fmt.Errorf("%s is connected, disconnect it first", profile.Name)
	}
	if err := c.manager.ProfileManager().Remove(profile.ID); err != nil {
		return err
	}
	if err := c.deleteSecret(profile.ID); err != nil {
		common.LogDebug("No saved credentials removed for %s: %v", profile.Name, err)
	}
	fmt.Fprintf(c.out, "✓ Removed %s\n", profile.Name)
	return nil
}

// Connect connects to a VPN profile by name or ID and keeps the tunnel up
// until ctx is cancelled or the connection ends.
func (c *CLI) Connect(ctx context.Context, nameOrID string, opts ConnectOptions) error {
	profile := c.findProfile(nameOrID)
	if profile == nil {
		return fmt.Errorf("profile not found: %s", nameOrID)
	}

	// Check if already connected
	if conn, exists := c.manager.GetConnection(profile.ID); exists {
		if conn.GetStatus() == vpn.StatusConnected {
			return fmt.Errorf("already connected to %s", profile.Name)
		}
	}

	username, password, err := c.credentials(profile)
	if err != nil {
		return err
	}
	if opts.SavePassword && password != "" {
		if err := c.rememberCredentials(profile, username, password); err != nil {
			fmt.Fprintf(c.out, "  Warning: credentials not saved: %v\n", err)
		}
	}

	fmt.Fprintf(c.out, "Connecting to %s...\n", profile.Name)

	if err := c.manager.Connect(profile.ID, username, password); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	conn, exists := c.manager.GetConnection(profile.ID)
	if !exists {
		return fmt.Errorf("connection failed: %w", vpn.ErrNotConnected)
	}
	defer c.disconnectIfActive(profile)

	if c.health != nil {
		c.health.Start()
		defer c.health.Stop()
	}

	if opts.Watch {
		return c.watch(ctx, profile, conn)
	}

	if err := c.waitConnected(ctx, conn); err != nil {
		return err
	}
	info := conn.Info()
	fmt.Fprintf(c.out, "✓ Connected to %s (%s)\n", profile.Name, info.IPAddress)
	fmt.Fprintln(c.out, "Press Ctrl+C to disconnect.")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
		}

		next, ok := c.replacement(ctx, profile.ID, conn)
		if !ok {
			info := conn.Info()
			if info.Status == vpn.StatusError {
				return fmt.Errorf("connection lost: %s", info.LastError)
			}
			return nil
		}
		fmt.Fprintf(c.out, "Reconnecting to %s...\n", profile.Name)
		conn = next
	}
}

// replacement waits briefly for the health checker to start a new
// connection in place of one that ended.
func (c *CLI) replacement(ctx context.Context, profileID string, ended *vpn.Connection) (*vpn.Connection, bool) {
	if c.health == nil {
		return nil, false
	}
	deadline := time.Now().Add(common.ReconnectDelay + common.DisconnectTimeout)
	for time.Now().Before(deadline) {
		if conn, exists := c.manager.GetConnection(profileID); exists && conn != ended {
			return conn, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(common.MonitorInterval / 2):
		}
	}
	return nil, false
}

// waitConnected waits for the connection to establish (with timeout).
func (c *CLI) waitConnected(ctx context.Context, conn *vpn.Connection) error {
	timeout := time.After(common.ConnectionTimeout)
	ticker := time.NewTicker(common.MonitorInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("connection timed out")
		case <-conn.Done():
			info := conn.Info()
			if info.LastError != "" {
				return fmt.Errorf("connection failed: %s", info.LastError)
			}
			return fmt.Errorf("connection failed: %s", info.Status)
		case <-ticker.C:
			switch conn.GetStatus() {
			case vpn.StatusConnected:
				return nil
			case vpn.StatusError:
				return fmt.Errorf("connection failed: %s", conn.Info().LastError)
			}
		}
	}
}

// watch runs the live view until the user quits or the connection ends.
func (c *CLI) watch(ctx context.Context, profile *vpn.Profile, conn *vpn.Connection) error {
	client := conn.Client()
	statusCh, stopStatus := client.SubscribeStatus(16)
	defer stopStatus()
	trafficCh, stopTraffic := client.SubscribeTraffic(16)
	defer stopTraffic()

	info := conn.Info()
	var since time.Time
	if info.Status == vpn.StatusConnected {
		since = time.Now().Add(-info.Uptime)
	}
	model := tui.New(tui.Config{
		Profile: profile.Name,
		Initial: initialStatus(info),
		Since:   since,
		Status:  statusCh,
		Traffic: trafficCh,
		Done:    conn.Done(),
		Disconnect: func() error {
			return c.manager.Disconnect(profile.ID)
		},
	})

	if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("live view failed: %w", err)
	}

	if info := conn.Info(); info.Status == vpn.StatusError {
		return fmt.Errorf("connection failed: %s", info.LastError)
	}
	return nil
}

func initialStatus(info vpn.ConnectionInfo) management.Status {
	return management.Status{
		Status:  info.Status,
		LocalIP: info.IPAddress,
		Label:   info.ProfileName,
	}
}

func (c *CLI) disconnectIfActive(profile *vpn.Profile) {
	if _, exists := c.manager.GetConnection(profile.ID); !exists {
		return
	}
	fmt.Fprintf(c.out, "Disconnecting from %s...\n", profile.Name)
	if err := c.manager.Disconnect(profile.ID); err != nil && !errors.Is(err, vpn.ErrNotConnected) {
		fmt.Fprintf(c.out, "  Warning: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "✓ Disconnected from %s\n", profile.Name)
}

// credentials returns saved credentials, prompting for what is missing.
func (c *CLI) credentials(profile *vpn.Profile) (username, password string, err error) {
	needed, err := profile.RequiresAuth()
	if err != nil {
		return "", "", err
	}
	username = profile.Username
	if !needed && username == "" {
		return "", "", nil
	}

	if profile.SavePassword {
		savedUser, savedPassword, err := c.loadCredentials(profile.ID)
		if err == nil {
			if savedUser != "" {
				username = savedUser
			}
			password = savedPassword
		} else {
			common.LogDebug("No saved credentials for %s: %v", profile.Name, err)
		}
	}

	if username == "" {
		if username, err = c.prompt("Username: ", false); err != nil {
			return "", "", fmt.Errorf("reading username: %w", err)
		}
	}
	if password == "" {
		if password, err = c.prompt(fmt.Sprintf("Password for %s: ", profile.Name), true); err != nil {
			return "", "", fmt.Errorf("reading password: %w", err)
		}
	}
	return username, password, nil
}

func (c *CLI) rememberCredentials(profile *vpn.Profile, username, password string) error {
	if err := c.saveCredentials(profile.ID, username, password); err != nil {
		return err
	}
	profile.SavePassword = true
	if profile.Username == "" {
		profile.Username = username
	}
	return c.manager.ProfileManager().Update(profile)
}

// Status shows the active connections and the last network settings
// pushed by a server.
func (c *CLI) Status() error {
	connections := c.manager.ListConnections()

	if len(connections) == 0 {
		fmt.Fprintln(c.out, "No active VPN connections.")
	} else {
		w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROFILE\tSTATUS\tUPTIME\tIP ADDRESS\tTRAFFIC")
		fmt.Fprintln(w, "-------\t------\t------\t----------\t-------")

		for _, conn := range connections {
			info := conn.Info()
			uptime := ""
			if info.Status == vpn.StatusConnected {
				uptime = formatDuration(info.Uptime)
			}

			ip := info.IPAddress
			if ip == "" {
				ip = "-"
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t↓ %s ↑ %s\n",
				info.ProfileName, info.Status.String(), uptime, ip,
				humanize.Bytes(info.BytesRecv), humanize.Bytes(info.BytesSent))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	return c.printSnapshot()
}

// Restore drops DNS policy left on tunnel interfaces by a run that did
// not shut down cleanly.
func (c *CLI) Restore(ctx context.Context) error {
	if c.dns == nil {
		return fmt.Errorf("DNS policy is not available")
	}
	links, err := c.dns.RevertTunnels(ctx)
	for _, link := range links {
		fmt.Fprintf(c.out, "✓ Reverted DNS on %s\n", link)
	}
	if err != nil {
		return fmt.Errorf("failed to restore DNS: %w", err)
	}
	if len(links) == 0 {
		fmt.Fprintln(c.out, "No tunnel interfaces had DNS settings to revert.")
	}
	return c.printSnapshot()
}

func (c *CLI) printSnapshot() error {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Load()
	if err != nil {
		return err
	}
	if !snap.Gateway.IsValid() && len(snap.DNSServers) == 0 {
		return nil
	}

	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "Last pushed settings (%s):\n", humanize.Time(snap.UpdatedAt))
	if snap.Gateway.IsValid() {
		fmt.Fprintf(c.out, "  Gateway:     %s\n", snap.Gateway)
	}
	if len(snap.DNSServers) > 0 {
		servers := make([]string, len(snap.DNSServers))
		for i, s := range snap.DNSServers {
			servers[i] = s.String()
		}
		fmt.Fprintf(c.out, "  DNS servers: %s\n", strings.Join(servers, ", "))
	}
	return nil
}

// findProfile finds a profile by name or ID (case-insensitive).
func (c *CLI) findProfile(nameOrID string) *vpn.Profile {
	nameOrID = strings.ToLower(strings.TrimSpace(nameOrID))
	if nameOrID == "" {
		return nil
	}

	for _, profile := range c.manager.ProfileManager().List() {
		if strings.ToLower(profile.Name) == nameOrID ||
			strings.ToLower(profile.ID) == nameOrID ||
			strings.HasPrefix(strings.ToLower(profile.ID), nameOrID) {
			return profile
		}
	}

	return nil
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// promptTerminal reads a line from the terminal, without echo for secrets.
func promptTerminal(label string, secret bool) (string, error) {
	fmt.Fprint(os.Stderr, label)
	if secret {
		pass, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(pass), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`vpnctl - OpenVPN client driven through the management interface

Usage:
  vpnctl [OPTIONS]

Options:
  --version              Show version and exit
  --verbose              Enable verbose logging
  --config PATH          Use an alternative configuration file
  --list                 List all VPN profiles
  --import FILE          Import an OpenVPN configuration as a profile
  --name NAME            Profile name for --import
  --user USER            Username for --import
  --remove NAME          Remove a VPN profile
  --connect NAME         Connect to a VPN profile and stay in the foreground
  --watch                Show a live view while connected
  --save-password        Store the credentials in the system keyring
  --status               Show connections and the last pushed settings
  --restore              Revert DNS settings left on tunnel interfaces
  --help                 Show this help message

Examples:
  vpnctl --import ~/work.ovpn --name "Work VPN" --user alice
  vpnctl --connect "Work VPN" --watch
  vpnctl --status
  sudo vpnctl --restore

Notes:
  - Press Ctrl+C (or d in the live view) to disconnect
  - OpenVPN runs through pkexec unless management.use_pkexec is false`)
}
