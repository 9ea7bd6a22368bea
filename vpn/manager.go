// Package vpn provides VPN connection management functionality.
// This file contains the Manager type which orchestrates VPN connections
// by running OpenVPN and driving it through its management interface.
package vpn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yllada/vpnctl/common"
	"github.com/yllada/vpnctl/management"
	"github.com/yllada/vpnctl/netcache"
)

// Common errors - re-exported from common package for convenience.
var (
	ErrAlreadyConnected = common.ErrAlreadyConnected
	ErrNotConnected     = common.ErrNotConnected
	ErrConnectionFailed = common.ErrConnectionFailed
)

// ConnectionStatus represents the current state of a VPN connection.
type ConnectionStatus = common.ConnectionStatus

const (
	StatusDisconnected  = common.StatusDisconnected
	StatusConnecting    = common.StatusConnecting
	StatusConnected     = common.StatusConnected
	StatusDisconnecting = common.StatusDisconnecting
	StatusError         = common.StatusError
)

// DNSPolicy applies pushed DNS servers to the tunnel link.
type DNSPolicy interface {
	SetLinkDNS(ctx context.Context, ifindex int, servers []netip.Addr) error
	RevertLink(ctx context.Context, ifindex int) error
}

// EventNotifier is told about connection lifecycle events.
type EventNotifier interface {
	Connected(profileName string)
	Disconnected(profileName string)
	Error(profileName, message string)
}

// process is a running engine.
type process interface {
	Wait() error
	Kill() error
}

// launcher starts name with args, writing its combined output to out.
type launcher func(name string, args []string, out io.Writer) (process, error)

// ManagerConfig holds the settings and collaborators of a Manager.
type ManagerConfig struct {
	// Binary is the openvpn executable.
	Binary string
	// UsePkexec runs the engine through pkexec.
	UsePkexec bool
	// ConnectTimeout bounds waiting for the management interface.
	ConnectTimeout time.Duration
	// ConnectRetries is the number of dial attempts within ConnectTimeout.
	ConnectRetries int
	// ByteCountInterval is the traffic sampling period in seconds.
	ByteCountInterval int
	// RuntimeDir holds the management password files.
	RuntimeDir string

	Logger     common.Logger
	Gateways   *netcache.GatewayCache
	DNSServers *netcache.DNSServerCache
	// DNSPolicy is optional; when set, pushed DNS servers are forced on
	// the tunnel link while connected.
	DNSPolicy DNSPolicy
	// Notifier is optional.
	Notifier EventNotifier

	launch    launcher
	dial      management.DialFunc
	linkIndex func(localIP string) (int, error)
}

// Connection represents an active VPN connection.
// It tracks connection state, statistics, and provides methods for management.
type Connection struct {
	// Profile is the VPN profile associated with this connection.
	Profile *Profile
	// Status is the current connection status.
	Status ConnectionStatus
	// StartTime is when the connection was initiated.
	StartTime time.Time
	// BytesSent is the total bytes transmitted.
	BytesSent uint64
	// BytesRecv is the total bytes received.
	BytesRecv uint64
	// IPAddress is the assigned VPN IP address.
	IPAddress string
	// LastError contains the last error message if Status is StatusError.
	LastError string
	// ErrorCode is the last error reported by the engine.
	ErrorCode management.ErrorCode

	client         *management.Client
	proc           process
	mu             sync.RWMutex
	done           chan struct{}
	logHandler     func(string)
	userDisconnect bool
	finished       bool
	dnsLink        int
}

// Manager orchestrates VPN connections.
// It maintains a registry of active connections and provides methods
// to connect, disconnect, and query connection status.
type Manager struct {
	profileManager *ProfileManager
	config         ManagerConfig
	logger         common.Logger
	connections    map[string]*Connection
	clients        map[string]*management.Client
	mu             sync.RWMutex
}

// NewManager creates a new VPN connection manager.
func NewManager(pm *ProfileManager, config ManagerConfig) *Manager {
	if config.Binary == "" {
		config.Binary = "openvpn"
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = common.ManagementTimeout
	}
	if config.ConnectRetries < 1 {
		config.ConnectRetries = 1
	}
	if config.RuntimeDir == "" {
		config.RuntimeDir = filepath.Join(os.TempDir(), common.AppName)
	}
	if config.Logger == nil {
		config.Logger = common.NopLogger{}
	}
	if config.Gateways == nil {
		config.Gateways = netcache.NewGatewayCache(nil, config.Logger)
	}
	if config.DNSServers == nil {
		config.DNSServers = netcache.NewDNSServerCache(nil, config.Logger)
	}
	if config.launch == nil {
		config.launch = execLauncher
	}
	if config.linkIndex == nil {
		config.linkIndex = interfaceIndexForIP
	}

	return &Manager{
		profileManager: pm,
		config:         config,
		logger:         config.Logger,
		connections:    make(map[string]*Connection),
		clients:        make(map[string]*management.Client),
	}
}

// ProfileManager returns the associated profile manager.
func (m *Manager) ProfileManager() *ProfileManager {
	return m.profileManager
}

// Gateways returns the cache of pushed gateways.
func (m *Manager) Gateways() *netcache.GatewayCache {
	return m.config.Gateways
}

// DNSServers returns the cache of pushed DNS servers.
func (m *Manager) DNSServers() *netcache.DNSServerCache {
	return m.config.DNSServers
}

// Connect initiates a VPN connection for the specified profile.
// Returns an error if a connection is already active for this profile.
func (m *Manager) Connect(profileID string, username string, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check for existing active connection
	if conn, exists := m.connections[profileID]; exists {
		if status := conn.GetStatus(); status == StatusConnected || status.IsTransient() {
			return ErrAlreadyConnected
		}
	}

	profile, err := m.profileManager.Get(profileID)
	if err != nil {
		return fmt.Errorf("profile not found: %w", err)
	}
	endpoint, err := profile.Endpoint()
	if err != nil {
		return fmt.Errorf("profile %s: %w", profile.Name, err)
	}

	// Use profile's username if not provided
	if username == "" {
		username = profile.Username
	}

	if err := m.profileManager.MarkUsed(profileID); err != nil {
		m.logger.Debug("Failed to mark profile %s as used: %v", profile.Name, err)
	}

	conn := &Connection{
		Profile:   profile,
		Status:    StatusConnecting,
		StartTime: time.Now(),
		client:    m.clientFor(profileID),
		done:      make(chan struct{}),
	}
	m.connections[profileID] = conn

	creds := management.Credentials{Username: username, Password: password}
	go m.runConnection(conn, creds, endpoint)

	return nil
}

// clientFor returns the management client of a profile, creating it on
// first use. Must be called with m.mu held.
func (m *Manager) clientFor(profileID string) *management.Client {
	if c, ok := m.clients[profileID]; ok {
		return c
	}
	c := management.NewClient(management.ClientConfig{
		Logger:            m.logger,
		Gateways:          m.config.Gateways,
		DNSServers:        m.config.DNSServers,
		Dial:              m.config.dial,
		ByteCountInterval: m.config.ByteCountInterval,
	})
	m.clients[profileID] = c
	return c
}

// Disconnect terminates an active VPN connection.
// Returns an error if no connection exists for the specified profile.
func (m *Manager) Disconnect(profileID string) error {
	m.mu.Lock()
	conn, exists := m.connections[profileID]
	if !exists {
		m.mu.Unlock()
		return ErrNotConnected
	}
	delete(m.connections, profileID)
	m.mu.Unlock()

	conn.mu.Lock()
	conn.userDisconnect = true
	if !conn.finished {
		conn.Status = StatusDisconnecting
	}
	conn.mu.Unlock()

	m.logger.Info("Disconnecting %s", conn.Profile.Name)
	conn.client.RequestDisconnect()

	select {
	case <-conn.done:
		return nil
	case <-time.After(common.DisconnectTimeout):
	}

	m.logger.Warn("%s did not disconnect in %v, stopping the engine", conn.Profile.Name, common.DisconnectTimeout)
	conn.client.Shutdown()
	conn.kill()

	select {
	case <-conn.done:
		return nil
	case <-time.After(common.DisconnectTimeout):
		return fmt.Errorf("disconnect %s: %w", conn.Profile.Name, common.ErrTimeout)
	}
}

// DisconnectAll terminates every connection and returns the first error.
func (m *Manager) DisconnectAll() error {
	var firstErr error
	for _, conn := range m.ListConnections() {
		if err := m.Disconnect(conn.Profile.ID); err != nil && !errors.Is(err, ErrNotConnected) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetConnection gets information about a connection
func (m *Manager) GetConnection(profileID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, exists := m.connections[profileID]
	return conn, exists
}

// ListConnections returns all active connections
func (m *Manager) ListConnections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connections := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		connections = append(connections, conn)
	}

	return connections
}

// runConnection executes the VPN connection
func (m *Manager) runConnection(conn *Connection, creds management.Credentials, endpoint management.Endpoint) {
	defer close(conn.done)

	m.logger.Info("Starting connection to %s (%s:%d)", conn.Profile.Name, endpoint.Address, endpoint.Port)
	m.logger.Debug("Configuration file: %s", conn.Profile.ConfigPath)

	port, err := freePort()
	if err != nil {
		m.finishConnection(conn, fmt.Errorf("failed to reserve management port: %w", err))
		return
	}
	secret, err := common.GenerateSecret(16)
	if err != nil {
		m.finishConnection(conn, err)
		return
	}
	pwFile, err := m.writeManagementPassword(secret)
	if err != nil {
		m.finishConnection(conn, fmt.Errorf("failed to create management password file: %w", err))
		return
	}
	defer os.Remove(pwFile)

	name := m.config.Binary
	args := managementArgs(conn.Profile, port, pwFile, creds.Username != "")
	if m.config.UsePkexec {
		args = append([]string{name}, args...)
		name = "pkexec"
	}
	m.logger.Debug("Command: %s %v", name, args)

	outR, outW := io.Pipe()
	proc, err := m.config.launch(name, args, outW)
	if err != nil {
		outW.Close()
		m.finishConnection(conn, fmt.Errorf("failed to start openvpn: %w", err))
		return
	}
	conn.mu.Lock()
	conn.proc = proc
	conn.mu.Unlock()

	client := conn.client
	client.SetOnStatusChanged(func(s management.Status) { m.onStatus(conn, s) })
	client.SetOnTrafficChanged(conn.addTraffic)

	exited := make(chan struct{})
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		err := proc.Wait()
		close(exited)
		outW.Close()
		client.Shutdown()
		if err != nil {
			return fmt.Errorf("openvpn terminated: %w", m.launchError(err))
		}
		return nil
	})

	g.Go(func() error {
		m.monitorOutput(conn, outR)
		return nil
	})

	g.Go(func() error {
		if err := m.connectManagement(ctx, client, port, secret, exited); err != nil {
			proc.Kill()
			return err
		}
		// Connect drops requests made before the channel opened.
		if conn.disconnectRequested() {
			m.logger.Debug("%s: disconnect requested during start-up", conn.Profile.Name)
			client.RequestDisconnect()
		}
		if err := client.StartSession(ctx, creds, endpoint); err != nil {
			return err
		}
		select {
		case <-exited:
		case <-time.After(common.DisconnectTimeout):
			m.logger.Warn("OpenVPN still running after the session ended, killing it")
			proc.Kill()
		}
		return nil
	})

	m.finishConnection(conn, g.Wait())
}

// connectManagement dials the management interface until the engine
// accepts the connection, the engine exits, or the timeout expires.
func (m *Manager) connectManagement(ctx context.Context, client *management.Client, port int, secret string, exited <-chan struct{}) error {
	deadline := time.Now().Add(m.config.ConnectTimeout)
	interval := m.config.ConnectTimeout / time.Duration(m.config.ConnectRetries)
	if interval < common.ManagementRetryInterval {
		interval = common.ManagementRetryInterval
	}

	for attempt := 1; ; attempt++ {
		dialCtx, cancel := context.WithDeadline(ctx, deadline)
		err := client.Connect(dialCtx, port, secret)
		cancel()
		if err == nil {
			m.logger.Debug("Management interface reached after %d attempt(s)", attempt)
			return nil
		}
		if errors.Is(err, common.ErrManagementAuth) {
			return fmt.Errorf("management interface on port %d: %w", port, err)
		}
		if attempt >= m.config.ConnectRetries || time.Now().After(deadline) {
			return fmt.Errorf("%w: management interface on port %d: %w", common.ErrTimeout, port, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return fmt.Errorf("%w: openvpn exited before opening its management interface", ErrConnectionFailed)
		case <-time.After(interval):
		}
	}
}

// launchError marks pkexec refusing to run the engine. pkexec exits with
// 126 when the authorization dialog is dismissed and 127 when the user is
// not authorized.
func (m *Manager) launchError(err error) error {
	if !m.config.UsePkexec {
		return err
	}
	var exit interface{ ExitCode() int }
	if errors.As(err, &exit) {
		switch exit.ExitCode() {
		case 126, 127:
			return fmt.Errorf("%w: pkexec: %w", common.ErrPermissionDenied, err)
		}
	}
	return err
}

func (m *Manager) writeManagementPassword(secret string) (string, error) {
	if err := common.EnsureDir(m.config.RuntimeDir); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(m.config.RuntimeDir, "mgmt-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := f.Chmod(0600); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if _, err := f.WriteString(secret + "\n"); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// onStatus mirrors a published status into the connection. It runs on
// the session goroutine and must not block.
func (m *Manager) onStatus(conn *Connection, s management.Status) {
	conn.mu.Lock()
	previous := conn.Status
	if !conn.userDisconnect || s.Status == StatusDisconnecting {
		conn.Status = s.Status
	}
	if s.LocalIP != "" {
		conn.IPAddress = s.LocalIP
	}
	if s.Error != management.ErrorNone {
		conn.ErrorCode = s.Error
		conn.LastError = s.Error.String()
	}
	conn.mu.Unlock()

	if s.Status == previous {
		return
	}
	m.logger.Info("%s: %s", conn.Profile.Name, s)

	if s.Status == StatusConnected {
		if m.config.Notifier != nil {
			m.config.Notifier.Connected(conn.Profile.Name)
		}
		if m.config.DNSPolicy != nil {
			go m.applyDNS(conn, s.LocalIP)
		}
	}
}

func (m *Manager) applyDNS(conn *Connection, localIP string) {
	servers := m.config.DNSServers.Last()
	if len(servers) == 0 {
		m.logger.Debug("%s: no DNS servers pushed, leaving system DNS alone", conn.Profile.Name)
		return
	}
	link, err := m.config.linkIndex(localIP)
	if err != nil {
		m.logger.Warn("%s: cannot find tunnel interface for %s: %v", conn.Profile.Name, localIP, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), common.DisconnectTimeout)
	defer cancel()
	if err := m.config.DNSPolicy.SetLinkDNS(ctx, link, servers); err != nil {
		m.logger.Warn("%s: failed to apply DNS servers: %v", conn.Profile.Name, err)
		return
	}

	conn.mu.Lock()
	finished := conn.finished
	if !finished {
		conn.dnsLink = link
	}
	conn.mu.Unlock()

	// The connection ended while the policy was being applied.
	if finished {
		m.revertDNS(conn, link)
	}
}

func (m *Manager) revertDNS(conn *Connection, link int) {
	ctx, cancel := context.WithTimeout(context.Background(), common.DisconnectTimeout)
	defer cancel()
	if err := m.config.DNSPolicy.RevertLink(ctx, link); err != nil {
		m.logger.Warn("%s: failed to revert DNS: %v", conn.Profile.Name, err)
	}
}

// finishConnection records how the connection ended.
func (m *Manager) finishConnection(conn *Connection, err error) {
	conn.mu.Lock()
	conn.finished = true
	link := conn.dnsLink
	conn.dnsLink = 0

	switch {
	case conn.userDisconnect:
		conn.Status = StatusDisconnected
	case conn.ErrorCode != management.ErrorNone:
		conn.Status = StatusError
		conn.LastError = conn.ErrorCode.String()
	case err != nil:
		conn.Status = StatusError
		conn.LastError = err.Error()
	default:
		conn.Status = StatusDisconnected
	}
	status := conn.Status
	lastError := conn.LastError
	handler := conn.logHandler
	conn.mu.Unlock()

	if link != 0 && m.config.DNSPolicy != nil {
		m.revertDNS(conn, link)
	}

	if status == StatusError {
		m.logger.Error("%s: connection failed: %s", conn.Profile.Name, lastError)
		if handler != nil {
			handler("Error: " + lastError)
		}
		if m.config.Notifier != nil {
			m.config.Notifier.Error(conn.Profile.Name, lastError)
		}
		return
	}
	m.logger.Info("%s: disconnected", conn.Profile.Name)
	if m.config.Notifier != nil {
		m.config.Notifier.Disconnected(conn.Profile.Name)
	}
}

// monitorOutput logs the engine output and forwards it to the log handler.
func (m *Manager) monitorOutput(conn *Connection, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		m.logger.Debug("OpenVPN: %s", line)

		conn.mu.RLock()
		handler := conn.logHandler
		conn.mu.RUnlock()
		if handler != nil {
			handler(line)
		}
	}
}

// managementArgs builds the openvpn command line. Credentials are never
// passed here: the engine asks for them over the management interface.
func managementArgs(profile *Profile, port int, pwFile string, withAuth bool) []string {
	args := []string{
		"--config", profile.ConfigPath,
		"--management", common.ManagementHost, strconv.Itoa(port), pwFile,
		"--management-hold",
		"--management-query-passwords",
		"--verb", "3",
	}
	if withAuth {
		args = append(args, "--auth-user-pass")
	}
	return append(args, profile.SplitTunnelArgs()...)
}

// freePort returns a loopback TCP port that was free a moment ago.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(common.ManagementHost, "0"))
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// interfaceIndexForIP returns the index of the interface holding localIP.
func interfaceIndexForIP(localIP string) (int, error) {
	ip, err := netip.ParseAddr(localIP)
	if err != nil {
		return 0, fmt.Errorf("invalid tunnel address %q: %w", localIP, err)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0, err
	}
	addrs := make(map[int][]net.Addr, len(ifaces))
	for _, iface := range ifaces {
		if a, err := iface.Addrs(); err == nil {
			addrs[iface.Index] = a
		}
	}
	if idx, ok := findInterface(addrs, ip); ok {
		return idx, nil
	}
	return 0, fmt.Errorf("no interface has address %s", ip)
}

func findInterface(addrs map[int][]net.Addr, ip netip.Addr) (int, bool) {
	for idx, list := range addrs {
		for _, a := range list {
			var candidate net.IP
			switch v := a.(type) {
			case *net.IPNet:
				candidate = v.IP
			case *net.IPAddr:
				candidate = v.IP
			}
			if got, ok := netip.AddrFromSlice(candidate); ok && got.Unmap() == ip.Unmap() {
				return idx, true
			}
		}
	}
	return 0, false
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Wait() error { return p.cmd.Wait() }
func (p execProcess) Kill() error { return p.cmd.Process.Kill() }

func execLauncher(name string, args []string, out io.Writer) (process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return execProcess{cmd: cmd}, nil
}

func (c *Connection) addTraffic(s management.TrafficSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BytesRecv = s.TotalIn
	c.BytesSent = s.TotalOut
}

func (c *Connection) disconnectRequested() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userDisconnect
}

func (c *Connection) kill() {
	c.mu.RLock()
	proc := c.proc
	c.mu.RUnlock()
	if proc != nil {
		_ = proc.Kill()
	}
}

// Client returns the management client driving the connection. Use it to
// subscribe to live status and traffic.
func (c *Connection) Client() *management.Client {
	return c.client
}

// Done is closed once the connection has fully ended.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// SetLogHandler sets a handler for connection logs
func (c *Connection) SetLogHandler(handler func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logHandler = handler
}

// GetStatus returns the current connection status
func (c *Connection) GetStatus() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Status
}

// GetUptime returns the connection uptime
func (c *Connection) GetUptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Status != StatusConnected {
		return 0
	}
	return time.Since(c.StartTime)
}

// ConnectionInfo is a consistent copy of a connection's state.
type ConnectionInfo struct {
	ProfileID   string
	ProfileName string
	Status      ConnectionStatus
	IPAddress   string
	BytesSent   uint64
	BytesRecv   uint64
	Uptime      time.Duration
	LastError   string
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := ConnectionInfo{
		ProfileID:   c.Profile.ID,
		ProfileName: c.Profile.Name,
		Status:      c.Status,
		IPAddress:   c.IPAddress,
		BytesSent:   c.BytesSent,
		BytesRecv:   c.BytesRecv,
		LastError:   c.LastError,
	}
	if c.Status == StatusConnected {
		info.Uptime = time.Since(c.StartTime)
	}
	return info
}
