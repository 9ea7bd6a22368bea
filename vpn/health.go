// Package vpn provides VPN connection management functionality.
// This file contains the HealthChecker for monitoring connection health
// and implementing auto-reconnect functionality.
package vpn

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/jackpal/gateway"

	"github.com/yllada/vpnctl/common"
	"github.com/yllada/vpnctl/keyring"
)

// HealthState represents the current health state of a connection.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthConfig holds configuration for the health checker.
type HealthConfig struct {
	// CheckInterval is how often to check connection health.
	CheckInterval time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
	// AutoReconnect enables automatic reconnection on failure.
	AutoReconnect bool
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts is the maximum number of reconnection attempts (0 = unlimited).
	MaxReconnectAttempts int
	// DialTimeout bounds each connectivity probe.
	DialTimeout time.Duration
	// TestHosts are probed when the server pushed no DNS servers.
	TestHosts []string
}

// DefaultHealthConfig returns sensible defaults for health checking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:        30 * time.Second,
		FailureThreshold:     3,
		AutoReconnect:        true,
		ReconnectDelay:       common.ReconnectDelay,
		MaxReconnectAttempts: 5,
		DialTimeout:          5 * time.Second,
		TestHosts: []string{
			"8.8.8.8:53",        // Google DNS
			"1.1.1.1:53",        // Cloudflare DNS
			"208.67.222.222:53", // OpenDNS
		},
	}
}

// HealthChecker monitors the health of VPN connections.
type HealthChecker struct {
	mu                sync.RWMutex
	config            HealthConfig
	manager           *Manager
	running           bool
	stopChan          chan struct{}
	connectionHealth  map[string]*ConnectionHealth
	onHealthChange    func(profileID string, oldState, newState HealthState)
	onReconnecting    func(profileID string, attempt int)
	onReconnectFailed func(profileID string, err error)

	dial            func(ctx context.Context, network, address string) (net.Conn, error)
	discoverGateway func() (net.IP, error)
	credentials     func(profileID string) (username, password string, err error)
}

// ConnectionHealth tracks the health of a specific connection.
type ConnectionHealth struct {
	ProfileID         string
	State             HealthState
	LastCheck         time.Time
	LastSuccess       time.Time
	ConsecutiveFails  int
	ReconnectAttempts int
	Latency           time.Duration
	// Probe is the address that answered the last successful check.
	Probe string
}

// NewHealthChecker creates a new health checker for the given manager.
func NewHealthChecker(manager *Manager, config HealthConfig) *HealthChecker {
	var dialer net.Dialer
	return &HealthChecker{
		config:           config,
		manager:          manager,
		stopChan:         make(chan struct{}),
		connectionHealth: make(map[string]*ConnectionHealth),
		dial:             dialer.DialContext,
		discoverGateway:  gateway.DiscoverGateway,
		credentials:      keyring.GetCredentials,
	}
}

// SetOnHealthChange sets a callback for health state changes.
func (hc *HealthChecker) SetOnHealthChange(callback func(profileID string, oldState, newState HealthState)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onHealthChange = callback
}

// SetOnReconnecting sets a callback for reconnection attempts.
func (hc *HealthChecker) SetOnReconnecting(callback func(profileID string, attempt int)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onReconnecting = callback
}

// SetOnReconnectFailed sets a callback for failed reconnection.
func (hc *HealthChecker) SetOnReconnectFailed(callback func(profileID string, err error)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onReconnectFailed = callback
}

// Start begins the health checking loop.
func (hc *HealthChecker) Start() {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.stopChan = make(chan struct{})
	stop := hc.stopChan
	hc.mu.Unlock()

	common.LogInfo("Health checker started (interval: %v)", hc.config.CheckInterval)

	go hc.runLoop(stop)
}

// Stop stops the health checking loop.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	close(hc.stopChan)
	hc.mu.Unlock()

	common.LogInfo("Health checker stopped")
}

// IsRunning returns whether the health checker is currently running.
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.running
}

// GetHealth returns the current health state for a connection.
func (hc *HealthChecker) GetHealth(profileID string) (*ConnectionHealth, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	health, exists := hc.connectionHealth[profileID]
	if !exists {
		return nil, false
	}
	// Return a copy to prevent race conditions
	healthCopy := *health
	return &healthCopy, true
}

// runLoop is the main health checking loop.
func (hc *HealthChecker) runLoop(stop <-chan struct{}) {
	hc.mu.RLock()
	interval := hc.config.CheckInterval
	hc.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hc.checkAllConnections()
		}
	}
}

// checkAllConnections checks the health of all active connections.
func (hc *HealthChecker) checkAllConnections() {
	if hc.manager == nil {
		return
	}
	for _, conn := range hc.manager.ListConnections() {
		if conn.GetStatus() == StatusConnected {
			hc.checkConnection(conn)
		}
	}
}

// checkConnection performs a health check on a single connection.
func (hc *HealthChecker) checkConnection(conn *Connection) {
	profileID := conn.Profile.ID

	// Initialize health tracking if not exists
	hc.mu.Lock()
	health, exists := hc.connectionHealth[profileID]
	if !exists {
		health = &ConnectionHealth{
			ProfileID: profileID,
			State:     HealthUnknown,
		}
		hc.connectionHealth[profileID] = health
	}
	hc.mu.Unlock()

	// Perform connectivity test
	probe, latency, err := hc.testConnectivity(hc.probeTargets())

	hc.mu.Lock()
	defer hc.mu.Unlock()

	health.LastCheck = time.Now()
	oldState := health.State

	if err != nil {
		health.ConsecutiveFails++
		health.Latency = 0
		health.Probe = ""
		common.LogWarn("Health check failed for %s (attempt %d/%d): %v",
			conn.Profile.Name, health.ConsecutiveFails, hc.config.FailureThreshold, err)

		if health.ConsecutiveFails >= hc.config.FailureThreshold {
			health.State = HealthUnhealthy
		} else {
			health.State = HealthDegraded
		}
	} else {
		health.ConsecutiveFails = 0
		health.LastSuccess = time.Now()
		health.Latency = latency
		health.Probe = probe
		health.State = HealthHealthy
		health.ReconnectAttempts = 0 // Reset on successful health check
	}

	// Notify on state change
	if oldState != health.State {
		common.LogInfo("Health state changed for %s: %s -> %s",
			conn.Profile.Name, oldState.String(), health.State.String())

		if hc.onHealthChange != nil {
			go hc.onHealthChange(profileID, oldState, health.State)
		}

		// Trigger auto-reconnect if unhealthy
		if health.State == HealthUnhealthy && hc.config.AutoReconnect {
			go hc.attemptReconnect(conn, health)
		}
	}
}

// probeTargets returns the DNS servers pushed through the tunnel, then
// the configured fallbacks.
func (hc *HealthChecker) probeTargets() []string {
	var pushed []netip.Addr
	if hc.manager != nil {
		pushed = hc.manager.DNSServers().Last()
	}

	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return probeTargets(pushed, hc.config.TestHosts)
}

func probeTargets(pushed []netip.Addr, fallbacks []string) []string {
	targets := make([]string, 0, len(pushed)+len(fallbacks))
	seen := make(map[string]bool)
	for _, addr := range pushed {
		t := net.JoinHostPort(addr.String(), strconv.Itoa(53))
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	for _, t := range fallbacks {
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	return targets
}

// testConnectivity tests network connectivity through the VPN tunnel.
// Returns the probe that answered, its latency, and an error.
func (hc *HealthChecker) testConnectivity(targets []string) (string, time.Duration, error) {
	timeout := hc.config.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// Try each test host until one succeeds
	for _, host := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		start := time.Now()
		conn, err := hc.dial(ctx, "tcp", host)
		cancel()
		if err == nil {
			conn.Close()
			return host, time.Since(start), nil
		}
	}

	return "", 0, common.ErrConnectionFailed
}

// physicalNetworkUp reports whether a default gateway outside the tunnel
// exists. Reconnecting without one only burns attempts.
func (hc *HealthChecker) physicalNetworkUp() bool {
	gw, err := hc.discoverGateway()
	if err != nil {
		common.LogDebug("No default gateway: %v", err)
		return false
	}
	common.LogDebug("Default gateway: %s", gw)
	return true
}

// attemptReconnect attempts to reconnect a failed connection.
func (hc *HealthChecker) attemptReconnect(conn *Connection, health *ConnectionHealth) {
	hc.mu.RLock()
	maxAttempts := hc.config.MaxReconnectAttempts
	delay := hc.config.ReconnectDelay
	onReconnecting := hc.onReconnecting
	attempts := health.ReconnectAttempts
	hc.mu.RUnlock()

	profile := conn.Profile

	if maxAttempts > 0 && attempts >= maxAttempts {
		common.LogError("Max reconnect attempts reached for %s", profile.Name)
		hc.reconnectFailed(profile.ID, common.ErrConnectionFailed)
		return
	}

	if !hc.physicalNetworkUp() {
		common.LogWarn("No physical network, postponing reconnect for %s", profile.Name)
		return
	}

	hc.mu.Lock()
	health.ReconnectAttempts++
	attempt := health.ReconnectAttempts
	hc.mu.Unlock()

	common.LogInfo("Attempting reconnect for %s (attempt %d)", profile.Name, attempt)

	if onReconnecting != nil {
		onReconnecting(profile.ID, attempt)
	}

	// Wait before reconnecting
	time.Sleep(delay)

	// The connection might have been manually disconnected meanwhile.
	currentConn, exists := hc.manager.GetConnection(profile.ID)
	if !exists || currentConn != conn || currentConn.GetStatus() == StatusDisconnected {
		common.LogInfo("Connection was disconnected, skipping reconnect for %s", profile.Name)
		return
	}

	if !profile.SavePassword {
		common.LogWarn("Cannot auto-reconnect %s: credentials not saved", profile.Name)
		hc.reconnectFailed(profile.ID, fmt.Errorf("credentials not saved, manual reconnect required"))
		return
	}
	username, password, err := hc.credentials(profile.ID)
	if err != nil {
		common.LogWarn("Cannot auto-reconnect %s: no saved credentials", profile.Name)
		hc.reconnectFailed(profile.ID, fmt.Errorf("no saved credentials for auto-reconnect: %w", err))
		return
	}

	// Disconnect first
	if err := hc.manager.Disconnect(profile.ID); err != nil {
		common.LogError("Failed to disconnect before reconnect: %v", err)
	}

	if err := hc.manager.Connect(profile.ID, username, password); err != nil {
		common.LogError("Reconnect failed for %s: %v", profile.Name, err)

		hc.mu.RLock()
		retry := maxAttempts == 0 || health.ReconnectAttempts < maxAttempts
		hc.mu.RUnlock()
		if retry {
			go hc.attemptReconnect(conn, health)
		} else {
			hc.reconnectFailed(profile.ID, err)
		}
		return
	}
	common.LogInfo("Reconnect started for %s", profile.Name)
}

func (hc *HealthChecker) reconnectFailed(profileID string, err error) {
	hc.mu.RLock()
	callback := hc.onReconnectFailed
	hc.mu.RUnlock()
	if callback != nil {
		callback(profileID, err)
	}
}

// RemoveConnection removes health tracking for a disconnected connection.
func (hc *HealthChecker) RemoveConnection(profileID string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.connectionHealth, profileID)
}

// UpdateConfig updates the health checker configuration.
func (hc *HealthChecker) UpdateConfig(config HealthConfig) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.config = config
}
