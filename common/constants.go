// Package common provides shared constants, types, and utilities
// used across vpnctl.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "io.github.yllada.vpnctl"
	// AppName is the display name of the application.
	AppName = "vpnctl"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpnctl"
)

// File names used by the application.
const (
	ProfilesFileName    = "profiles.yaml"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "vpnctl.log"
	CacheFileName       = "netcache.db"
)

// Default timeouts and intervals.
const (
	// ConnectionTimeout is the maximum time to wait for a connection.
	ConnectionTimeout = 30 * time.Second
	// MonitorInterval is how often to check connection status.
	MonitorInterval = 1 * time.Second
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay = 5 * time.Second
	// ManagementTimeout bounds how long we wait for the engine to open
	// its management interface.
	ManagementTimeout = 10 * time.Second
	// ManagementRetryInterval is the pause between management connect attempts.
	ManagementRetryInterval = 250 * time.Millisecond
	// DisconnectTimeout is how long a requested disconnect may take before
	// the engine process is killed.
	DisconnectTimeout = 5 * time.Second
)

// ManagementHost is the loopback address the engine management interface
// listens on.
const ManagementHost = "127.0.0.1"
