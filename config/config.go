// Package config provides configuration management for vpnctl.
// It handles loading, saving, and managing application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpnctl/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// AutoReconnect automatically reconnects when connection is lost.
	AutoReconnect bool `yaml:"auto_reconnect"`
	// LogLevel is one of "debug", "info", "warn" or "error".
	LogLevel string `yaml:"log_level"`

	Management ManagementConfig `yaml:"management"`
	Cache      CacheConfig      `yaml:"cache"`
	DNS        DNSConfig        `yaml:"dns"`
}

// ManagementConfig controls how the engine is started and reached.
type ManagementConfig struct {
	// Binary is the openvpn executable.
	Binary string `yaml:"binary"`
	// UsePkexec runs the engine through pkexec so it can create the
	// tunnel device without running vpnctl as root.
	UsePkexec bool `yaml:"use_pkexec"`
	// ConnectTimeout bounds waiting for the management interface to open.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// ConnectRetries is the number of dial attempts within ConnectTimeout.
	ConnectRetries int `yaml:"connect_retries"`
	// ByteCountInterval is the traffic sampling period in seconds.
	ByteCountInterval int `yaml:"bytecount_interval"`
}

// CacheConfig controls persistence of pushed network settings.
type CacheConfig struct {
	// Persist keeps the last gateway and DNS servers across runs.
	Persist bool `yaml:"persist"`
	// Path of the sqlite database. Empty means the data directory.
	Path string `yaml:"path"`
}

// DNSConfig controls the system DNS policy applied while connected.
type DNSConfig struct {
	// Apply forces pushed DNS servers on the tunnel link through
	// systemd-resolved.
	Apply bool `yaml:"apply"`
}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		ShowNotifications: true,
		AutoReconnect:     true,
		LogLevel:          "info",
		Management: ManagementConfig{
			Binary:            "openvpn",
			UsePkexec:         true,
			ConnectTimeout:    common.ManagementTimeout,
			ConnectRetries:    40,
			ByteCountInterval: 1,
		},
		Cache: CacheConfig{
			Persist: true,
		},
		DNS: DNSConfig{
			Apply: true,
		},
	}
}

// Load loads the configuration from the config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration from path, writing the defaults there
// when the file doesn't exist.
func LoadFrom(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	// Start from the defaults so sections missing from the file keep them.
	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConfigLoad, err)
	}

	// Validate values
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate verifies that configuration values are valid
func (c *Config) validate() error {
	defaults := DefaultConfig()

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = defaults.LogLevel // Fallback to default
	}

	if c.Management.Binary == "" {
		return fmt.Errorf("%w: management.binary is empty", common.ErrInvalidConfig)
	}
	if c.Management.ConnectTimeout <= 0 {
		c.Management.ConnectTimeout = defaults.Management.ConnectTimeout
	}
	if c.Management.ConnectRetries < 1 {
		c.Management.ConnectRetries = defaults.Management.ConnectRetries
	}
	if c.Management.ByteCountInterval < 1 {
		c.Management.ByteCountInterval = defaults.Management.ByteCountInterval
	}
	return nil
}

// CachePath returns the sqlite database path, defaulting to the data
// directory.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	dataDir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, common.CacheFileName), nil
}

// Save saves the configuration to the file
func (c *Config) Save() error {
	configPath, err := getConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to path.
func (c *Config) SaveTo(configPath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %w", common.ErrConfigSave, err)
	}

	return nil
}

func getConfigPath() (string, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, common.ConfigFileName), nil
}
