// Package config provides configuration management for WireGuard Manager.
// It handles loading, saving, and validating application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yllada/wg-manager/common"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// ShowNotifications enables desktop notifications for session events.
	ShowNotifications bool `yaml:"show_notifications"`
	// AutoConnect names the profile the daemon connects on start (empty disables).
	AutoConnect string `yaml:"auto_connect,omitempty"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
	// Bus selects the D-Bus bus the daemon registers on: "session" or "system".
	Bus string `yaml:"bus"`
	// History enables the sqlite session history.
	History bool `yaml:"history"`
	// Session holds the tunnel session settings.
	Session SessionConfig `yaml:"session"`

	path string
}

// SessionConfig holds the settings of the session manager and its collaborators.
type SessionConfig struct {
	// Interface is the name of the tunnel interface to create.
	Interface string `yaml:"interface"`
	// Driver selects how the interface is created: "tun", "water" or "netstack".
	Driver string `yaml:"driver"`
	// MTU is used when the tunnel configuration does not set one.
	MTU int `yaml:"mtu"`
	// HandshakeTimeout bounds the wait for the first handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// HealthInterval is how often a connected tunnel is polled.
	HealthInterval time.Duration `yaml:"health_interval"`
	// FailureThreshold is how many consecutive failed polls fail the session.
	FailureThreshold int `yaml:"failure_threshold"`
	// ManageRoutes installs routes for the peer's allowed IPs.
	ManageRoutes bool `yaml:"manage_routes"`
	// AutoReconnect reconnects a profile whose session failed its health checks.
	AutoReconnect bool `yaml:"auto_reconnect"`
	// ReconnectDelay is the wait before the first reconnect attempt. It
	// doubles after every failed attempt.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// MaxReconnectAttempts bounds the reconnect attempts (0 = unlimited).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	// KillSwitch blocks traffic outside a full-tunnel session until the user
	// disconnects. Requires manage_routes and a kernel interface driver.
	KillSwitch bool `yaml:"kill_switch"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ShowNotifications: true,
		LogLevel:          "info",
		Bus:               "session",
		History:           true,
		Session: SessionConfig{
			Interface:        common.DefaultInterfaceName,
			Driver:           common.DriverTUN,
			MTU:              common.DefaultMTU,
			HandshakeTimeout: common.HandshakeTimeout,
			HealthInterval:   common.HealthInterval,
			FailureThreshold: common.HealthFailureThreshold,
			ManageRoutes:         true,
			AutoReconnect:        true,
			ReconnectDelay:       common.ReconnectDelay,
			MaxReconnectAttempts: common.MaxReconnectAttempts,
		},
	}
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration from path, creating it with default
// values when it does not exist.
func LoadFrom(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.path = configPath
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	// Start from defaults so omitted keys keep their default values.
	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: error parsing %s: %v", common.ErrConfigLoad, configPath, err)
	}

	config.validate()
	config.path = configPath

	return config, nil
}

// validate replaces out-of-range values with their defaults.
func (c *Config) validate() {
	def := DefaultConfig()

	switch c.Bus {
	case "session", "system":
	default:
		common.LogWarn("Config: unknown bus %q, using %q", c.Bus, def.Bus)
		c.Bus = def.Bus
	}

	switch c.Session.Driver {
	case common.DriverTUN, common.DriverWater, common.DriverNetstack:
	default:
		common.LogWarn("Config: unknown interface driver %q, using %q", c.Session.Driver, def.Session.Driver)
		c.Session.Driver = def.Session.Driver
	}

	if c.Session.Interface == "" {
		c.Session.Interface = def.Session.Interface
	}
	if c.Session.MTU < 576 || c.Session.MTU > 65535 {
		c.Session.MTU = def.Session.MTU
	}
	if c.Session.HandshakeTimeout <= 0 {
		c.Session.HandshakeTimeout = def.Session.HandshakeTimeout
	}
	if c.Session.HandshakeTimeout > common.MaxHandshakeTimeout {
		common.LogWarn("Config: handshake_timeout %v exceeds %v, capping", c.Session.HandshakeTimeout, common.MaxHandshakeTimeout)
		c.Session.HandshakeTimeout = common.MaxHandshakeTimeout
	}
	if c.Session.HealthInterval <= 0 {
		c.Session.HealthInterval = def.Session.HealthInterval
	}
	if c.Session.FailureThreshold < 1 {
		c.Session.FailureThreshold = def.Session.FailureThreshold
	}
	if c.Session.ReconnectDelay <= 0 {
		c.Session.ReconnectDelay = def.Session.ReconnectDelay
	}
	if c.Session.MaxReconnectAttempts < 0 {
		c.Session.MaxReconnectAttempts = def.Session.MaxReconnectAttempts
	}
	if c.Session.KillSwitch && (!c.Session.ManageRoutes || c.Session.Driver == common.DriverNetstack) {
		common.LogWarn("Config: kill_switch needs manage_routes and a kernel interface driver, disabling")
		c.Session.KillSwitch = false
	}
}

// Path returns the file the configuration was loaded from or will be saved to.
func (c *Config) Path() string {
	return c.path
}

// Save saves the configuration to its file.
func (c *Config) Save() error {
	configPath := c.path
	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("%w: error creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: error serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

// DefaultPath returns the location of the configuration file.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}
