// Package common provides shared constants, types, and utilities
// used across the WireGuard Manager application.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.yllada.WGManager"
	// AppName is the display name of the application.
	AppName = "WireGuard Manager"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "wg-manager"
)

// File names used by the application.
const (
	ProfilesFileName    = "profiles.yaml"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "wg-manager.log"
	HistoryFileName     = "history.db"
	ProfileConfigsDir   = "configs"
)

// Default timeouts and intervals.
const (
	// HandshakeTimeout bounds how long a connect waits for the first handshake.
	HandshakeTimeout = 20 * time.Second
	// MaxHandshakeTimeout caps the configured handshake timeout so a connect
	// plus a failed-connect teardown fits within DBusCallTimeout.
	MaxHandshakeTimeout = DBusCallTimeout - 1*time.Second - TeardownTimeout
	// HealthInterval is how often a connected tunnel is polled.
	HealthInterval = 5 * time.Second
	// HealthFailureThreshold is the number of consecutive failed polls
	// after which a session is failed.
	HealthFailureThreshold = 3
	// TeardownTimeout bounds a single engine stop or interface destroy call.
	TeardownTimeout = 10 * time.Second
	// DBusCallTimeout is the timeout for front-end calls over D-Bus.
	DBusCallTimeout = 45 * time.Second
	// ReconnectDelay is the wait before the first automatic reconnect.
	ReconnectDelay = 5 * time.Second
	// MaxReconnectDelay caps the doubling delay between reconnect attempts.
	MaxReconnectDelay = 2 * time.Minute
	// MaxReconnectAttempts is the default number of reconnect attempts.
	MaxReconnectAttempts = 5
)

// WireGuard protocol timers used to grade handshake freshness.
const (
	// RekeyAfterTime is when an initiator starts a new handshake.
	RekeyAfterTime = 120 * time.Second
	// RejectAfterTime is when a session key stops being accepted.
	RejectAfterTime = 180 * time.Second
)

// Tunnel defaults.
const (
	DefaultInterfaceName       = "wgm0"
	DefaultMTU                 = 1420
	DefaultPersistentKeepalive = 25
	DefaultDNS                 = "1.1.1.1, 8.8.8.8"
	DefaultAllowedIPs          = "0.0.0.0/0, ::/0"
)

// Interface drivers.
const (
	DriverTUN      = "tun"
	DriverWater    = "water"
	DriverNetstack = "netstack"
)

// UI constants.
const (
	// TrayIconSize is the size of the system tray icon.
	TrayIconSize = 22
	// DashboardRefresh is the dashboard redraw interval.
	DashboardRefresh = 1 * time.Second
)
