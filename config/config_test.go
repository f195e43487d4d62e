package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yllada/wg-manager/common"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.ShowNotifications {
		t.Error("ShowNotifications should be true by default")
	}
	if cfg.Session.HandshakeTimeout != 20*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 20s", cfg.Session.HandshakeTimeout)
	}
	if cfg.Session.HealthInterval != 5*time.Second {
		t.Errorf("HealthInterval = %v, want 5s", cfg.Session.HealthInterval)
	}
	if cfg.Session.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %v, want 3", cfg.Session.FailureThreshold)
	}
	if cfg.Session.Driver != common.DriverTUN {
		t.Errorf("Driver = %v, want %v", cfg.Session.Driver, common.DriverTUN)
	}
}

func TestLoadFrom_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %v, want %v", cfg.Path(), path)
	}
	if !common.FileExists(path) {
		t.Error("LoadFrom should write the default configuration")
	}
}

func TestLoadFrom_RoundTripDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `show_notifications: false
auto_connect: office
log_level: debug
bus: system
history: false
session:
  interface: wg7
  driver: netstack
  mtu: 1380
  handshake_timeout: 7s
  health_interval: 500ms
  failure_threshold: 5
  manage_routes: false
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.AutoConnect != "office" || cfg.Bus != "system" || cfg.History {
		t.Errorf("unexpected top-level values: %+v", cfg)
	}
	if cfg.Session.HandshakeTimeout != 7*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 7s", cfg.Session.HandshakeTimeout)
	}
	if cfg.Session.HealthInterval != 500*time.Millisecond {
		t.Errorf("HealthInterval = %v, want 500ms", cfg.Session.HealthInterval)
	}
	if cfg.Session.Driver != common.DriverNetstack || cfg.Session.Interface != "wg7" || cfg.Session.MTU != 1380 {
		t.Errorf("unexpected session values: %+v", cfg.Session)
	}

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	again, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if again.Session != cfg.Session {
		t.Errorf("reloaded session = %+v, want %+v", again.Session, cfg.Session)
	}
}

func TestLoadFrom_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("theme: dark\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFrom(path)
	if err == nil {
		t.Fatal("LoadFrom should reject unknown fields")
	}
	if !errors.Is(err, common.ErrConfigLoad) {
		t.Errorf("error should wrap ErrConfigLoad, got %v", err)
	}
	if !strings.Contains(err.Error(), "theme") {
		t.Errorf("error should name the field, got %v", err)
	}
}

func TestValidate_Fallbacks(t *testing.T) {
	cfg := &Config{
		Bus: "bogus",
		Session: SessionConfig{
			Driver:           "kernel",
			MTU:              10,
			HandshakeTimeout: -1,
			FailureThreshold: 0,
		},
	}

	cfg.validate()
	def := DefaultConfig()

	if cfg.Bus != def.Bus {
		t.Errorf("Bus = %v, want %v", cfg.Bus, def.Bus)
	}
	if cfg.Session.Driver != def.Session.Driver {
		t.Errorf("Driver = %v, want %v", cfg.Session.Driver, def.Session.Driver)
	}
	if cfg.Session.Interface != def.Session.Interface {
		t.Errorf("Interface = %v, want %v", cfg.Session.Interface, def.Session.Interface)
	}
	if cfg.Session.MTU != def.Session.MTU {
		t.Errorf("MTU = %v, want %v", cfg.Session.MTU, def.Session.MTU)
	}
	if cfg.Session.HandshakeTimeout != def.Session.HandshakeTimeout {
		t.Errorf("HandshakeTimeout = %v", cfg.Session.HandshakeTimeout)
	}
	if cfg.Session.HealthInterval != def.Session.HealthInterval {
		t.Errorf("HealthInterval = %v", cfg.Session.HealthInterval)
	}
	if cfg.Session.FailureThreshold != def.Session.FailureThreshold {
		t.Errorf("FailureThreshold = %v", cfg.Session.FailureThreshold)
	}
}

func TestValidate_CapsHandshakeTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.HandshakeTimeout = 10 * time.Minute

	cfg.validate()

	if cfg.Session.HandshakeTimeout != common.MaxHandshakeTimeout {
		t.Errorf("HandshakeTimeout = %v, want %v", cfg.Session.HandshakeTimeout, common.MaxHandshakeTimeout)
	}
	if cfg.Session.HandshakeTimeout+common.TeardownTimeout >= common.DBusCallTimeout {
		t.Errorf("a connect bounded by %v plus teardown does not fit the %v D-Bus call timeout",
			cfg.Session.HandshakeTimeout, common.DBusCallTimeout)
	}
}

func TestDefaultConfig_Reconnect(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Session.AutoReconnect {
		t.Error("AutoReconnect should be true by default")
	}
	if cfg.Session.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", cfg.Session.ReconnectDelay)
	}
	if cfg.Session.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %v, want 5", cfg.Session.MaxReconnectAttempts)
	}
	if cfg.Session.KillSwitch {
		t.Error("KillSwitch should be off by default")
	}
}

func TestValidate_KillSwitchNeedsKernelRoutes(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		routes bool
		want   bool
	}{
		{"tun with routes", common.DriverTUN, true, true},
		{"tun without routes", common.DriverTUN, false, false},
		{"netstack", common.DriverNetstack, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Session.Driver = tt.driver
			cfg.Session.ManageRoutes = tt.routes
			cfg.Session.KillSwitch = true

			cfg.validate()

			if cfg.Session.KillSwitch != tt.want {
				t.Errorf("KillSwitch = %v, want %v", cfg.Session.KillSwitch, tt.want)
			}
		})
	}
}

func TestValidate_ReconnectFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.ReconnectDelay = 0
	cfg.Session.MaxReconnectAttempts = -2

	cfg.validate()

	if cfg.Session.ReconnectDelay != common.ReconnectDelay {
		t.Errorf("ReconnectDelay = %v", cfg.Session.ReconnectDelay)
	}
	if cfg.Session.MaxReconnectAttempts != common.MaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %v", cfg.Session.MaxReconnectAttempts)
	}
}
