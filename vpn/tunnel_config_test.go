package vpn

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"
)

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		host     string
		port     uint16
		wantErr  bool
	}{
		{"vpn.example.com:51820", "vpn.example.com", 51820, false},
		{"203.0.113.7:443", "203.0.113.7", 443, false},
		{"[2001:db8::1]:51820", "2001:db8::1", 51820, false},
		{"", "", 0, true},
		{"vpn.example.com", "", 0, true},
		{":51820", "", 0, true},
		{"vpn.example.com:0", "", 0, true},
		{"vpn.example.com:65536", "", 0, true},
		{"vpn.example.com:port", "", 0, true},
		{"bad host:51820", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			host, port, err := SplitEndpoint(tt.endpoint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitEndpoint(%q) error = %v, wantErr %v", tt.endpoint, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrConfigInvalid) {
					t.Errorf("error should wrap ErrConfigInvalid: %v", err)
				}
				return
			}
			if host != tt.host || port != tt.port {
				t.Errorf("SplitEndpoint(%q) = %q, %d", tt.endpoint, host, port)
			}
		})
	}
}

func TestTunnelConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *TunnelConfig)
		valid  bool
	}{
		{"valid", func(c *TunnelConfig) {}, true},
		{"peer equals self", func(c *TunnelConfig) { c.PeerPublicKey = c.LocalPublicKey() }, false},
		{"negative keepalive", func(c *TunnelConfig) { c.PersistentKeepalive = -time.Second }, false},
		{"fractional keepalive", func(c *TunnelConfig) { c.PersistentKeepalive = 1500 * time.Millisecond }, false},
		{"tiny mtu", func(c *TunnelConfig) { c.MTU = 100 }, false},
		{"default mtu", func(c *TunnelConfig) { c.MTU = 0 }, true},
		{"listen port", func(c *TunnelConfig) { c.ListenPort = 70000 }, false},
		{"invalid allowed ip", func(c *TunnelConfig) { c.AllowedIPs = []netip.Prefix{{}} }, false},
		{"invalid dns", func(c *TunnelConfig) { c.DNS = []netip.Addr{{}} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testTunnelConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("Validate() error = %v, want ErrConfigInvalid", err)
			}
		})
	}

	var nilCfg *TunnelConfig
	if !errors.Is(nilCfg.Validate(), ErrConfigInvalid) {
		t.Error("nil config should be invalid")
	}
}

func TestTunnelConfig_CloneAndWipe(t *testing.T) {
	cfg := testTunnelConfig(t)
	clone := cfg.Clone()

	clone.AllowedIPs[0] = netip.MustParsePrefix("192.168.0.0/16")
	clone.Wipe()

	if cfg.AllowedIPs[0] == clone.AllowedIPs[0] {
		t.Error("Clone() should copy slices")
	}
	if cfg.PrivateKey.IsZero() {
		t.Error("wiping the clone must not touch the original")
	}
	if !clone.PrivateKey.IsZero() {
		t.Error("Wipe() should zero the private key")
	}
}

func TestTunnelConfig_StringHasNoSecrets(t *testing.T) {
	cfg := testTunnelConfig(t)
	cfg.PresharedKey, _ = GeneratePresharedKey()

	s := cfg.String()
	if strings.Contains(s, cfg.PrivateKey.String()) || strings.Contains(s, cfg.PresharedKey.String()) {
		t.Errorf("String() leaks key material: %s", s)
	}
	if !strings.Contains(s, "office") {
		t.Errorf("String() = %s, want profile name", s)
	}
}
