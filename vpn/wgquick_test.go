package vpn

import (
	"bytes"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"
)

const sampleWGQuick = `# office tunnel
[Interface]
PrivateKey = dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo=
Address = 10.8.0.2/32, fd00::2/128
DNS = 1.1.1.1, corp.example.com
MTU = 1380
PostUp = iptables -A FORWARD -i %i -j ACCEPT

[Peer]
PublicKey = 3p6Hh0pjPKDhUtvL+sc1bzvY7L7qzUBEeqLNkkdA6mg=
PresharedKey = AQIDBAUGBwgJCgsMDQ4PEBESExQVFhcYGRobHB0eHyA=
Endpoint = vpn.example.com:51820
AllowedIPs = 0.0.0.0/0, 10.1.2.3/16
PersistentKeepalive = 25
`

func TestParseWGQuick(t *testing.T) {
	cfg, err := ParseWGQuick(strings.NewReader(sampleWGQuick))
	if err != nil {
		t.Fatalf("ParseWGQuick() error = %v", err)
	}

	if cfg.PrivateKey.String() != "dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo=" {
		t.Errorf("PrivateKey = %s", cfg.PrivateKey)
	}
	if len(cfg.Addresses) != 2 || cfg.Addresses[1] != netip.MustParsePrefix("fd00::2/128") {
		t.Errorf("Addresses = %v", cfg.Addresses)
	}
	if len(cfg.DNS) != 1 || cfg.DNS[0] != netip.MustParseAddr("1.1.1.1") {
		t.Errorf("DNS = %v, search domains should be skipped", cfg.DNS)
	}
	if cfg.MTU != 1380 {
		t.Errorf("MTU = %d, want 1380", cfg.MTU)
	}
	if cfg.Endpoint != "vpn.example.com:51820" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if !cfg.HasPresharedKey() {
		t.Error("PresharedKey should be set")
	}
	if len(cfg.AllowedIPs) != 2 || cfg.AllowedIPs[1] != netip.MustParsePrefix("10.1.0.0/16") {
		t.Errorf("AllowedIPs = %v, want masked prefixes", cfg.AllowedIPs)
	}
	if cfg.PersistentKeepalive != 25*time.Second {
		t.Errorf("PersistentKeepalive = %v", cfg.PersistentKeepalive)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("parsed config should validate: %v", err)
	}
}

func TestParseWGQuick_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no peer", "[Interface]\nPrivateKey = dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo=\n"},
		{"two peers", "[Peer]\nEndpoint = a:1\n[Peer]\nEndpoint = b:1\n"},
		{"unknown section", "[Tunnel]\n"},
		{"key outside section", "PrivateKey = x\n"},
		{"missing equals", "[Interface]\nPrivateKey\n"},
		{"bad key", "[Interface]\nPrivateKey = abc\n[Peer]\n"},
		{"bad address", "[Interface]\nAddress = 10.0.0.300/24\n[Peer]\n"},
		{"bad keepalive", "[Peer]\nPersistentKeepalive = soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWGQuick(strings.NewReader(tt.input))
			if !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("ParseWGQuick() error = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestParseWGQuick_KeepaliveOff(t *testing.T) {
	cfg, err := ParseWGQuick(strings.NewReader("[Peer]\nPersistentKeepalive = off\n"))
	if err != nil {
		t.Fatalf("ParseWGQuick() error = %v", err)
	}
	if cfg.PersistentKeepalive != 0 {
		t.Errorf("PersistentKeepalive = %v, want 0", cfg.PersistentKeepalive)
	}
}

func TestMarshalWGQuick(t *testing.T) {
	cfg, err := ParseWGQuick(strings.NewReader(sampleWGQuick))
	if err != nil {
		t.Fatal(err)
	}

	withKey := cfg.MarshalWGQuick(true)
	again, err := ParseWGQuick(bytes.NewReader(withKey))
	if err != nil {
		t.Fatalf("re-parsing marshalled config: %v", err)
	}
	if !again.PrivateKey.Equal(cfg.PrivateKey) || again.Endpoint != cfg.Endpoint || len(again.AllowedIPs) != 2 {
		t.Errorf("marshalled config does not round trip:\n%s", withKey)
	}

	stripped := cfg.MarshalWGQuick(false)
	if bytes.Contains(stripped, []byte("PrivateKey")) {
		t.Errorf("private key must be omitted:\n%s", stripped)
	}
	if !bytes.Contains(stripped, []byte("PresharedKey = ")) {
		t.Errorf("preshared key should be kept:\n%s", stripped)
	}
}

func TestNewClientConfig(t *testing.T) {
	priv, _ := GeneratePrivateKey()
	peer, _ := GeneratePrivateKey()
	cfg := NewClientConfig(priv, netip.MustParsePrefix("10.8.0.2/32"), peer.PublicKey(), "203.0.113.1:51820")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(cfg.DNS) != 2 {
		t.Errorf("DNS = %v, want two defaults", cfg.DNS)
	}
	if len(cfg.AllowedIPs) != 2 {
		t.Errorf("AllowedIPs = %v, want full tunnel", cfg.AllowedIPs)
	}
	if cfg.PersistentKeepalive != 25*time.Second {
		t.Errorf("PersistentKeepalive = %v", cfg.PersistentKeepalive)
	}
}
