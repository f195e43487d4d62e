package vpn

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/yllada/wg-manager/common"
)

// TunnelConfig holds the parameters of one WireGuard tunnel to a single peer.
// A config is treated as immutable once handed to the Manager; the Manager
// keeps its own copy and wipes that copy's key material when the session ends.
type TunnelConfig struct {
	// Name is an optional label, usually the profile name.
	Name string

	// Interface section.
	PrivateKey Key
	Addresses  []netip.Prefix
	DNS        []netip.Addr
	MTU        int
	ListenPort int

	// Peer section.
	Endpoint            string // host:port
	PeerPublicKey       Key
	PresharedKey        Key // zero when unused
	AllowedIPs          []netip.Prefix
	PersistentKeepalive time.Duration
}

// LocalPublicKey returns the public key matching PrivateKey.
func (c *TunnelConfig) LocalPublicKey() Key {
	return c.PrivateKey.PublicKey()
}

// HasPresharedKey reports whether a pre-shared key is configured.
func (c *TunnelConfig) HasPresharedKey() bool {
	return !c.PresharedKey.IsZero()
}

// Validate checks the configuration. Every returned error wraps
// common.ErrConfigInvalid.
func (c *TunnelConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: missing configuration", common.ErrConfigInvalid)
	}
	if _, _, err := SplitEndpoint(c.Endpoint); err != nil {
		return err
	}
	if c.PrivateKey.IsZero() {
		return fmt.Errorf("%w: private key is required", common.ErrConfigInvalid)
	}
	if c.PeerPublicKey.IsZero() {
		return fmt.Errorf("%w: peer public key is required", common.ErrConfigInvalid)
	}
	if c.PeerPublicKey.Equal(c.LocalPublicKey()) {
		return fmt.Errorf("%w: peer public key equals the local public key", common.ErrConfigInvalid)
	}
	if len(c.AllowedIPs) == 0 {
		return fmt.Errorf("%w: at least one allowed IP is required", common.ErrConfigInvalid)
	}
	for _, p := range c.AllowedIPs {
		if !p.IsValid() {
			return fmt.Errorf("%w: invalid allowed IP %q", common.ErrConfigInvalid, p)
		}
	}
	for _, p := range c.Addresses {
		if !p.IsValid() {
			return fmt.Errorf("%w: invalid interface address %q", common.ErrConfigInvalid, p)
		}
	}
	for _, a := range c.DNS {
		if !a.IsValid() {
			return fmt.Errorf("%w: invalid DNS server %q", common.ErrConfigInvalid, a)
		}
	}
	if c.PersistentKeepalive < 0 || c.PersistentKeepalive > 65535*time.Second {
		return fmt.Errorf("%w: keepalive %v out of range", common.ErrConfigInvalid, c.PersistentKeepalive)
	}
	if c.PersistentKeepalive%time.Second != 0 {
		return fmt.Errorf("%w: keepalive must be a whole number of seconds", common.ErrConfigInvalid)
	}
	if c.MTU != 0 && (c.MTU < 576 || c.MTU > 65535) {
		return fmt.Errorf("%w: MTU %d out of range", common.ErrConfigInvalid, c.MTU)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("%w: listen port %d out of range", common.ErrConfigInvalid, c.ListenPort)
	}
	return nil
}

// SplitEndpoint parses a host:port endpoint.
func SplitEndpoint(endpoint string) (string, uint16, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", 0, fmt.Errorf("%w: endpoint is required", common.ErrConfigInvalid)
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("%w: endpoint %q: %v", common.ErrConfigInvalid, endpoint, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("%w: endpoint %q has no host", common.ErrConfigInvalid, endpoint)
	}
	if strings.ContainsAny(host, " \t/") {
		return "", 0, fmt.Errorf("%w: endpoint host %q is malformed", common.ErrConfigInvalid, host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("%w: endpoint port %q is invalid", common.ErrConfigInvalid, portStr)
	}
	return host, uint16(port), nil
}

// Clone returns a deep copy of the configuration.
func (c *TunnelConfig) Clone() *TunnelConfig {
	out := *c
	out.Addresses = slices.Clone(c.Addresses)
	out.DNS = slices.Clone(c.DNS)
	out.AllowedIPs = slices.Clone(c.AllowedIPs)
	return &out
}

// Wipe zeroes the secret key material held by the configuration.
func (c *TunnelConfig) Wipe() {
	c.PrivateKey.Wipe()
	c.PresharedKey.Wipe()
}

// String describes the tunnel without any secret material.
func (c *TunnelConfig) String() string {
	name := c.Name
	if name == "" {
		name = "tunnel"
	}
	return fmt.Sprintf("%s (peer %s… at %s)", name, c.PeerPublicKey.String()[:8], c.Endpoint)
}
