package vpn

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/yllada/wg-manager/common"
)

// ParseWGQuick reads a wg-quick style configuration with one [Interface]
// and one [Peer] section. Keys that only matter to wg-quick itself
// (PostUp, Table, SaveConfig, ...) are ignored.
func ParseWGQuick(r io.Reader) (*TunnelConfig, error) {
	cfg := &TunnelConfig{}
	section := ""
	peers := 0

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			switch section {
			case "interface":
			case "peer":
				peers++
				if peers > 1 {
					return nil, fmt.Errorf("%w: line %d: only one [Peer] is supported", common.ErrConfigInvalid, lineNo)
				}
			default:
				return nil, fmt.Errorf("%w: line %d: unknown section [%s]", common.ErrConfigInvalid, lineNo, section)
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: expected key = value", common.ErrConfigInvalid, lineNo)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		var err error
		switch section {
		case "interface":
			err = cfg.setInterfaceKey(key, value)
		case "peer":
			err = cfg.setPeerKey(key, value)
		default:
			err = fmt.Errorf("key outside of a section")
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %s: %v", common.ErrConfigInvalid, lineNo, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if peers == 0 {
		return nil, fmt.Errorf("%w: missing [Peer] section", common.ErrConfigInvalid)
	}
	return cfg, nil
}

func (c *TunnelConfig) setInterfaceKey(key, value string) error {
	switch key {
	case "privatekey":
		k, err := ParseKey(value)
		if err != nil {
			return err
		}
		c.PrivateKey = k
	case "address":
		for _, item := range splitList(value) {
			p, err := parsePrefixOrAddr(item)
			if err != nil {
				return err
			}
			c.Addresses = append(c.Addresses, p)
		}
	case "dns":
		for _, item := range splitList(value) {
			addr, err := netip.ParseAddr(item)
			if err != nil {
				// wg-quick treats non-addresses as search domains.
				common.LogDebug("wg-quick: ignoring DNS search domain %q", item)
				continue
			}
			c.DNS = append(c.DNS, addr)
		}
	case "mtu":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.MTU = n
	case "listenport":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.ListenPort = n
	default:
		common.LogDebug("wg-quick: ignoring interface key %q", key)
	}
	return nil
}

func (c *TunnelConfig) setPeerKey(key, value string) error {
	switch key {
	case "publickey":
		k, err := ParseKey(value)
		if err != nil {
			return err
		}
		c.PeerPublicKey = k
	case "presharedkey":
		k, err := ParseKey(value)
		if err != nil {
			return err
		}
		c.PresharedKey = k
	case "endpoint":
		c.Endpoint = value
	case "allowedips":
		for _, item := range splitList(value) {
			p, err := parsePrefixOrAddr(item)
			if err != nil {
				return err
			}
			c.AllowedIPs = append(c.AllowedIPs, p.Masked())
		}
	case "persistentkeepalive":
		if strings.EqualFold(value, "off") {
			c.PersistentKeepalive = 0
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.PersistentKeepalive = time.Duration(n) * time.Second
	default:
		common.LogDebug("wg-quick: ignoring peer key %q", key)
	}
	return nil
}

// MarshalWGQuick renders the configuration in wg-quick format. The private
// key is only written when includePrivateKey is set.
func (c *TunnelConfig) MarshalWGQuick(includePrivateKey bool) []byte {
	var b bytes.Buffer

	b.WriteString("[Interface]\n")
	if includePrivateKey && !c.PrivateKey.IsZero() {
		fmt.Fprintf(&b, "PrivateKey = %s\n", c.PrivateKey)
	}
	if len(c.Addresses) > 0 {
		fmt.Fprintf(&b, "Address = %s\n", joinStringers(c.Addresses))
	}
	if len(c.DNS) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", joinStringers(c.DNS))
	}
	if c.MTU > 0 {
		fmt.Fprintf(&b, "MTU = %d\n", c.MTU)
	}
	if c.ListenPort > 0 {
		fmt.Fprintf(&b, "ListenPort = %d\n", c.ListenPort)
	}

	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", c.PeerPublicKey)
	if c.HasPresharedKey() {
		fmt.Fprintf(&b, "PresharedKey = %s\n", c.PresharedKey)
	}
	if c.Endpoint != "" {
		fmt.Fprintf(&b, "Endpoint = %s\n", c.Endpoint)
	}
	if len(c.AllowedIPs) > 0 {
		fmt.Fprintf(&b, "AllowedIPs = %s\n", joinStringers(c.AllowedIPs))
	}
	if c.PersistentKeepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", int(c.PersistentKeepalive/time.Second))
	}
	return b.Bytes()
}

// NewClientConfig builds a full-tunnel client configuration with the usual
// defaults: DNS 1.1.1.1 and 8.8.8.8, all traffic routed through the peer and
// a 25 second keepalive.
func NewClientConfig(privateKey Key, address netip.Prefix, peer Key, endpoint string) *TunnelConfig {
	cfg := &TunnelConfig{
		PrivateKey:          privateKey,
		Addresses:           []netip.Prefix{address},
		Endpoint:            endpoint,
		PeerPublicKey:       peer,
		PersistentKeepalive: common.DefaultPersistentKeepalive * time.Second,
	}
	for _, item := range splitList(common.DefaultDNS) {
		cfg.DNS = append(cfg.DNS, netip.MustParseAddr(item))
	}
	for _, item := range splitList(common.DefaultAllowedIPs) {
		cfg.AllowedIPs = append(cfg.AllowedIPs, netip.MustParsePrefix(item))
	}
	return cfg
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parsePrefixOrAddr accepts "10.0.0.2/24" as well as a bare address, which
// becomes a host prefix.
func parsePrefixOrAddr(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func joinStringers[T fmt.Stringer](items []T) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.String()
	}
	return strings.Join(parts, ", ")
}
