package wireguard

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/yllada/wg-manager/vpn"
)

// DeviceInfo is the parsed output of a UAPI get operation.
type DeviceInfo struct {
	PublicKey  string
	ListenPort int
	Peers      []PeerInfo
}

// PeerInfo describes one peer of a device.
type PeerInfo struct {
	// PublicKey is hex encoded, as in the UAPI protocol.
	PublicKey           string
	Endpoint            string
	LastHandshake       time.Time
	RxBytes             uint64
	TxBytes             uint64
	PersistentKeepalive time.Duration
	AllowedIPs          []netip.Prefix
}

// Peer returns the peer with the given hex public key.
func (d DeviceInfo) Peer(publicKeyHex string) (PeerInfo, bool) {
	for _, p := range d.Peers {
		if p.PublicKey == publicKeyHex {
			return p, true
		}
	}
	return PeerInfo{}, false
}

// BuildUAPI renders cfg as a UAPI set operation for a single peer.
// endpoint is the resolved peer address.
func BuildUAPI(cfg *vpn.TunnelConfig, endpoint netip.AddrPort, keepalive time.Duration) string {
	var b strings.Builder

	fmt.Fprintf(&b, "private_key=%s\n", cfg.PrivateKey.Hex())
	if cfg.ListenPort > 0 {
		fmt.Fprintf(&b, "listen_port=%d\n", cfg.ListenPort)
	}
	b.WriteString("replace_peers=true\n")

	fmt.Fprintf(&b, "public_key=%s\n", cfg.PeerPublicKey.Hex())
	if cfg.HasPresharedKey() {
		fmt.Fprintf(&b, "preshared_key=%s\n", cfg.PresharedKey.Hex())
	}
	fmt.Fprintf(&b, "endpoint=%s\n", endpoint)
	fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", int(keepalive/time.Second))
	b.WriteString("replace_allowed_ips=true\n")
	for _, p := range cfg.AllowedIPs {
		fmt.Fprintf(&b, "allowed_ip=%s\n", p.Masked())
	}
	return b.String()
}

// ParseUAPI parses the output of a UAPI get operation.
func ParseUAPI(s string) (DeviceInfo, error) {
	var info DeviceInfo
	var peer *PeerInfo
	var hsSec, hsNsec int64

	flush := func() {
		if peer == nil {
			return
		}
		if hsSec != 0 || hsNsec != 0 {
			peer.LastHandshake = time.Unix(hsSec, hsNsec)
		}
		info.Peers = append(info.Peers, *peer)
		peer = nil
		hsSec, hsNsec = 0, 0
	}

	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return DeviceInfo{}, fmt.Errorf("malformed uapi line %q", line)
		}

		if key == "public_key" {
			flush()
			peer = &PeerInfo{PublicKey: value}
			continue
		}

		if peer == nil {
			switch key {
			case "private_key":
				pub, err := publicKeyFromHex(value)
				if err != nil {
					return DeviceInfo{}, err
				}
				info.PublicKey = pub
			case "listen_port":
				n, err := strconv.Atoi(value)
				if err != nil {
					return DeviceInfo{}, fmt.Errorf("listen_port: %w", err)
				}
				info.ListenPort = n
			}
			continue
		}

		var err error
		switch key {
		case "endpoint":
			peer.Endpoint = value
		case "last_handshake_time_sec":
			hsSec, err = strconv.ParseInt(value, 10, 64)
		case "last_handshake_time_nsec":
			hsNsec, err = strconv.ParseInt(value, 10, 64)
		case "rx_bytes":
			peer.RxBytes, err = strconv.ParseUint(value, 10, 64)
		case "tx_bytes":
			peer.TxBytes, err = strconv.ParseUint(value, 10, 64)
		case "persistent_keepalive_interval":
			var n int
			n, err = strconv.Atoi(value)
			peer.PersistentKeepalive = time.Duration(n) * time.Second
		case "allowed_ip":
			var p netip.Prefix
			p, err = netip.ParsePrefix(value)
			peer.AllowedIPs = append(peer.AllowedIPs, p)
		}
		if err != nil {
			return DeviceInfo{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return DeviceInfo{}, err
	}
	flush()
	return info, nil
}

func publicKeyFromHex(s string) (string, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != vpn.KeyLen {
		return "", fmt.Errorf("malformed private_key")
	}
	var k vpn.Key
	copy(k[:], raw)
	pub := k.PublicKey()
	k.Wipe()
	return pub.Hex(), nil
}
