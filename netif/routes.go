package netif

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/yllada/wg-manager/vpn"
)

var (
	ipv4HalfLow  = netip.MustParsePrefix("0.0.0.0/1")
	ipv4HalfHigh = netip.MustParsePrefix("128.0.0.0/1")
	ipv6HalfLow  = netip.MustParsePrefix("::/1")
	ipv6HalfHigh = netip.MustParsePrefix("8000::/1")
)

// TunnelRoutes returns the routes to install for allowed IPs. A default
// route is split into two halves so it wins over the existing default
// route without replacing it.
func TunnelRoutes(allowed []netip.Prefix) []netip.Prefix {
	var out []netip.Prefix
	seen := make(map[netip.Prefix]bool)
	add := func(p netip.Prefix) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, p := range allowed {
		p = p.Masked()
		switch {
		case p.Bits() == 0 && p.Addr().Is4():
			add(ipv4HalfLow)
			add(ipv4HalfHigh)
		case p.Bits() == 0:
			add(ipv6HalfLow)
			add(ipv6HalfHigh)
		default:
			add(p)
		}
	}
	return out
}

// CoversAll reports whether the allowed IPs capture all traffic of at least
// one address family. The peer endpoint then needs a bypass route.
func CoversAll(allowed []netip.Prefix) bool {
	for _, p := range allowed {
		if p.Bits() == 0 {
			return true
		}
	}
	return false
}

// HostPrefix returns the single-address prefix of addr.
func HostPrefix(addr netip.Addr) netip.Prefix {
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen())
}

func toIPNet(p netip.Prefix) *net.IPNet {
	p = p.Masked()
	return &net.IPNet{
		IP:   p.Addr().AsSlice(),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

// addrIPNet keeps the host part of an interface address.
func addrIPNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   p.Addr().AsSlice(),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

// resolveEndpoint returns the addresses of a host:port endpoint.
func resolveEndpoint(ctx context.Context, endpoint string) ([]netip.Addr, error) {
	host, _, err := vpn.SplitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve endpoint %s: %w", host, err)
	}
	return addrs, nil
}
