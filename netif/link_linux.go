//go:build linux

package netif

import (
	"context"
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

// configureLink sets MTU and addresses on the link, brings it up and, when
// asked to, installs routes for the allowed IPs. The returned cleanup
// functions undo what outlives the link itself.
func configureLink(ctx context.Context, name string, cfg *vpn.TunnelConfig, mtu int, manageRoutes bool) ([]func() error, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return nil, fmt.Errorf("failed to set MTU: %w", err)
	}
	for _, p := range cfg.Addresses {
		if err := netlink.AddrAdd(link, &netlink.Addr{IPNet: addrIPNet(p)}); err != nil {
			return nil, fmt.Errorf("failed to add address %s: %w", p, err)
		}
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return nil, fmt.Errorf("failed to set link up: %w", err)
	}

	if !manageRoutes {
		common.LogDebug("Route management disabled; %s carries no routes", name)
		return nil, nil
	}

	var cleanup []func() error
	if CoversAll(cfg.AllowedIPs) {
		undo, err := addEndpointBypass(ctx, cfg.Endpoint)
		if err != nil {
			return cleanup, err
		}
		cleanup = append(cleanup, undo...)
	}

	index := link.Attrs().Index
	for _, p := range TunnelRoutes(cfg.AllowedIPs) {
		route := &netlink.Route{
			LinkIndex: index,
			Dst:       toIPNet(p),
			Scope:     netlink.SCOPE_LINK,
		}
		if err := netlink.RouteReplace(route); err != nil {
			return cleanup, fmt.Errorf("failed to add route %s: %w", p, err)
		}
		common.LogDebug("Route %s -> %s added", p, name)
	}
	return cleanup, nil
}

// addEndpointBypass pins the peer endpoint to the route it uses today, so
// the tunnel's own packets do not loop back into the tunnel.
func addEndpointBypass(ctx context.Context, endpoint string) ([]func() error, error) {
	addrs, err := resolveEndpoint(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var cleanup []func() error
	for _, addr := range addrs {
		addr = addr.Unmap()
		current, err := netlink.RouteGet(addr.AsSlice())
		if err != nil || len(current) == 0 {
			common.LogWarn("No route to endpoint %s; skipping bypass route", addr)
			continue
		}

		bypass := &netlink.Route{
			Dst:       toIPNet(HostPrefix(addr)),
			Gw:        current[0].Gw,
			LinkIndex: current[0].LinkIndex,
		}
		if err := netlink.RouteReplace(bypass); err != nil {
			return cleanup, fmt.Errorf("failed to add bypass route for %s: %w", addr, err)
		}
		common.LogDebug("Bypass route for endpoint %s via %v added", addr, current[0].Gw)
		cleanup = append(cleanup, func() error {
			return netlink.RouteDel(bypass)
		})
	}
	return cleanup, nil
}
