//go:build linux

package netif

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/yllada/wg-manager/common"
)

// The kill switch is two policy rules ahead of the main table:
//
//	30000: lookup main suppress_prefixlength 0
//	30001: lookup 30572
//
// The first keeps every main-table route except the default route, so the
// tunnel's half routes and the LAN still work. Whatever would have taken
// the default route falls through to table 30572, which holds the pinned
// peer endpoints and an unreachable default route.
const (
	killSwitchPriority = 30000
	killSwitchTable    = 30572
)

var killSwitchFamilies = []int{netlink.FAMILY_V4, netlink.FAMILY_V6}

type netlinkFirewall struct{}

func newFirewall() firewall {
	return netlinkFirewall{}
}

func (f netlinkFirewall) block(endpoints []netip.Addr) (err error) {
	// Clear rules a crashed run may have left, or RuleAdd fails with EEXIST.
	if err := f.unblock(); err != nil {
		common.LogWarn("Kill switch: stale rules not removed: %v", err)
	}
	defer func() {
		if err != nil {
			if uerr := f.unblock(); uerr != nil {
				common.LogWarn("Kill switch: rollback failed: %v", uerr)
			}
		}
	}()

	// Pin the endpoints before the rules go in; RouteGet has to see the
	// default route.
	for _, addr := range endpoints {
		addr = addr.Unmap()
		current, err := netlink.RouteGet(addr.AsSlice())
		if err != nil || len(current) == 0 {
			common.LogWarn("Kill switch: no route to endpoint %s", addr)
			continue
		}
		pin := &netlink.Route{
			Dst:       toIPNet(HostPrefix(addr)),
			Gw:        current[0].Gw,
			LinkIndex: current[0].LinkIndex,
			Table:     killSwitchTable,
		}
		if err := netlink.RouteReplace(pin); err != nil {
			return fmt.Errorf("failed to pin endpoint %s: %w", addr, err)
		}
	}

	for _, family := range killSwitchFamilies {
		if err := blockFamily(family); err != nil {
			if family == netlink.FAMILY_V6 {
				common.LogWarn("Kill switch: IPv6 traffic not blocked: %v", err)
				continue
			}
			return err
		}
	}
	return nil
}

func blockFamily(family int) error {
	dst := &net.IPNet{IP: net.IPv4zero.To4(), Mask: net.CIDRMask(0, 32)}
	if family == netlink.FAMILY_V6 {
		dst = &net.IPNet{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)}
	}
	unreachable := &netlink.Route{
		Family: family,
		Dst:    dst,
		Table:  killSwitchTable,
		Type:   unix.RTN_UNREACHABLE,
	}
	if err := netlink.RouteReplace(unreachable); err != nil {
		return fmt.Errorf("failed to add unreachable route: %w", err)
	}

	mainRule := netlink.NewRule()
	mainRule.Family = family
	mainRule.Priority = killSwitchPriority
	mainRule.Table = unix.RT_TABLE_MAIN
	mainRule.SuppressPrefixlen = 0
	if err := netlink.RuleAdd(mainRule); err != nil {
		return fmt.Errorf("failed to add main table rule: %w", err)
	}

	block := netlink.NewRule()
	block.Family = family
	block.Priority = killSwitchPriority + 1
	block.Table = killSwitchTable
	if err := netlink.RuleAdd(block); err != nil {
		return fmt.Errorf("failed to add blocking rule: %w", err)
	}
	return nil
}

func (netlinkFirewall) unblock() error {
	var errs []error
	for _, family := range killSwitchFamilies {
		rules, err := netlink.RuleList(family)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list rules: %w", err))
			continue
		}
		for i := range rules {
			r := &rules[i]
			ours := (r.Priority == killSwitchPriority && r.Table == unix.RT_TABLE_MAIN) ||
				(r.Priority == killSwitchPriority+1 && r.Table == killSwitchTable)
			if !ours {
				continue
			}
			if err := netlink.RuleDel(r); err != nil && !errors.Is(err, unix.ENOENT) {
				errs = append(errs, fmt.Errorf("failed to delete rule %d: %w", r.Priority, err))
			}
		}

		routes, err := netlink.RouteListFiltered(family, &netlink.Route{Table: killSwitchTable}, netlink.RT_FILTER_TABLE)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list routes: %w", err))
			continue
		}
		for i := range routes {
			if err := netlink.RouteDel(&routes[i]); err != nil && !errors.Is(err, unix.ESRCH) {
				errs = append(errs, fmt.Errorf("failed to delete route %v: %w", routes[i].Dst, err))
			}
		}
	}
	return errors.Join(errs...)
}
