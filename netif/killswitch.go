package netif

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

// firewall installs and removes the kill switch rules.
type firewall interface {
	// block drops all traffic that the main table would send outside the
	// tunnel, except to the given peer endpoints.
	block(endpoints []netip.Addr) error
	// unblock removes everything block installed. It succeeds when nothing
	// is installed.
	unblock() error
}

// KillSwitch keeps traffic from leaving outside a full-tunnel session. Once
// engaged it stays engaged when the session fails, until Release.
//
// Endpoint host names are resolved when the switch engages; a reconnect to
// a different address of the same host is blocked until Release.
type KillSwitch struct {
	mu       sync.Mutex
	fw       firewall
	resolve  func(ctx context.Context, endpoint string) ([]netip.Addr, error)
	engaged  bool
	endpoint string
}

var _ vpn.TrafficGuard = (*KillSwitch)(nil)

// NewKillSwitch creates a kill switch for this platform.
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{fw: newFirewall(), resolve: resolveEndpoint}
}

// Engage blocks non-tunnel traffic when cfg routes all traffic through the
// tunnel. A split-tunnel cfg releases a switch held by a previous session.
func (k *KillSwitch) Engage(ctx context.Context, cfg *vpn.TunnelConfig) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !CoversAll(cfg.AllowedIPs) {
		if k.engaged {
			common.LogInfo("Kill switch released: %s does not route all traffic", cfg.Name)
			return k.unblockLocked()
		}
		return nil
	}
	if k.engaged && k.endpoint == cfg.Endpoint {
		return nil
	}

	addrs, err := k.resolve(ctx, cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: kill switch: %v", common.ErrInterface, err)
	}
	if k.engaged {
		if err := k.unblockLocked(); err != nil {
			return err
		}
	}
	if err := k.fw.block(addrs); err != nil {
		return fmt.Errorf("%w: kill switch: %v", common.ErrInterface, err)
	}
	k.engaged, k.endpoint = true, cfg.Endpoint
	common.LogInfo("Kill switch engaged for %s (endpoint %s)", cfg.Name, cfg.Endpoint)
	return nil
}

// Release lifts the block. It is a no-op when the switch is not engaged.
func (k *KillSwitch) Release() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.engaged {
		return nil
	}
	if err := k.unblockLocked(); err != nil {
		return err
	}
	common.LogInfo("Kill switch released")
	return nil
}

// Reset removes rules left behind by a previous run.
func (k *KillSwitch) Reset() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.unblockLocked()
}

// Engaged reports whether traffic is currently blocked.
func (k *KillSwitch) Engaged() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.engaged
}

func (k *KillSwitch) unblockLocked() error {
	if err := k.fw.unblock(); err != nil {
		return fmt.Errorf("%w: kill switch: %v", common.ErrInterface, err)
	}
	k.engaged, k.endpoint = false, ""
	return nil
}
