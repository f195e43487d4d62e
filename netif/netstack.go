package netif

import (
	"context"
	"fmt"
	"net/netip"

	"golang.zx2c4.com/wireguard/tun/netstack"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

// NetstackDriver creates a gVisor userspace network stack instead of a
// kernel interface. It needs no privileges; traffic reaches the tunnel only
// through Device.Net.
type NetstackDriver struct {
	opts Options
}

// Create builds the userspace stack for cfg.
func (d *NetstackDriver) Create(ctx context.Context, cfg *vpn.TunnelConfig) (vpn.Interface, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("%w: netstack needs at least one interface address", common.ErrInterface)
	}
	addrs := make([]netip.Addr, len(cfg.Addresses))
	for i, p := range cfg.Addresses {
		addrs[i] = p.Addr()
	}

	mtu := d.opts.mtu(cfg)
	dev, tnet, err := netstack.CreateNetTUN(addrs, cfg.DNS, mtu)
	if err != nil {
		return nil, fmt.Errorf("%w: create netstack: %v", common.ErrInterface, err)
	}

	iface := newDevice(d.opts.name(), dev)
	iface.net = tnet
	common.LogInfo("Netstack interface %s created (mtu %d)", iface.name, mtu)
	return iface, nil
}

// Destroy shuts the stack down.
func (d *NetstackDriver) Destroy(iface vpn.Interface) error {
	return destroy(iface)
}
