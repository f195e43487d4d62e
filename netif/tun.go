package netif

import (
	"context"
	"fmt"

	"golang.zx2c4.com/wireguard/tun"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

// TUNDriver creates kernel TUN devices through wireguard-go and configures
// addresses and routes on them.
type TUNDriver struct {
	opts Options
}

// Create opens the TUN device and configures it for cfg.
func (d *TUNDriver) Create(ctx context.Context, cfg *vpn.TunnelConfig) (vpn.Interface, error) {
	mtu := d.opts.mtu(cfg)
	dev, err := tun.CreateTUN(d.opts.name(), mtu)
	if err != nil {
		return nil, fmt.Errorf("%w: create tun %s: %v", common.ErrInterface, d.opts.name(), err)
	}

	name, err := dev.Name()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: tun name: %v", common.ErrInterface, err)
	}
	iface := newDevice(name, dev)

	cleanup, err := configureLink(ctx, name, cfg, mtu, d.opts.ManageRoutes)
	iface.cleanup = cleanup
	if err != nil {
		iface.Close()
		return nil, fmt.Errorf("%w: configure %s: %v", common.ErrInterface, name, err)
	}

	common.LogInfo("TUN interface %s created (mtu %d)", name, mtu)
	return iface, nil
}

// Destroy closes the device and removes the routes added for it.
func (d *TUNDriver) Destroy(iface vpn.Interface) error {
	return destroy(iface)
}
