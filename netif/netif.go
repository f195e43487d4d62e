// Package netif provides the vpn.InterfaceDriver implementations: a kernel
// TUN device, a TUN device opened through songgao/water, and an
// unprivileged gVisor netstack.
package netif

import (
	"fmt"
	"sync"

	"golang.zx2c4.com/wireguard/tun"
	"golang.zx2c4.com/wireguard/tun/netstack"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

// Options configure a driver.
type Options struct {
	// Name is the requested interface name. The OS may pick another one.
	Name string
	// MTU is used when the tunnel config does not set one.
	MTU int
	// ManageRoutes installs routes for the peer's allowed IPs.
	ManageRoutes bool
}

func (o Options) mtu(cfg *vpn.TunnelConfig) int {
	switch {
	case cfg.MTU > 0:
		return cfg.MTU
	case o.MTU > 0:
		return o.MTU
	default:
		return common.DefaultMTU
	}
}

func (o Options) name() string {
	if o.Name == "" {
		return common.DefaultInterfaceName
	}
	return o.Name
}

// NewDriver returns the driver registered under kind.
func NewDriver(kind string, opts Options) (vpn.InterfaceDriver, error) {
	if err := ValidateName(opts.name()); err != nil {
		return nil, err
	}
	switch kind {
	case common.DriverTUN, "":
		return &TUNDriver{opts: opts}, nil
	case common.DriverWater:
		return &WaterDriver{opts: opts}, nil
	case common.DriverNetstack:
		return &NetstackDriver{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown interface driver %q", kind)
	}
}

// Device is the interface handed out by every driver.
type Device struct {
	name    string
	tun     *closeOnceTUN
	net     *netstack.Net
	cleanup []func() error

	once sync.Once
	err  error
}

func newDevice(name string, dev tun.Device) *Device {
	return &Device{name: name, tun: &closeOnceTUN{Device: dev}}
}

// Name returns the OS name of the interface.
func (d *Device) Name() string { return d.name }

// TUN returns the packet device the engine reads from and writes to.
func (d *Device) TUN() tun.Device { return d.tun }

// Net returns the userspace network stack of a netstack device, or nil.
func (d *Device) Net() *netstack.Net { return d.net }

// Close undoes the OS configuration and closes the packet device. It is
// safe to call more than once.
func (d *Device) Close() error {
	d.once.Do(func() {
		for i := len(d.cleanup) - 1; i >= 0; i-- {
			if err := d.cleanup[i](); err != nil {
				common.LogWarn("Interface %s cleanup: %v", d.name, err)
				if d.err == nil {
					d.err = err
				}
			}
		}
		if err := d.tun.Close(); err != nil && d.err == nil {
			d.err = err
		}
	})
	return d.err
}

func destroy(iface vpn.Interface) error {
	d, ok := iface.(*Device)
	if !ok {
		return fmt.Errorf("%w: foreign interface %T", common.ErrInterface, iface)
	}
	if err := d.Close(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInterface, err)
	}
	common.LogDebug("Interface %s destroyed", d.name)
	return nil
}

// closeOnceTUN lets both the engine and the driver close the device.
type closeOnceTUN struct {
	tun.Device
	once sync.Once
	err  error
}

func (c *closeOnceTUN) Close() error {
	c.once.Do(func() { c.err = c.Device.Close() })
	return c.err
}
