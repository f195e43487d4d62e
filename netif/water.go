package netif

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/songgao/water"
	"golang.zx2c4.com/wireguard/tun"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

// WaterDriver opens the TUN device through songgao/water. It is an
// alternative for kernels where the wireguard-go TUN setup misbehaves;
// packets are moved one at a time.
type WaterDriver struct {
	opts Options
}

// Create opens the device and configures it for cfg.
func (d *WaterDriver) Create(ctx context.Context, cfg *vpn.TunnelConfig) (vpn.Interface, error) {
	mtu := d.opts.mtu(cfg)
	ifce, err := openWater(d.opts.name())
	if err != nil {
		return nil, fmt.Errorf("%w: open tun %s: %v", common.ErrInterface, d.opts.name(), err)
	}

	name := ifce.Name()
	iface := newDevice(name, newWaterTUN(ifce, mtu))

	cleanup, err := configureLink(ctx, name, cfg, mtu, d.opts.ManageRoutes)
	iface.cleanup = cleanup
	if err != nil {
		iface.Close()
		return nil, fmt.Errorf("%w: configure %s: %v", common.ErrInterface, name, err)
	}

	common.LogInfo("TUN interface %s opened through water (mtu %d)", name, mtu)
	return iface, nil
}

// Destroy closes the device and removes the routes added for it.
func (d *WaterDriver) Destroy(iface vpn.Interface) error {
	return destroy(iface)
}

// waterTUN adapts a *water.Interface to the tun.Device the engine expects.
type waterTUN struct {
	ifce   *water.Interface
	mtu    int
	events chan tun.Event
	once   sync.Once
}

func newWaterTUN(ifce *water.Interface, mtu int) *waterTUN {
	w := &waterTUN{
		ifce:   ifce,
		mtu:    mtu,
		events: make(chan tun.Event, 1),
	}
	w.events <- tun.EventUp
	return w
}

func (w *waterTUN) File() *os.File { return nil }

func (w *waterTUN) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	n, err := w.ifce.Read(bufs[0][offset:])
	if err != nil {
		return 0, err
	}
	sizes[0] = n
	return 1, nil
}

func (w *waterTUN) Write(bufs [][]byte, offset int) (int, error) {
	for i, buf := range bufs {
		if _, err := w.ifce.Write(buf[offset:]); err != nil {
			return i, err
		}
	}
	return len(bufs), nil
}

func (w *waterTUN) MTU() (int, error) { return w.mtu, nil }

func (w *waterTUN) Name() (string, error) { return w.ifce.Name(), nil }

func (w *waterTUN) Events() <-chan tun.Event { return w.events }

func (w *waterTUN) BatchSize() int { return 1 }

func (w *waterTUN) Close() error {
	var err error
	w.once.Do(func() {
		err = w.ifce.Close()
		close(w.events)
	})
	return err
}
