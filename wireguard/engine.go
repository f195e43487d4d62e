// Package wireguard implements vpn.TunnelEngine on top of the userspace
// wireguard-go device.
package wireguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

// rekeyGrace is how long past RekeyAfterTime a handshake may be before the
// tunnel is reported Degraded. Keepalives trigger the rekey, so a healthy
// peer refreshes well within it.
const rekeyGrace = 30 * time.Second

// TUNInterface is an interface whose packets flow through a wireguard-go
// tun.Device. Every netif driver returns one.
type TUNInterface interface {
	vpn.Interface
	TUN() tun.Device
}

// Engine starts wireguard-go devices.
type Engine struct {
	resolver     *net.Resolver
	newBind      func() conn.Bind
	pollInterval time.Duration
	now          func() time.Time
	log          common.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver sets the resolver used for endpoint host names.
func WithResolver(r *net.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithBind sets the factory for the UDP bind of each device.
func WithBind(newBind func() conn.Bind) Option {
	return func(e *Engine) { e.newBind = newBind }
}

// WithPollInterval sets how often Start checks for the first handshake.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithLogger sets the logger that receives wireguard-go device messages.
func WithLogger(l common.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		resolver:     net.DefaultResolver,
		newBind:      conn.NewDefaultBind,
		pollInterval: 100 * time.Millisecond,
		now:          time.Now,
		log:          common.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type tunnel struct {
	name    string
	peer    string
	dev     *device.Device
	once    sync.Once
	stopped chan struct{}
}

func (t *tunnel) close() {
	t.once.Do(func() {
		t.dev.Close()
		close(t.stopped)
	})
}

func (t *tunnel) info() (PeerInfo, error) {
	select {
	case <-t.stopped:
		return PeerInfo{}, errors.New("tunnel is stopped")
	default:
	}

	raw, err := t.dev.IpcGet()
	if err != nil {
		return PeerInfo{}, fmt.Errorf("uapi get: %w", err)
	}
	info, err := ParseUAPI(raw)
	if err != nil {
		return PeerInfo{}, fmt.Errorf("uapi get: %w", err)
	}
	p, ok := info.Peer(t.peer)
	if !ok {
		return PeerInfo{}, errors.New("peer missing from device")
	}
	return p, nil
}

// Start configures a device on iface and waits for the first handshake.
func (e *Engine) Start(ctx context.Context, cfg *vpn.TunnelConfig, iface vpn.Interface) (vpn.Handle, error) {
	ti, ok := iface.(TUNInterface)
	if !ok {
		return nil, fmt.Errorf("%w: interface %s has no tun device", common.ErrInterface, iface.Name())
	}

	endpoint, err := e.resolveEndpoint(ctx, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	keepalive := cfg.PersistentKeepalive
	if keepalive == 0 {
		keepalive = common.DefaultPersistentKeepalive * time.Second
		common.LogDebug("No keepalive configured for %s; using %v for supervision", cfg.Name, keepalive)
	}

	dev := device.NewDevice(ti.TUN(), e.newBind(), newLogger(e.log, iface.Name()))
	t := &tunnel{
		name:    iface.Name(),
		peer:    cfg.PeerPublicKey.Hex(),
		dev:     dev,
		stopped: make(chan struct{}),
	}

	if err := dev.IpcSet(BuildUAPI(cfg, endpoint, keepalive)); err != nil {
		t.close()
		return nil, fmt.Errorf("%w: configure device: %v", common.ErrEngine, err)
	}
	if err := dev.Up(); err != nil {
		t.close()
		return nil, fmt.Errorf("%w: bring device up: %v", common.ErrEngine, err)
	}
	common.LogInfo("WireGuard device on %s up, waiting for handshake with %s", t.name, endpoint)

	if err := e.waitHandshake(ctx, t); err != nil {
		t.close()
		return nil, err
	}
	return t, nil
}

func (e *Engine) waitHandshake(ctx context.Context, t *tunnel) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		p, err := t.info()
		if err == nil && !p.LastHandshake.IsZero() {
			common.LogInfo("Handshake with %s completed", p.Endpoint)
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: no reply from peer", common.ErrHandshakeTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop closes the device. The tun device closes with it.
func (e *Engine) Stop(h vpn.Handle) error {
	t, ok := h.(*tunnel)
	if !ok {
		return fmt.Errorf("%w: foreign handle %T", common.ErrEngine, h)
	}
	t.close()
	common.LogDebug("WireGuard device on %s closed", t.name)
	return nil
}

// Status grades the age of the latest handshake.
func (e *Engine) Status(h vpn.Handle) (vpn.EngineStatus, error) {
	t, ok := h.(*tunnel)
	if !ok {
		return vpn.EngineDown, fmt.Errorf("%w: foreign handle %T", common.ErrEngine, h)
	}
	p, err := t.info()
	if err != nil {
		return vpn.EngineDown, err
	}
	return Grade(p.LastHandshake, e.now()), nil
}

// Stats returns the traffic counters of the peer.
func (e *Engine) Stats(h vpn.Handle) (vpn.TunnelStats, error) {
	t, ok := h.(*tunnel)
	if !ok {
		return vpn.TunnelStats{}, fmt.Errorf("%w: foreign handle %T", common.ErrEngine, h)
	}
	p, err := t.info()
	if err != nil {
		return vpn.TunnelStats{}, err
	}
	return vpn.TunnelStats{
		RxBytes:       p.RxBytes,
		TxBytes:       p.TxBytes,
		LastHandshake: p.LastHandshake,
	}, nil
}

// Grade maps the time of the latest handshake to an engine status.
func Grade(lastHandshake, now time.Time) vpn.EngineStatus {
	if lastHandshake.IsZero() {
		return vpn.EngineDown
	}
	age := now.Sub(lastHandshake)
	switch {
	case age > common.RejectAfterTime:
		return vpn.EngineDown
	case age > common.RekeyAfterTime+rekeyGrace:
		return vpn.EngineDegraded
	default:
		return vpn.EngineUp
	}
}

func (e *Engine) resolveEndpoint(ctx context.Context, endpoint string) (netip.AddrPort, error) {
	host, port, err := vpn.SplitEndpoint(endpoint)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), port), nil
	}

	addrs, err := e.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: resolve %s: %v", common.ErrEngine, host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: %s has no addresses", common.ErrEngine, host)
	}
	chosen := addrs[0]
	for _, a := range addrs {
		if a.Unmap().Is4() {
			chosen = a
			break
		}
	}
	return netip.AddrPortFrom(chosen.Unmap(), port), nil
}

func newLogger(l common.Logger, name string) *device.Logger {
	prefix := fmt.Sprintf("wireguard(%s): ", name)
	return &device.Logger{
		Verbosef: func(format string, args ...any) {
			l.Debug(prefix+format, args...)
		},
		Errorf: func(format string, args ...any) {
			l.Error(prefix+format, args...)
		},
	}
}
