package vpn

import (
	"context"
	"time"
)

// Interface is a network interface created by an InterfaceDriver.
type Interface interface {
	// Name returns the OS name of the interface.
	Name() string
}

// InterfaceDriver creates and destroys the tunnel interface.
type InterfaceDriver interface {
	// Create allocates a tunnel interface for cfg.
	Create(ctx context.Context, cfg *TunnelConfig) (Interface, error)
	// Destroy releases the interface. Destroying an already destroyed
	// interface returns nil.
	Destroy(iface Interface) error
}

// Handle identifies a tunnel started by a TunnelEngine. Its concrete type
// belongs to the engine.
type Handle any

// EngineStatus is the reachability of a running tunnel as seen by the engine.
type EngineStatus int

const (
	EngineDown EngineStatus = iota
	EngineUp
	EngineDegraded
)

// String returns the status name.
func (s EngineStatus) String() string {
	switch s {
	case EngineUp:
		return "Up"
	case EngineDegraded:
		return "Degraded"
	default:
		return "Down"
	}
}

// TunnelEngine drives the WireGuard protocol on top of an interface.
type TunnelEngine interface {
	// Start brings the tunnel up on iface and returns once the first
	// handshake completed or ctx is done.
	Start(ctx context.Context, cfg *TunnelConfig, iface Interface) (Handle, error)
	// Stop tears the tunnel down.
	Stop(h Handle) error
	// Status reports the reachability of the peer.
	Status(h Handle) (EngineStatus, error)
}

// TunnelStats are the traffic counters of a running tunnel.
type TunnelStats struct {
	RxBytes       uint64
	TxBytes       uint64
	LastHandshake time.Time
}

// StatsProvider is implemented by engines that expose traffic counters.
type StatsProvider interface {
	Stats(h Handle) (TunnelStats, error)
}

// TrafficGuard blocks traffic that would leave outside a full tunnel. The
// Controller engages it after every successful connect and releases it only
// on an explicit disconnect, so the block outlives a failed session.
type TrafficGuard interface {
	Engage(ctx context.Context, cfg *TunnelConfig) error
	Release() error
}
