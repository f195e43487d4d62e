package vpn

import (
	"time"
)

// SessionState is the lifecycle state of the tunnel session slot.
type SessionState int

const (
	// StateIdle indicates no live session.
	StateIdle SessionState = iota
	// StateConnecting indicates the interface and engine are being brought up.
	StateConnecting
	// StateConnected indicates an established tunnel.
	StateConnected
	// StateDisconnecting indicates a requested teardown is in progress.
	StateDisconnecting
	// StateFailed indicates the session failed and its resources are being released.
	StateFailed
)

// String returns a human-readable representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsLive reports whether the state holds the session slot.
func (s SessionState) IsLive() bool {
	return s != StateIdle
}

// Valid reports whether s is one of the defined states.
func (s SessionState) Valid() bool {
	return s >= StateIdle && s <= StateFailed
}

// ParseSessionState is the inverse of SessionState.String.
func ParseSessionState(s string) (SessionState, bool) {
	for st := StateIdle; st <= StateFailed; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return StateIdle, false
}

// canTransition lists the edges of the session state machine.
func canTransition(from, to SessionState) bool {
	switch from {
	case StateIdle:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateFailed || to == StateDisconnecting
	case StateConnected:
		return to == StateDisconnecting || to == StateFailed
	case StateDisconnecting, StateFailed:
		return to == StateIdle
	}
	return false
}

// Snapshot is a point-in-time view of the session slot.
type Snapshot struct {
	State     SessionState
	SessionID string
	Name      string
	Endpoint  string
	Interface string
	StartedAt time.Time
	// ConnectedAt is zero until the session reaches StateConnected.
	ConnectedAt time.Time
	// LastError is the failure reason of the most recent session, kept
	// after the slot returns to Idle so front ends can display it.
	LastError error
}

// Uptime returns how long the session has been connected.
func (s Snapshot) Uptime() time.Duration {
	if s.State != StateConnected || s.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(s.ConnectedAt)
}
