// Package vpn provides tunnel session management for WireGuard Manager.
//
// This package implements the core of the application:
//
//   - Session management: one tunnel session at a time, driven through a
//     fixed state machine
//   - Health supervision: polling the engine while connected and failing
//     the session when the peer stays unreachable
//   - Profiles: importing wg-quick files and keeping private keys in the
//     credential store
//   - Configuration parsing: reading and writing wg-quick files
//
// # Architecture
//
// The package is organized around these types:
//
//   - Manager: owns the session slot and the state machine
//   - TunnelEngine and InterfaceDriver: the boundaries to the WireGuard
//     implementation and the OS network interface
//   - Bus: delivers SessionEvents to front ends in order
//   - ProfileManager: persistence of tunnel profiles
//   - Controller: connects profiles through a Manager
//
// # Session Lifecycle
//
//	Idle -> Connecting -> Connected -> Disconnecting -> Idle
//	             |             |
//	             +--> Failed <-+-> Idle
//
// Every transition emits exactly one SessionEvent. Returning to Idle emits
// Disconnected, also after a failure. A Connect while any session is live
// fails with ErrAlreadyActive. A Disconnect issued during Connecting waits
// for the connect attempt to resolve and then tears the session down.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The Manager holds
// its lock only for state changes, never across engine or driver calls.
package vpn
