// Package common provides shared constants, types, utilities, and interfaces
// used throughout the WireGuard Manager application.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide timeouts, protocol timers, file names and defaults
//   - Errors: Sentinel errors for the tunnel session error kinds
//   - Interfaces: Abstractions for credential storage, notifications and logging
//   - Logger: Levelled logging with file output and rotation
//   - Utils: IDs, directories and display formatting
//
// # Usage
//
//	import "github.com/yllada/wg-manager/common"
//
//	common.LogInfo("Connecting to %s", endpoint)
//
//	if errors.Is(err, common.ErrAlreadyActive) {
//	    // A session is live; disconnect first
//	}
//
// Use Kind to collapse any wrapped failure into its session error kind.
package common
