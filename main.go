// Package main provides the entry point for WireGuard Manager, a local
// WireGuard tunnel session manager for Linux.
//
// The daemon owns the single tunnel session and exports it on D-Bus; the
// connect, disconnect, status, watch, dashboard and tray commands drive it
// from the same binary. "up" runs a session in the foreground without a
// daemon.
//
// Usage:
//
//	wg-manager daemon [--tray]
//	wg-manager up PROFILE|FILE
//	wg-manager profile import FILE
package main

import (
	"os"

	"github.com/yllada/wg-manager/cli"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	os.Exit(cli.Execute(cli.BuildInfo{
		Version: appVersion,
		Time:    buildTime,
		Commit:  commitSHA,
	}, os.Args[1:]))
}
