// Package ui provides the desktop and terminal front ends of WireGuard Manager.
//
// Both front ends drive a dbusapi.Frontend, so they work the same against the
// in-process controller (daemon --tray) and a daemon reached over D-Bus:
//
//   - TrayIndicator: system tray icon (fyne.io/systray) with the session
//     state, uptime, traffic, quick connect, per-profile toggles and
//     disconnect
//   - Dashboard: bubbletea terminal view with the session details, traffic
//     rates and the profile list
//
// Neither keeps session state of its own. They poll Status once a second
// and render what they get; menu and key actions are plain Connect and
// Disconnect calls, with errors reported by the session manager.
//
// # File Organization
//
//   - tray.go: system tray indicator
//   - dashboard.go: terminal dashboard
//   - icons.go: tray icon generation, one icon per session state
package ui
