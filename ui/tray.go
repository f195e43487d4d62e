package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/dbusapi"
	"github.com/yllada/wg-manager/vpn"
)

// TrayIndicator manages the system tray icon and menu. It is a front end
// like any other: every menu action goes through the Frontend.
type TrayIndicator struct {
	ctx      context.Context
	frontend dbusapi.Frontend
	onQuit   func()

	statusItem       *systray.MenuItem
	connectionInfo   *systray.MenuItem
	uptimeItem       *systray.MenuItem
	trafficItem      *systray.MenuItem
	errorItem        *systray.MenuItem
	disconnectItem   *systray.MenuItem
	quickConnectItem *systray.MenuItem

	mu           sync.Mutex
	connectItems map[string]*systray.MenuItem
	profiles     []dbusapi.ProfileInfo
	status       dbusapi.Status
	busy         bool
}

// NewTrayIndicator creates a tray driving f. onQuit is called when the
// user picks Quit.
func NewTrayIndicator(ctx context.Context, f dbusapi.Frontend, onQuit func()) *TrayIndicator {
	return &TrayIndicator{
		ctx:          ctx,
		frontend:     f,
		onQuit:       onQuit,
		connectItems: make(map[string]*systray.MenuItem),
	}
}

// Run starts the system tray indicator and blocks until Quit.
func (t *TrayIndicator) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *TrayIndicator) Quit() {
	systray.Quit()
}

func (t *TrayIndicator) onReady() {
	systray.SetIcon(IconFor(vpn.StateIdle))
	systray.SetTitle(common.AppName)
	systray.SetTooltip(common.AppName + " - Disconnected")

	t.statusItem = systray.AddMenuItem("○  Not Connected", "Current tunnel status")
	t.statusItem.Disable()

	t.connectionInfo = systray.AddMenuItem("", "Connection details")
	t.connectionInfo.Disable()
	t.connectionInfo.Hide()

	t.uptimeItem = systray.AddMenuItem("", "Connection duration")
	t.uptimeItem.Disable()
	t.uptimeItem.Hide()

	t.trafficItem = systray.AddMenuItem("", "Traffic")
	t.trafficItem.Disable()
	t.trafficItem.Hide()

	t.errorItem = systray.AddMenuItem("", "Last error")
	t.errorItem.Disable()
	t.errorItem.Hide()

	systray.AddSeparator()

	t.quickConnectItem = systray.AddMenuItem("Quick Connect", "Connect to last used profile")
	t.quickConnectItem.Hide()
	go func() {
		for range t.quickConnectItem.ClickedCh {
			t.quickConnect()
		}
	}()

	t.disconnectItem = systray.AddMenuItem("⏹  Disconnect", "Disconnect the tunnel")
	t.disconnectItem.Hide()
	go func() {
		for range t.disconnectItem.ClickedCh {
			t.disconnect()
		}
	}()

	systray.AddSeparator()

	profilesHeader := systray.AddMenuItem("── Profiles ──", "")
	profilesHeader.Disable()
	t.refreshProfiles()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Close the tray")
	go func() {
		for range quitItem.ClickedCh {
			if t.onQuit != nil {
				t.onQuit()
			}
			systray.Quit()
		}
	}()

	go t.monitor()
}

func (t *TrayIndicator) onExit() {
	common.LogInfo("Tray indicator cleanup completed")
}

// monitor polls the session status and redraws the menu.
func (t *TrayIndicator) monitor() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	t.refresh()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

func (t *TrayIndicator) refresh() {
	ctx, cancel := context.WithTimeout(t.ctx, 2*time.Second)
	defer cancel()

	st, err := t.frontend.Status(ctx)
	if err != nil {
		common.LogDebug("Tray: status unavailable: %v", err)
		st = dbusapi.Status{State: vpn.StateIdle.String(), LastError: err.Error()}
	}

	t.mu.Lock()
	t.status = st
	t.mu.Unlock()

	t.apply(trayViewOf(st, time.Now()))
	t.refreshProfiles()
}

// refreshProfiles adds menu items for new profiles. systray cannot remove
// items, so removed profiles are hidden.
func (t *TrayIndicator) refreshProfiles() {
	ctx, cancel := context.WithTimeout(t.ctx, 2*time.Second)
	defer cancel()

	profiles, err := t.frontend.Profiles(ctx)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.profiles = profiles

	seen := make(map[string]bool, len(profiles))
	for _, profile := range profiles {
		seen[profile.ID] = true
		if item, exists := t.connectItems[profile.ID]; exists {
			item.Show()
			continue
		}

		item := systray.AddMenuItem(profile.Name, fmt.Sprintf("Connect to %s", profile.Name))
		t.connectItems[profile.ID] = item
		go func(name string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				t.toggleConnection(name)
			}
		}(profile.Name, item)
	}
	for id, item := range t.connectItems {
		if !seen[id] {
			item.Hide()
		}
	}

	if p, ok := lastUsedProfile(profiles); ok && !t.status.SessionState().IsLive() {
		t.quickConnectItem.SetTitle(fmt.Sprintf("Quick Connect: %s", p.Name))
		t.quickConnectItem.Show()
	} else {
		t.quickConnectItem.Hide()
	}
}

// toggleConnection disconnects the profile if it is the live session and
// connects it otherwise.
func (t *TrayIndicator) toggleConnection(name string) {
	t.mu.Lock()
	st := t.status
	t.mu.Unlock()

	if st.SessionState().IsLive() && st.Name == name {
		t.disconnect()
		return
	}
	t.connect(name)
}

func (t *TrayIndicator) quickConnect() {
	t.mu.Lock()
	p, ok := lastUsedProfile(t.profiles)
	t.mu.Unlock()
	if ok {
		t.connect(p.Name)
	}
}

func (t *TrayIndicator) connect(name string) {
	if !t.begin() {
		return
	}
	defer t.end()

	t.apply(trayViewOf(dbusapi.Status{State: vpn.StateConnecting.String(), Name: name}, time.Now()))
	if err := t.frontend.Connect(t.ctx, name); err != nil {
		common.LogWarn("Tray: connect %s: %v", name, err)
	}
	t.refresh()
}

func (t *TrayIndicator) disconnect() {
	if !t.begin() {
		return
	}
	defer t.end()

	if err := t.frontend.Disconnect(t.ctx); err != nil {
		common.LogWarn("Tray: disconnect: %v", err)
	}
	t.refresh()
}

// begin marks an action in flight. Clicks during an action are dropped.
func (t *TrayIndicator) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy {
		return false
	}
	t.busy = true
	return true
}

func (t *TrayIndicator) end() {
	t.mu.Lock()
	t.busy = false
	t.mu.Unlock()
}

func (t *TrayIndicator) apply(v trayView) {
	systray.SetIcon(IconFor(v.state))
	systray.SetTooltip(v.tooltip)
	t.statusItem.SetTitle(v.status)

	setItem(t.connectionInfo, v.info)
	setItem(t.uptimeItem, v.uptime)
	setItem(t.trafficItem, v.traffic)
	setItem(t.errorItem, v.lastError)

	if v.canDisconnect {
		t.disconnectItem.Show()
	} else {
		t.disconnectItem.Hide()
	}
}

func setItem(item *systray.MenuItem, title string) {
	if title == "" {
		item.Hide()
		return
	}
	item.SetTitle(title)
	item.Show()
}

// trayView is the rendered content of the tray for one status.
type trayView struct {
	state         vpn.SessionState
	tooltip       string
	status        string
	info          string
	uptime        string
	traffic       string
	lastError     string
	canDisconnect bool
}

func trayViewOf(st dbusapi.Status, now time.Time) trayView {
	state := st.SessionState()
	v := trayView{state: state}

	switch state {
	case vpn.StateConnected:
		v.tooltip = fmt.Sprintf("%s - Connected to %s", common.AppName, st.Name)
		v.status = fmt.Sprintf("●  Connected: %s", st.Name)
		v.info = fmt.Sprintf("    %s via %s", st.Interface, st.Endpoint)
		v.uptime = "    ⏱ Uptime: " + formatClock(st.Uptime(now))
		v.traffic = fmt.Sprintf("    ↓ %s  ↑ %s", common.FormatBytes(st.RxBytes), common.FormatBytes(st.TxBytes))
		v.canDisconnect = true
	case vpn.StateConnecting:
		v.tooltip = fmt.Sprintf("%s - Connecting to %s...", common.AppName, st.Name)
		v.status = fmt.Sprintf("⟳ Connecting: %s...", st.Name)
		v.canDisconnect = true
	case vpn.StateDisconnecting:
		v.tooltip = common.AppName + " - Disconnecting..."
		v.status = "⟳ Disconnecting..."
	case vpn.StateFailed:
		v.tooltip = fmt.Sprintf("%s - %s failed", common.AppName, st.Name)
		v.status = fmt.Sprintf("✕  Failed: %s", st.Name)
	default:
		v.tooltip = common.AppName + " - Disconnected"
		v.status = "○  Not Connected"
	}
	if st.LastError != "" && state != vpn.StateConnected {
		v.lastError = "    " + st.LastError
	}
	return v
}

// lastUsedProfile returns the most recently used profile, or the first
// one when none was used yet.
func lastUsedProfile(profiles []dbusapi.ProfileInfo) (dbusapi.ProfileInfo, bool) {
	if len(profiles) == 0 {
		return dbusapi.ProfileInfo{}, false
	}
	last := profiles[0]
	for _, p := range profiles[1:] {
		if p.LastUsed > last.LastUsed {
			last = p
		}
	}
	return last, true
}

// formatClock formats d as HH:MM:SS.
func formatClock(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
