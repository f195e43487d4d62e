package vpn

import (
	"context"
	"errors"
	"sync"

	"github.com/yllada/wg-manager/common"
)

// Controller connects stored profiles through a session Manager. It is the
// entry point used by the D-Bus service, the tray and the CLI.
type Controller struct {
	Sessions *Manager
	Profiles *ProfileManager
	// Guard, when set, is the kill switch for full-tunnel sessions.
	Guard TrafficGuard

	mu           sync.Mutex
	onDisconnect []func()
}

// NewController creates a Controller.
func NewController(sessions *Manager, profiles *ProfileManager) *Controller {
	return &Controller{Sessions: sessions, Profiles: profiles}
}

// ConnectProfile connects the profile named (or identified by) ref.
func (c *Controller) ConnectProfile(ctx context.Context, ref string) error {
	profile, err := c.Profiles.Resolve(ref)
	if errors.Is(err, ErrProfileNotFound) {
		// The CLI edits the profile index directly; pick up new profiles.
		if lerr := c.Profiles.Load(); lerr == nil {
			profile, err = c.Profiles.Resolve(ref)
		}
	}
	if err != nil {
		return err
	}

	cfg, err := c.Profiles.TunnelConfig(profile.ID)
	if err != nil {
		return err
	}
	defer cfg.Wipe()

	if err := c.Sessions.Connect(ctx, cfg); err != nil {
		return err
	}
	if c.Guard != nil {
		if err := c.Guard.Engage(ctx, cfg); err != nil {
			common.LogError("Kill switch not engaged for %s: %v", profile.Name, err)
		}
	}
	if err := c.Profiles.MarkUsed(profile.ID); err != nil {
		common.LogWarn("Failed to update last used time for %s: %v", profile.Name, err)
	}
	return nil
}

// Disconnect disconnects the live session, if any, and releases the kill
// switch. It is the user's way out of a failed session too.
func (c *Controller) Disconnect(ctx context.Context) error {
	err := c.Sessions.Disconnect(ctx)

	c.mu.Lock()
	hooks := append([]func(){}, c.onDisconnect...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	if c.Guard != nil {
		if gerr := c.Guard.Release(); gerr != nil {
			common.LogError("Failed to release kill switch: %v", gerr)
			err = errors.Join(err, gerr)
		}
	}
	return err
}

// OnDisconnect registers fn to run on every explicit Disconnect.
func (c *Controller) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

// AutoConnect connects the auto-connect profile. It returns false when no
// profile is marked for auto-connect.
func (c *Controller) AutoConnect(ctx context.Context) (bool, error) {
	profile, ok := c.Profiles.AutoConnectProfile()
	if !ok {
		return false, nil
	}
	common.LogInfo("Auto-connecting profile %q", profile.Name)
	return true, c.ConnectProfile(ctx, profile.ID)
}
