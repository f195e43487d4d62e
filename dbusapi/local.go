package dbusapi

import (
	"context"

	"github.com/yllada/wg-manager/vpn"
)

// Local drives a controller in the same process.
type Local struct {
	ctl *vpn.Controller
}

var _ Frontend = (*Local)(nil)

// NewLocal wraps ctl.
func NewLocal(ctl *vpn.Controller) *Local {
	return &Local{ctl: ctl}
}

// Connect connects the referenced profile.
func (l *Local) Connect(ctx context.Context, profile string) error {
	return l.ctl.ConnectProfile(ctx, profile)
}

// Disconnect disconnects the live session.
func (l *Local) Disconnect(ctx context.Context) error {
	return l.ctl.Disconnect(ctx)
}

// Status returns the session status.
func (l *Local) Status(context.Context) (Status, error) {
	return StatusOf(l.ctl.Sessions), nil
}

// Profiles lists the stored profiles, re-reading the profile index so
// profiles imported by the CLI show up.
func (l *Local) Profiles(context.Context) ([]ProfileInfo, error) {
	if err := l.ctl.Profiles.Load(); err != nil {
		return nil, err
	}
	profiles := l.ctl.Profiles.List()
	out := make([]ProfileInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, profileInfo(p))
	}
	return out, nil
}
