// Package dbusapi exposes the session controller on D-Bus and provides the
// client used by the CLI, the tray and the dashboard.
//
// The daemon owns the name com.yllada.WGManager and exports a single object:
//
//	/com/yllada/WGManager  com.yllada.WGManager
//	  Connect(s profile)
//	  Disconnect()
//	  Status() -> (sssssxssttx)
//	  Profiles() -> a(sssbx)
//	  signal StateChanged(s event, s session, s name, s reason, t seq)
//
// Session errors travel as D-Bus errors named com.yllada.WGManager.Error.<Kind>
// and are mapped back to the common sentinels by the client.
package dbusapi

import (
	"context"
	"errors"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

// Names of the exported service.
const (
	BusName            = common.AppID
	ObjectPath         = dbus.ObjectPath("/com/yllada/WGManager")
	Interface          = "com.yllada.WGManager"
	SignalStateChanged = Interface + ".StateChanged"
)

const introspectXML = `<node>
	<interface name="` + Interface + `">
		<method name="Connect">
			<arg name="profile" direction="in" type="s"/>
		</method>
		<method name="Disconnect"/>
		<method name="Status">
			<arg name="status" direction="out" type="(sssssxssttx)"/>
		</method>
		<method name="Profiles">
			<arg name="profiles" direction="out" type="a(sssbx)"/>
		</method>
		<signal name="StateChanged">
			<arg name="event" type="s"/>
			<arg name="session" type="s"/>
			<arg name="name" type="s"/>
			<arg name="reason" type="s"/>
			<arg name="seq" type="t"/>
		</signal>
	</interface>` + introspect.IntrospectDataString + `</node>`

// Frontend is the operation set every front end drives. Both the D-Bus
// Client and the in-process Local implement it.
type Frontend interface {
	Connect(ctx context.Context, profile string) error
	Disconnect(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	Profiles(ctx context.Context) ([]ProfileInfo, error)
}

// Status is the wire form of a session snapshot. Times are unix seconds,
// zero when unset.
type Status struct {
	State         string
	SessionID     string
	Name          string
	Endpoint      string
	Interface     string
	ConnectedAt   int64
	LastError     string
	Health        string
	RxBytes       uint64
	TxBytes       uint64
	LastHandshake int64
}

// SessionState parses State.
func (s Status) SessionState() vpn.SessionState {
	st, _ := vpn.ParseSessionState(s.State)
	return st
}

// Uptime returns how long the session has been connected at now.
func (s Status) Uptime(now time.Time) time.Duration {
	if s.SessionState() != vpn.StateConnected || s.ConnectedAt == 0 {
		return 0
	}
	return now.Sub(time.Unix(s.ConnectedAt, 0))
}

// HandshakeAge returns the time since the last handshake, or zero when none
// happened.
func (s Status) HandshakeAge(now time.Time) time.Duration {
	if s.LastHandshake == 0 {
		return 0
	}
	return now.Sub(time.Unix(s.LastHandshake, 0))
}

// StatusOf builds the Status of m.
func StatusOf(m *vpn.Manager) Status {
	snap := m.Status()
	st := Status{
		State:     snap.State.String(),
		SessionID: snap.SessionID,
		Name:      snap.Name,
		Endpoint:  snap.Endpoint,
		Interface: snap.Interface,
	}
	if snap.LastError != nil {
		st.LastError = snap.LastError.Error()
	}
	if snap.State != vpn.StateConnected {
		return st
	}

	st.ConnectedAt = unix(snap.ConnectedAt)
	st.Health = m.Health().State.String()
	if stats, err := m.Stats(); err == nil {
		st.RxBytes = stats.RxBytes
		st.TxBytes = stats.TxBytes
		st.LastHandshake = unix(stats.LastHandshake)
	}
	return st
}

// ProfileInfo is the wire form of a stored profile.
type ProfileInfo struct {
	ID          string
	Name        string
	Endpoint    string
	AutoConnect bool
	LastUsed    int64
}

func profileInfo(p *vpn.Profile) ProfileInfo {
	return ProfileInfo{
		ID:          p.ID,
		Name:        p.Name,
		Endpoint:    p.Endpoint,
		AutoConnect: p.AutoConnect,
		LastUsed:    unix(p.LastUsed),
	}
}

// StateChange is a received StateChanged signal.
type StateChange struct {
	Kind      vpn.EventKind
	SessionID string
	Name      string
	Reason    string
	Seq       uint64
}

func parseSignal(sig *dbus.Signal) (StateChange, bool) {
	if sig == nil || sig.Name != SignalStateChanged || len(sig.Body) != 5 {
		return StateChange{}, false
	}
	kindName, ok1 := sig.Body[0].(string)
	session, ok2 := sig.Body[1].(string)
	name, ok3 := sig.Body[2].(string)
	reason, ok4 := sig.Body[3].(string)
	seq, ok5 := sig.Body[4].(uint64)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return StateChange{}, false
	}
	kind, ok := vpn.ParseEventKind(kindName)
	if !ok {
		return StateChange{}, false
	}
	return StateChange{Kind: kind, SessionID: session, Name: name, Reason: reason, Seq: seq}, true
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Error names.
const (
	errPrefix       = Interface + ".Error."
	errFailed       = errPrefix + "Failed"
	errServiceGone  = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNameNotOwned = "org.freedesktop.DBus.Error.NameHasNoOwner"
)

var errorNames = []struct {
	name string
	err  error
}{
	{errPrefix + "AlreadyActive", common.ErrAlreadyActive},
	{errPrefix + "ConfigInvalid", common.ErrConfigInvalid},
	{errPrefix + "InterfaceError", common.ErrInterface},
	{errPrefix + "HandshakeTimeout", common.ErrHandshakeTimeout},
	{errPrefix + "EngineError", common.ErrEngine},
	{errPrefix + "HealthCheckTimeout", common.ErrHealthCheckTimeout},
	{errPrefix + "Cancelled", common.ErrCancelled},
	{errPrefix + "ProfileNotFound", common.ErrProfileNotFound},
}

// encodeError converts err into a named D-Bus error.
func encodeError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	for _, e := range errorNames {
		if errors.Is(err, e.err) {
			return dbus.NewError(e.name, []interface{}{err.Error()})
		}
	}
	return dbus.NewError(errFailed, []interface{}{err.Error()})
}

// remoteError is an error returned by the daemon. It unwraps to the
// sentinel named by the D-Bus error.
type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

// decodeError maps a D-Bus error back to the common sentinels.
func decodeError(err error) error {
	if err == nil {
		return nil
	}

	var name string
	var body []interface{}
	var ptr *dbus.Error
	var val dbus.Error
	switch {
	case errors.As(err, &ptr):
		name, body = ptr.Name, ptr.Body
	case errors.As(err, &val):
		name, body = val.Name, val.Body
	default:
		return err
	}

	msg := name
	if len(body) > 0 {
		if s, ok := body[0].(string); ok {
			msg = s
		}
	}

	switch name {
	case errServiceGone, errNameNotOwned:
		return common.ErrServiceUnavailable
	}
	for _, e := range errorNames {
		if e.name == name {
			return &remoteError{kind: e.err, msg: msg}
		}
	}
	return errors.New(msg)
}
