// Package notify sends desktop notifications for session events through
// the org.freedesktop.Notifications D-Bus service.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

const (
	notificationsName   = "org.freedesktop.Notifications"
	notificationsPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsMethod = notificationsName + ".Notify"
)

// Type represents the type of notification.
type Type int

const (
	TypeInfo Type = iota
	TypeSuccess
	TypeWarning
	TypeError
)

// Notification is a single desktop notification.
type Notification struct {
	Title   string
	Message string
	Type    Type
	Icon    string
}

// IconName returns the notification icon, derived from the type when unset.
func (n Notification) IconName() string {
	if n.Icon != "" {
		return n.Icon
	}
	switch n.Type {
	case TypeWarning:
		return "dialog-warning"
	case TypeError:
		return "dialog-error"
	default:
		return "network-vpn"
	}
}

// Urgency returns the freedesktop urgency level: 0 low, 1 normal, 2 critical.
func (n Notification) Urgency() byte {
	switch n.Type {
	case TypeError:
		return 2
	case TypeWarning:
		return 1
	default:
		return 0
	}
}

// Sender delivers notifications.
type Sender interface {
	Send(n Notification) error
}

// FromEvent returns the notification for a session event. Connecting and
// Disconnecting produce none.
func FromEvent(ev vpn.SessionEvent) (Notification, bool) {
	name := ev.Name
	if name == "" {
		name = ev.Endpoint
	}

	switch ev.Kind {
	case vpn.EventConnected:
		return Notification{
			Title:   "WireGuard Connected",
			Message: fmt.Sprintf("Connected to %s on %s", name, ev.Interface),
			Type:    TypeSuccess,
			Icon:    "network-vpn",
		}, true
	case vpn.EventFailed:
		return Notification{
			Title:   "Connection Error",
			Message: name + ": " + ev.ReasonText(),
			Type:    TypeError,
			Icon:    "network-vpn-error",
		}, true
	case vpn.EventDisconnected:
		return Notification{
			Title:   "WireGuard Disconnected",
			Message: "Disconnected from " + name,
			Type:    TypeInfo,
			Icon:    "network-vpn-disconnected",
		}, true
	}
	return Notification{}, false
}

// Reconnecting is the notification for an automatic reconnect attempt.
func Reconnecting(name string, attempt int) Notification {
	return Notification{
		Title:   "Reconnecting",
		Message: fmt.Sprintf("Reconnecting to %s (attempt %d)...", name, attempt),
		Type:    TypeWarning,
		Icon:    "network-vpn-acquiring",
	}
}

// ReconnectFailed is the notification for a reconnect that gave up.
func ReconnectFailed(name string, err error) Notification {
	msg := "Failed to reconnect to " + name
	if err != nil {
		msg += ": " + err.Error()
	}
	return Notification{
		Title:   "Reconnect Failed",
		Message: msg,
		Type:    TypeError,
		Icon:    "network-vpn-error",
	}
}

// Watch sends a notification for every relevant event until the channel is
// closed or ctx is done. The Disconnected event that follows a failure is
// folded into the failure notification.
func Watch(ctx context.Context, s Sender, events <-chan vpn.SessionEvent) {
	failed := ""
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == vpn.EventFailed {
				failed = ev.SessionID
			}
			if ev.Kind == vpn.EventDisconnected && ev.SessionID == failed {
				continue
			}
			n, ok := FromEvent(ev)
			if !ok {
				continue
			}
			if err := s.Send(n); err != nil {
				common.LogWarn("Error showing notification: %v", err)
			}
		}
	}
}

// DBusNotifier talks to the desktop notification daemon. Successive
// notifications replace each other so only the latest state is shown.
type DBusNotifier struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string

	mu     sync.Mutex
	lastID uint32
}

var (
	_ Sender          = (*DBusNotifier)(nil)
	_ common.Notifier = (*DBusNotifier)(nil)
)

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return &DBusNotifier{
		conn:    conn,
		obj:     conn.Object(notificationsName, notificationsPath),
		appName: common.AppName,
	}, nil
}

// Send shows n.
func (d *DBusNotifier) Send(n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(n.Urgency()),
	}
	call := d.obj.Call(notificationsMethod, 0,
		d.appName, d.lastID, n.IconName(), n.Title, n.Message, []string{}, hints, int32(-1))
	if call.Err != nil {
		return call.Err
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return err
	}
	d.lastID = id
	return nil
}

// Notify implements common.Notifier.
func (d *DBusNotifier) Notify(title, message string) error {
	return d.Send(Notification{Title: title, Message: message})
}

// NotifyWithIcon implements common.Notifier.
func (d *DBusNotifier) NotifyWithIcon(title, message, icon string) error {
	return d.Send(Notification{Title: title, Message: message, Icon: icon})
}

// Close closes the bus connection.
func (d *DBusNotifier) Close() error {
	return d.conn.Close()
}
