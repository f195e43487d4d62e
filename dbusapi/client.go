package dbusapi

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/wg-manager/common"
)

// Client talks to a running daemon.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

var _ Frontend = (*Client)(nil)

// Dial connects to the daemon on bus. It returns
// common.ErrServiceUnavailable when no daemon owns BusName.
func Dial(bus string) (*Client, error) {
	conn, err := ConnectBus(bus)
	if err != nil {
		return nil, err
	}

	var owned bool
	if err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, BusName).Store(&owned); err != nil {
		conn.Close()
		return nil, fmt.Errorf("query %s: %w", BusName, err)
	}
	if !owned {
		conn.Close()
		return nil, common.ErrServiceUnavailable
	}

	return &Client{conn: conn, obj: conn.Object(BusName, ObjectPath)}, nil
}

// Close closes the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) *dbus.Call {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, common.DBusCallTimeout)
		defer cancel()
	}
	return c.obj.CallWithContext(ctx, Interface+"."+method, 0, args...)
}

// Connect asks the daemon to connect a profile by name or ID.
func (c *Client) Connect(ctx context.Context, profile string) error {
	return decodeError(c.call(ctx, "Connect", profile).Err)
}

// Disconnect asks the daemon to disconnect the live session.
func (c *Client) Disconnect(ctx context.Context) error {
	return decodeError(c.call(ctx, "Disconnect").Err)
}

// Status returns the daemon's session status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	call := c.call(ctx, "Status")
	if call.Err != nil {
		return st, decodeError(call.Err)
	}
	if err := call.Store(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// Profiles lists the daemon's profiles.
func (c *Client) Profiles(ctx context.Context) ([]ProfileInfo, error) {
	var profiles []ProfileInfo
	call := c.call(ctx, "Profiles")
	if call.Err != nil {
		return nil, decodeError(call.Err)
	}
	if err := call.Store(&profiles); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return profiles, nil
}

// Watch delivers StateChanged signals until ctx is done.
func (c *Client) Watch(ctx context.Context) (<-chan StateChange, error) {
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface(Interface),
		dbus.WithMatchMember("StateChanged"),
	); err != nil {
		return nil, fmt.Errorf("subscribe to StateChanged: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)

	out := make(chan StateChange)
	go func() {
		defer close(out)
		defer c.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				change, ok := parseSignal(sig)
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
