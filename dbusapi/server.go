package dbusapi

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

// ConnectBus opens a private connection to the named bus: "system" or
// "session".
func ConnectBus(bus string) (*dbus.Conn, error) {
	var conn *dbus.Conn
	var err error
	switch bus {
	case "system":
		conn, err = dbus.ConnectSystemBus()
	case "session", "":
		conn, err = dbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("unknown bus %q", bus)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s bus: %w", bus, err)
	}
	return conn, nil
}

// Server exports a Frontend on D-Bus.
type Server struct {
	conn     *dbus.Conn
	frontend Frontend
	timeout  time.Duration
}

// NewServer exports f on conn and claims BusName. It fails when another
// daemon already owns the name.
func NewServer(conn *dbus.Conn, f Frontend) (*Server, error) {
	s := &Server{conn: conn, frontend: f, timeout: common.DBusCallTimeout}

	if err := conn.Export(&object{s: s}, ObjectPath, Interface); err != nil {
		return nil, fmt.Errorf("export %s: %w", Interface, err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("%s is already owned; is another daemon running?", BusName)
	}

	common.LogInfo("D-Bus service registered as %s", BusName)
	return s, nil
}

// Run emits a StateChanged signal for every event until the channel closes
// or ctx is done.
func (s *Server) Run(ctx context.Context, events <-chan vpn.SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.emit(ev); err != nil {
				common.LogWarn("D-Bus: emit %s: %v", ev.Kind, err)
			}
		}
	}
}

func (s *Server) emit(ev vpn.SessionEvent) error {
	return s.conn.Emit(ObjectPath, SignalStateChanged,
		ev.Kind.String(), ev.SessionID, ev.Name, ev.ReasonText(), ev.Seq)
}

// Close releases the bus name.
func (s *Server) Close() error {
	_, err := s.conn.ReleaseName(BusName)
	return err
}

func (s *Server) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// object is the exported D-Bus object. Its exported methods are the
// methods of the interface.
type object struct {
	s *Server
}

func (o *object) Connect(profile string) *dbus.Error {
	ctx, cancel := o.s.context()
	defer cancel()
	common.LogDebug("D-Bus: Connect(%q)", profile)
	return encodeError(o.s.frontend.Connect(ctx, profile))
}

func (o *object) Disconnect() *dbus.Error {
	ctx, cancel := o.s.context()
	defer cancel()
	common.LogDebug("D-Bus: Disconnect()")
	return encodeError(o.s.frontend.Disconnect(ctx))
}

func (o *object) Status() (Status, *dbus.Error) {
	ctx, cancel := o.s.context()
	defer cancel()
	st, err := o.s.frontend.Status(ctx)
	return st, encodeError(err)
}

func (o *object) Profiles() ([]ProfileInfo, *dbus.Error) {
	ctx, cancel := o.s.context()
	defer cancel()
	profiles, err := o.s.frontend.Profiles(ctx)
	if profiles == nil {
		profiles = []ProfileInfo{}
	}
	return profiles, encodeError(err)
}
