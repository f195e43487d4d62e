package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/config"
	"github.com/yllada/wg-manager/dbusapi"
	"github.com/yllada/wg-manager/history"
	"github.com/yllada/wg-manager/keyring"
	"github.com/yllada/wg-manager/netif"
	"github.com/yllada/wg-manager/notify"
	"github.com/yllada/wg-manager/ui"
	"github.com/yllada/wg-manager/vpn"
	"github.com/yllada/wg-manager/wireguard"
)

// stack is the in-process session stack shared by "daemon" and "up".
type stack struct {
	bus      *vpn.Bus
	manager  *vpn.Manager
	profiles *vpn.ProfileManager
	ctl      *vpn.Controller
}

func managerConfig(s config.SessionConfig) vpn.ManagerConfig {
	mc := vpn.DefaultManagerConfig()
	mc.HandshakeTimeout = s.HandshakeTimeout
	mc.HealthInterval = s.HealthInterval
	mc.FailureThreshold = s.FailureThreshold
	return mc
}

func newStack(cfg *config.Config) (*stack, error) {
	secrets, err := keyring.Open()
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	profiles, err := vpn.NewProfileManager(secrets)
	if err != nil {
		return nil, err
	}

	driver, err := netif.NewDriver(cfg.Session.Driver, netif.Options{
		Name:         cfg.Session.Interface,
		MTU:          cfg.Session.MTU,
		ManageRoutes: cfg.Session.ManageRoutes,
	})
	if err != nil {
		return nil, err
	}

	bus := vpn.NewBus()
	manager := vpn.NewManager(wireguard.New(), driver, bus, managerConfig(cfg.Session))
	return &stack{
		bus:      bus,
		manager:  manager,
		profiles: profiles,
		ctl:      vpn.NewController(manager, profiles),
	}, nil
}

// enableKillSwitch installs a kill switch as the controller's guard after
// removing rules a previous run left behind.
func (s *stack) enableKillSwitch() {
	ks := netif.NewKillSwitch()
	if err := ks.Reset(); err != nil {
		common.LogWarn("Failed to clear stale kill switch rules: %v", err)
	}
	s.ctl.Guard = ks
	common.LogInfo("Kill switch enabled")
}

// reconnector reconnects sessions that fail their health checks.
func (s *stack) reconnector(cfg config.SessionConfig, notifier notify.Sender) *vpn.Reconnector {
	rc := vpn.NewReconnector(s.ctl.ConnectProfile, vpn.ReconnectConfig{
		Delay:       cfg.ReconnectDelay,
		MaxAttempts: cfg.MaxReconnectAttempts,
	})
	s.ctl.OnDisconnect(rc.Cancel)
	if notifier != nil {
		rc.SetOnReconnecting(func(name string, attempt int) {
			if err := notifier.Send(notify.Reconnecting(name, attempt)); err != nil {
				common.LogDebug("Notification failed: %v", err)
			}
		})
		rc.SetOnReconnectFailed(func(name string, err error) {
			if serr := notifier.Send(notify.ReconnectFailed(name, err)); serr != nil {
				common.LogDebug("Notification failed: %v", serr)
			}
		})
	}
	return rc
}

// shutdown disconnects the session, lifts the kill switch and closes the
// bus, which flushes the remaining events to the subscribers.
func (s *stack) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*common.TeardownTimeout)
	defer cancel()
	if err := s.ctl.Disconnect(ctx); err != nil {
		common.LogWarn("Disconnect on shutdown: %v", err)
	}
	s.bus.Close()
}

func (c *CLI) daemonCommand() *cobra.Command {
	var withTray bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the session daemon",
		Long: `Runs the session manager and exports it on D-Bus as com.yllada.WGManager.
Session events feed the history database and desktop notifications.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDaemon(cmd.Context(), withTray)
		},
	}
	cmd.Flags().BoolVar(&withTray, "tray", false, "show the system tray icon")
	return cmd
}

func (c *CLI) runDaemon(parent context.Context, withTray bool) error {
	common.LogInfo("Starting %s daemon v%s", common.AppName, c.build.Version)

	st, err := newStack(c.cfg)
	if err != nil {
		return err
	}
	if c.cfg.Session.KillSwitch {
		st.enableKillSwitch()
	}

	conn, err := dbusapi.ConnectBus(c.cfg.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()

	local := dbusapi.NewLocal(st.ctl)
	server, err := dbusapi.NewServer(conn, local)
	if err != nil {
		return err
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// Subscribers only stop when the bus closes, so they see the events of
	// the shutdown disconnect.
	events, _ := st.bus.Subscribe()
	g.Go(func() error {
		server.Run(context.Background(), events)
		return nil
	})

	if c.cfg.History {
		store, err := history.OpenDefault()
		if err != nil {
			common.LogWarn("Session history disabled: %v", err)
		} else {
			defer store.Close()
			events, _ := st.bus.Subscribe()
			g.Go(func() error {
				store.Run(context.Background(), events)
				return nil
			})
		}
	}

	var sender notify.Sender
	if c.cfg.ShowNotifications {
		notifier, err := notify.NewDBusNotifier()
		if err != nil {
			common.LogWarn("Desktop notifications disabled: %v", err)
		} else {
			defer notifier.Close()
			sender = notifier
			events, _ := st.bus.Subscribe()
			g.Go(func() error {
				notify.Watch(context.Background(), notifier, events)
				return nil
			})
		}
	}

	if c.cfg.Session.AutoReconnect {
		rc := st.reconnector(c.cfg.Session, sender)
		events, unsubscribe := st.bus.Subscribe()
		g.Go(func() error {
			defer unsubscribe()
			rc.Run(gctx, events)
			return nil
		})
	}

	g.Go(func() error {
		c.autoConnect(gctx, st.ctl)
		return nil
	})
	g.Go(func() error {
		rotateLogs(gctx, logRotationInterval)
		return nil
	})

	if withTray {
		tray := ui.NewTrayIndicator(gctx, local, cancel)
		g.Go(func() error {
			tray.Run()
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			tray.Quit()
			return nil
		})
	}

	<-gctx.Done()
	common.LogInfo("Shutting down daemon")
	st.shutdown()
	return g.Wait()
}

func (c *CLI) autoConnect(ctx context.Context, ctl *vpn.Controller) {
	var err error
	if c.cfg.AutoConnect != "" {
		common.LogInfo("Auto-connecting profile %q", c.cfg.AutoConnect)
		err = ctl.ConnectProfile(ctx, c.cfg.AutoConnect)
	} else {
		_, err = ctl.AutoConnect(ctx)
	}
	if err != nil {
		common.LogWarn("Auto-connect failed: %v", err)
	}
}

const logRotationInterval = 10 * time.Minute

func rotateLogs(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			common.GetLogger().CheckRotation()
		}
	}
}

func (c *CLI) upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up PROFILE|FILE",
		Short: "Run a session in the foreground",
		Long: `Connects a stored profile, or a wg-quick file given by path, without a
daemon. The session runs until interrupted or until it fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runUp(cmd.Context(), args[0])
		},
	}
}

func (c *CLI) runUp(ctx context.Context, ref string) error {
	st, err := newStack(c.cfg)
	if err != nil {
		return err
	}
	events, cancelEvents := st.bus.Subscribe()
	defer cancelEvents()

	if common.FileExists(ref) {
		err = connectFile(ctx, st.manager, ref)
	} else {
		err = st.ctl.ConnectProfile(ctx, ref)
	}
	if err != nil {
		st.bus.Close()
		return err
	}

	snap := st.manager.Status()
	fmt.Fprintf(c.out, "✓ Connected to %s on %s\n", snap.Name, snap.Interface)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out, "Disconnecting...")
			st.shutdown()
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == vpn.EventFailed {
				// The manager tears a failed session down by itself.
				waitDisconnected(events, 2*common.TeardownTimeout)
				st.bus.Close()
				return ev.Reason
			}
		}
	}
}

func connectFile(ctx context.Context, m *vpn.Manager, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, err := vpn.ParseWGQuick(f)
	if err != nil {
		return err
	}
	defer cfg.Wipe()
	if cfg.Name == "" {
		cfg.Name = profileNameFromPath(path)
	}
	return m.Connect(ctx, cfg)
}

func waitDisconnected(events <-chan vpn.SessionEvent, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok || ev.Kind == vpn.EventDisconnected {
				return
			}
		case <-timer.C:
			return
		}
	}
}
