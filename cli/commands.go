package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/dbusapi"
	"github.com/yllada/wg-manager/ui"
	"github.com/yllada/wg-manager/vpn"
)

// dial connects to the daemon on the configured bus.
func (c *CLI) dial() (*dbusapi.Client, error) {
	client, err := dbusapi.Dial(c.cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("%w (start it with: wg-manager daemon)", err)
	}
	return client, nil
}

func (c *CLI) connectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connect PROFILE",
		Short: "Connect a profile through the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			fmt.Fprintf(c.out, "Connecting to %s...\n", args[0])
			if err := client.Connect(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("connection failed: %w", err)
			}

			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "✓ Connected to %s on %s\n", st.Name, st.Interface)
			return nil
		},
	}
}

func (c *CLI) disconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the live session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if !st.SessionState().IsLive() {
				// Still lifts a kill switch held after a failed session.
				if err := client.Disconnect(cmd.Context()); err != nil {
					return fmt.Errorf("failed to disconnect: %w", err)
				}
				fmt.Fprintln(c.out, "No active session.")
				return nil
			}

			fmt.Fprintf(c.out, "Disconnecting from %s...\n", st.Name)
			if err := client.Disconnect(cmd.Context()); err != nil {
				return fmt.Errorf("failed to disconnect: %w", err)
			}
			fmt.Fprintf(c.out, "✓ Disconnected from %s\n", st.Name)
			return nil
		},
	}
}

func (c *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(c.out, st, time.Now())
			return nil
		},
	}
}

// printStatus writes st as a two-column table.
func printStatus(out io.Writer, st dbusapi.Status, now time.Time) {
	state := st.SessionState()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "STATE\t%s\n", state)

	if state.IsLive() {
		fmt.Fprintf(w, "PROFILE\t%s\n", st.Name)
		fmt.Fprintf(w, "ENDPOINT\t%s\n", st.Endpoint)
		fmt.Fprintf(w, "INTERFACE\t%s\n", orDash(st.Interface))
		fmt.Fprintf(w, "SESSION\t%s\n", common.ShortID(st.SessionID))
	}
	if state == vpn.StateConnected {
		handshake := "never"
		if st.LastHandshake != 0 {
			handshake = common.FormatDuration(st.HandshakeAge(now)) + " ago"
		}
		fmt.Fprintf(w, "UPTIME\t%s\n", common.FormatDuration(st.Uptime(now)))
		fmt.Fprintf(w, "HEALTH\t%s\n", orDash(st.Health))
		fmt.Fprintf(w, "HANDSHAKE\t%s\n", handshake)
		fmt.Fprintf(w, "TRANSFER\t%s received, %s sent\n", common.FormatBytes(st.RxBytes), common.FormatBytes(st.TxBytes))
	}
	if st.LastError != "" && state != vpn.StateConnected {
		fmt.Fprintf(w, "LAST ERROR\t%s\n", st.LastError)
	}
	w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (c *CLI) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print session events as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			changes, err := client.Watch(cmd.Context())
			if err != nil {
				return err
			}
			for change := range changes {
				printChange(c.out, change, time.Now())
			}
			return nil
		},
	}
}

func printChange(out io.Writer, ch dbusapi.StateChange, at time.Time) {
	line := fmt.Sprintf("%s  #%d  %-13s %s", at.Format(time.TimeOnly), ch.Seq, ch.Kind, ch.Name)
	if ch.Reason != "" {
		line += ": " + ch.Reason
	}
	fmt.Fprintln(out, line)
}

func (c *CLI) dashboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the terminal dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.dial()
			if err != nil {
				return err
			}
			defer client.Close()
			return ui.RunDashboard(cmd.Context(), client)
		},
	}
}

func (c *CLI) trayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tray",
		Short: "Show the system tray icon for a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			tray := ui.NewTrayIndicator(ctx, client, cancel)
			go func() {
				<-ctx.Done()
				tray.Quit()
			}()
			tray.Run()
			return nil
		},
	}
}
