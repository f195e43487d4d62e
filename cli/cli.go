// Package cli provides the wg-manager command tree: the daemon, the
// front-end commands that talk to it over D-Bus, and the offline profile
// and key tools.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/config"
	"github.com/yllada/wg-manager/vpn"
)

// Exit codes. Session errors map to their own code so scripts can react
// to the failure kind.
const (
	ExitOK                 = 0
	ExitFailure            = 1
	ExitUsage              = 2
	ExitAlreadyActive      = 3
	ExitConfigInvalid      = 4
	ExitInterface          = 5
	ExitHandshakeTimeout   = 6
	ExitEngine             = 7
	ExitHealthCheckTimeout = 8
	ExitCancelled          = 9
	ExitServiceUnavailable = 10
)

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch common.Kind(err) {
	case common.ErrAlreadyActive:
		return ExitAlreadyActive
	case common.ErrConfigInvalid:
		return ExitConfigInvalid
	case common.ErrInterface:
		return ExitInterface
	case common.ErrHandshakeTimeout:
		return ExitHandshakeTimeout
	case common.ErrEngine:
		return ExitEngine
	case common.ErrHealthCheckTimeout:
		return ExitHealthCheckTimeout
	case common.ErrCancelled:
		return ExitCancelled
	}
	if errors.Is(err, common.ErrServiceUnavailable) {
		return ExitServiceUnavailable
	}
	var usage *usageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	return ExitFailure
}

type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// BuildInfo is injected by main.
type BuildInfo struct {
	Version string
	Time    string
	Commit  string
}

// CLI holds the state shared by all commands.
type CLI struct {
	build      BuildInfo
	configPath string
	verbose    bool
	noFileLog  bool

	out io.Writer
	err io.Writer
	in  io.Reader

	cfg      *config.Config
	profiles func() (*vpn.ProfileManager, error)
}

// New creates the command tree.
func New(build BuildInfo) (*CLI, *cobra.Command) {
	c := &CLI{build: build, out: os.Stdout, err: os.Stderr, in: os.Stdin, profiles: openProfiles}
	return c, c.rootCommand()
}

func (c *CLI) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "wg-manager",
		Short: "WireGuard tunnel session manager",
		Long: `wg-manager runs a single WireGuard tunnel session at a time.

The daemon owns the session and is driven over D-Bus by the connect,
disconnect, status, dashboard and tray commands. "up" runs a session in
the foreground without a daemon.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.out = cmd.OutOrStdout()
			c.err = cmd.ErrOrStderr()
			c.in = cmd.InOrStdin()
			// Offline tools need neither config nor log files.
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = common.CloseLogger()
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to the configuration file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().BoolVar(&c.noFileLog, "no-log-file", false, "log to stderr only")

	root.AddCommand(
		c.daemonCommand(),
		c.upCommand(),
		c.connectCommand(),
		c.disconnectCommand(),
		c.statusCommand(),
		c.watchCommand(),
		c.dashboardCommand(),
		c.trayCommand(),
		c.profileCommand(),
		c.historyCommand(),
		c.keygenCommand(),
		c.pubkeyCommand(),
		c.versionCommand(),
	)
	return root
}

// setup loads the configuration and initializes logging.
func (c *CLI) setup() error {
	var cfg *config.Config
	var err error
	if c.configPath != "" {
		cfg, err = config.LoadFrom(c.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		if cfg == nil {
			return err
		}
		fmt.Fprintf(c.err, "Warning: %v\n", err)
	}
	c.cfg = cfg

	level := common.ParseLevel(cfg.LogLevel)
	if c.verbose {
		level = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:       level,
		EnableFile:  !c.noFileLog,
		MaxFileSize: 5 * 1024 * 1024,
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(c.err, "Warning: Could not initialize file logging: %v\n", err)
	}
	return nil
}

// Execute runs the command line and returns the exit code.
func Execute(build BuildInfo, args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, root := New(build)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return ExitCode(err)
}

func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version and exit",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"offline": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.out, "%s v%s\n", common.AppName, c.build.Version)
			if c.build.Time != "" && c.build.Time != "unknown" {
				fmt.Fprintf(c.out, "  Build:  %s\n", c.build.Time)
				fmt.Fprintf(c.out, "  Commit: %s\n", c.build.Commit)
			}
		},
	}
}
