package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/keyring"
	"github.com/yllada/wg-manager/vpn"
)

func openProfiles() (*vpn.ProfileManager, error) {
	secrets, err := keyring.Open()
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	return vpn.NewProfileManager(secrets)
}

// profileNameFromPath derives a profile name from a wg-quick file name.
func profileNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (c *CLI) profileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profile",
		Aliases: []string{"profiles"},
		Short:   "Manage stored tunnel profiles",
	}
	cmd.AddCommand(
		c.profileImportCommand(),
		c.profileListCommand(),
		c.profileRemoveCommand(),
		c.profileExportCommand(),
		c.profileAutoCommand(),
	)
	return cmd
}

func (c *CLI) profileImportCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a wg-quick configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := c.profiles()
			if err != nil {
				return err
			}
			if name == "" {
				name = profileNameFromPath(args[0])
			}
			p, err := pm.Import(name, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "✓ Imported %s (%s)\n", p.Name, p.ID)
			fmt.Fprintf(c.out, "  Public key: %s\n", p.PublicKey)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "profile name (default: file name)")
	return cmd
}

func (c *CLI) profileListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := c.profiles()
			if err != nil {
				return err
			}
			printProfiles(c.out, pm.List())
			return nil
		},
	}
}

func printProfiles(out io.Writer, profiles []*vpn.Profile) {
	if len(profiles) == 0 {
		fmt.Fprintln(out, "No profiles. Import one with: wg-manager profile import FILE")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENDPOINT\tAUTO-CONNECT\tLAST USED")
	for _, p := range profiles {
		auto := "no"
		if p.AutoConnect {
			auto = "yes"
		}
		lastUsed := "never"
		if !p.LastUsed.IsZero() {
			lastUsed = p.LastUsed.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", common.ShortID(p.ID), p.Name, p.Endpoint, auto, lastUsed)
	}
	w.Flush()
}

func (c *CLI) profileRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove PROFILE",
		Aliases: []string{"rm"},
		Short:   "Remove a stored profile and its private key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := c.profiles()
			if err != nil {
				return err
			}
			p, err := pm.Resolve(args[0])
			if err != nil {
				return err
			}
			if err := pm.Remove(p.ID); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "✓ Removed %s\n", p.Name)
			return nil
		},
	}
}

func (c *CLI) profileExportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export PROFILE",
		Short: "Print a profile as a wg-quick file, private key included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := c.profiles()
			if err != nil {
				return err
			}
			p, err := pm.Resolve(args[0])
			if err != nil {
				return err
			}
			data, err := pm.Export(p.ID)
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, data, 0600)
			}
			_, err = c.out.Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file (mode 0600) instead of stdout")
	return cmd
}

func (c *CLI) profileAutoCommand() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "auto PROFILE",
		Short: "Connect a profile when the daemon starts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := c.profiles()
			if err != nil {
				return err
			}
			p, err := pm.Resolve(args[0])
			if err != nil {
				return err
			}
			if err := pm.SetAutoConnect(p.ID, !off); err != nil {
				return err
			}
			if off {
				fmt.Fprintf(c.out, "✓ Auto-connect disabled for %s\n", p.Name)
			} else {
				fmt.Fprintf(c.out, "✓ Auto-connect enabled for %s\n", p.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "disable auto-connect")
	return cmd
}

func (c *CLI) keygenCommand() *cobra.Command {
	var psk bool
	return c.keyCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Generate a private key and print it with its public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := vpn.GeneratePrivateKey()
			if err != nil {
				return err
			}
			defer priv.Wipe()
			fmt.Fprintf(c.out, "PrivateKey = %s\n", priv)
			fmt.Fprintf(c.out, "PublicKey = %s\n", priv.PublicKey())
			if psk {
				key, err := vpn.GeneratePresharedKey()
				if err != nil {
					return err
				}
				defer key.Wipe()
				fmt.Fprintf(c.out, "PresharedKey = %s\n", key)
			}
			return nil
		},
	}, func(cmd *cobra.Command) {
		cmd.Flags().BoolVar(&psk, "psk", false, "also generate a pre-shared key")
	})
}

func (c *CLI) pubkeyCommand() *cobra.Command {
	return c.keyCommand(&cobra.Command{
		Use:   "pubkey",
		Short: "Read a private key from stdin and print its public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := c.readSecret("Private key: ")
			if err != nil {
				return err
			}
			priv, err := vpn.ParseKey(line)
			if err != nil {
				return &usageError{err}
			}
			defer priv.Wipe()
			fmt.Fprintln(c.out, priv.PublicKey())
			return nil
		},
	}, nil)
}

// keyCommand marks cmd as an offline tool.
func (c *CLI) keyCommand(cmd *cobra.Command, flags func(*cobra.Command)) *cobra.Command {
	cmd.Annotations = map[string]string{"offline": "true"}
	if flags != nil {
		flags(cmd)
	}
	return cmd
}

// readSecret reads one line from the input, without echo when the input is
// a terminal.
func (c *CLI) readSecret(prompt string) (string, error) {
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.err, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.err)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no key on stdin")
	}
	return strings.TrimSpace(line), nil
}
