package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quartzshell/netmirror/pkg/cli"
	"github.com/quartzshell/netmirror/pkg/network"
	"github.com/quartzshell/netmirror/pkg/nm"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
	Long: `Manage the saved connection profiles of wifi networks.

Examples:
  netmirror profile list
  netmirror profile show CafeWifi
  netmirror profile forget CafeWifi
  netmirror profile set-psk CafeWifi
  netmirror profile set-psk CafeWifi --hash`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles per network",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModel(func(m *network.Networking) error {
			dev, err := wirelessDevice(m)
			if err != nil {
				return err
			}

			tbl := cli.NewTable("NETWORK", "PROFILE", "SECURITY", "DEFAULT")
			nets := dev.Wireless().Networks.Items()
			sort.Slice(nets, func(i, j int) bool { return nets[i].Name() < nets[j].Name() })
			for _, n := range nets {
				for _, p := range n.Profiles.Items() {
					tbl.AddRow(
						n.Name(),
						cli.Dash(p.ID.Get()),
						p.WifiSecurity.Get(),
						cli.Mark(n.DefaultProfile.Get() == p),
					)
				}
			}
			if tbl.Len() == 0 {
				fmt.Println("No profiles")
				return nil
			}
			tbl.Flush(os.Stdout)
			return nil
		})
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <ssid>",
	Short: "Show the settings of a network's default profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModel(func(m *network.Networking) error {
			n, err := findNetwork(m, args[0])
			if err != nil {
				return err
			}
			p := n.DefaultProfile.Get()
			if p == nil {
				return fmt.Errorf("network %q has no profile", args[0])
			}

			fmt.Printf("id: %s\nsecurity: %s\npath: %s\n", p.ID.Get(), p.WifiSecurity.Get(), p.Path())
			groups := make([]string, 0)
			settings := p.Settings.Get()
			for g := range settings {
				groups = append(groups, g)
			}
			sort.Strings(groups)
			for _, g := range groups {
				fmt.Printf("[%s]\n", g)
				keys := make([]string, 0, len(settings[g]))
				for k := range settings[g] {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Printf("  %s = %v\n", k, settings[g][k])
				}
			}
			return nil
		})
	},
}

var profileForgetCmd = &cobra.Command{
	Use:   "forget <ssid>",
	Short: "Delete all profiles of a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModel(func(m *network.Networking) error {
			n, err := findNetwork(m, args[0])
			if err != nil {
				return err
			}
			n.Forget()
			return nil
		})
	},
}

var setPskHash bool

var profileSetPskCmd = &cobra.Command{
	Use:   "set-psk <ssid>",
	Short: "Set the pre-shared key of a network's default profile",
	Long: `Prompt for a WPA passphrase (no echo) and store it in the network's
default profile. With --hash the 256-bit key is derived locally
(PBKDF2, per 802.11i) and the 64-hex key is stored instead of the
passphrase.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(os.Stderr, "Passphrase for %s: ", args[0])
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		psk := strings.TrimSpace(string(raw))
		if !nm.ValidWifiPsk(psk) {
			return fmt.Errorf("invalid PSK: want 8..63 ASCII characters or 64 hex digits")
		}

		return withModel(func(m *network.Networking) error {
			n, err := findNetwork(m, args[0])
			if err != nil {
				return err
			}
			p := n.DefaultProfile.Get()
			if p == nil {
				return fmt.Errorf("network %q has no profile", args[0])
			}
			if setPskHash || app.settings.HashPsk {
				psk = nm.DeriveWifiPsk(n.Ssid(), psk)
			}
			p.SetWifiPsk(psk)
			return nil
		})
	},
}

func init() {
	profileSetPskCmd.Flags().BoolVar(&setPskHash, "hash", false, "store the derived 64-hex key instead of the passphrase")
	profileCmd.AddCommand(profileListCmd, profileShowCmd, profileForgetCmd, profileSetPskCmd)
}
