package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quartzshell/netmirror/pkg/cli"
	"github.com/quartzshell/netmirror/pkg/network"
)

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List visible wifi networks",
	Long: `List the wifi networks visible to a wireless device, one row per SSID
with the strongest member signal.

Examples:
  netmirror networks
  netmirror networks --device wlp3s0
  netmirror networks connect CafeWifi
  netmirror networks disconnect CafeWifi
  netmirror networks forget CafeWifi`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModel(func(m *network.Networking) error {
			dev, err := wirelessDevice(m)
			if err != nil {
				return err
			}

			nets := dev.Wireless().Networks.Items()
			sort.Slice(nets, func(i, j int) bool {
				return nets[i].Signal.Get() > nets[j].Signal.Get()
			})

			tbl := cli.NewTable("SSID", "SIGNAL", "", "STATE", "CONNECTED", "KNOWN")
			for _, n := range nets {
				tbl.AddRow(
					n.Name(),
					n.Signal.Get(),
					cli.SignalBars(n.Signal.Get()),
					n.State.Get(),
					cli.Mark(n.Connected.Get()),
					cli.Mark(n.Known.Get()),
				)
			}
			if tbl.Len() == 0 {
				fmt.Printf("No networks visible on %s (try: netmirror scan)\n", dev.Name.Get())
				return nil
			}
			tbl.Flush(os.Stdout)
			return nil
		})
	},
}

var networksConnectCmd = &cobra.Command{
	Use:   "connect <ssid>",
	Short: "Connect to a known network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModel(func(m *network.Networking) error {
			n, err := findNetwork(m, args[0])
			if err != nil {
				return err
			}
			if !n.Known.Get() {
				return fmt.Errorf("network %q has no saved connection profile", args[0])
			}
			n.Connect()
			return nil
		})
	},
}

var networksDisconnectCmd = &cobra.Command{
	Use:   "disconnect <ssid>",
	Short: "Disconnect from a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModel(func(m *network.Networking) error {
			n, err := findNetwork(m, args[0])
			if err != nil {
				return err
			}
			n.Disconnect()
			return nil
		})
	},
}

var networksForgetCmd = &cobra.Command{
	Use:   "forget <ssid>",
	Short: "Forget all profiles of a network",
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

func init() {
	networksCmd.AddCommand(networksConnectCmd, networksDisconnectCmd, networksForgetCmd)
}
