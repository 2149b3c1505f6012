package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quartzshell/netmirror/pkg/cli"
	"github.com/quartzshell/netmirror/pkg/network"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List network devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModel(func(m *network.Networking) error {
			if m.Backend() == network.BackendNone {
				fmt.Println("No network backend available")
				return nil
			}

			tbl := cli.NewTable("NAME", "TYPE", "STATE", "ADDRESS")
			for _, dev := range m.Devices.Items() {
				tbl.AddRow(
					cli.Dash(dev.Name.Get()),
					dev.Kind(),
					dev.State.Get(),
					cli.Dash(dev.Address.Get()),
				)
			}
			if tbl.Len() == 0 {
				fmt.Println("No devices")
				return nil
			}
			tbl.Flush(os.Stdout)
			return nil
		})
	},
}
