package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quartzshell/netmirror/pkg/network"
)

var wifiCmd = &cobra.Command{
	Use:   "wifi [on|off|status]",
	Short: "Show or toggle the global wireless switch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "status"
		if len(args) == 1 {
			action = args[0]
		}
		return withModel(func(m *network.Networking) error {
			switch action {
			case "status":
				fmt.Printf("wifi: %s (hardware: %s)\n",
					onOff(m.WifiEnabled.Get()), onOff(m.WifiHardwareEnabled.Get()))
				return nil
			case "on":
				m.SetWifiEnabled(true)
				return nil
			case "off":
				m.SetWifiEnabled(false)
				return nil
			default:
				return fmt.Errorf("unknown wifi action %q", action)
			}
		})
	},
}

var scanWait bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Request a wifi scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		done := make(chan struct{}, 1)

		err := withModel(func(m *network.Networking) error {
			dev, err := wirelessDevice(m)
			if err != nil {
				return err
			}
			w := dev.Wireless()
			if scanWait {
				w.Scanning.Subscribe(func(scanning bool) {
					if !scanning {
						select {
						case done <- struct{}{}:
						default:
						}
					}
				})
			}
			w.Scan()
			return nil
		})
		if err != nil || !scanWait {
			return err
		}

		select {
		case <-done:
			return nil
		case <-time.After(30 * time.Second):
			return fmt.Errorf("timed out waiting for scan completion")
		}
	},
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func init() {
	scanCmd.Flags().BoolVar(&scanWait, "wait", false, "wait for the scan to complete")
}
