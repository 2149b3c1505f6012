package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quartzshell/netmirror/pkg/network"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream mirror events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		events := make(chan string, 64)
		emit := func(format string, args ...interface{}) {
			select {
			case events <- fmt.Sprintf(format, args...):
			default:
			}
		}

		watchNetwork := func(n *network.Network) {
			name := n.Name()
			n.Connected.Subscribe(func(v bool) { emit("network %s connected=%v", name, v) })
			n.State.Subscribe(func(s network.NetworkState) { emit("network %s state=%s", name, s) })
			n.Signal.Subscribe(func(s byte) { emit("network %s signal=%d", name, s) })
		}
		watchDevice := func(dev *network.NetworkDevice) {
			dev.State.Subscribe(func(s network.DeviceState) {
				emit("device %s state=%s", dev.Name.Get(), s)
			})
			if w := dev.Wireless(); w != nil {
				w.Networks.Added().Subscribe(func(n *network.Network) {
					emit("network %s added", n.Name())
					watchNetwork(n)
				})
				w.Networks.Removed().Subscribe(func(n *network.Network) {
					emit("network %s removed", n.Name())
				})
				w.Scanning.Subscribe(func(v bool) {
					emit("device %s scanning=%v", dev.Name.Get(), v)
				})
				for _, n := range w.Networks.Items() {
					watchNetwork(n)
				}
			}
		}

		err := withModel(func(m *network.Networking) error {
			m.Devices.Added().Subscribe(func(dev *network.NetworkDevice) {
				emit("device %s added", dev.Name.Get())
				watchDevice(dev)
			})
			m.Devices.Removed().Subscribe(func(dev *network.NetworkDevice) {
				emit("device %s removed", dev.Name.Get())
			})
			m.WifiEnabled.Subscribe(func(v bool) { emit("wifi enabled=%v", v) })
			m.State.Subscribe(func(s network.GlobalState) { emit("state=%s", s) })
			for _, dev := range m.Devices.Items() {
				watchDevice(dev)
			}
			return nil
		})
		if err != nil {
			return err
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		fmt.Println("watching (ctrl-c to stop)")
		for {
			select {
			case line := <-events:
				fmt.Println(line)
			case <-stop:
				return nil
			}
		}
	},
}
