// Netmirror - NetworkManager state mirror
//
// A CLI tool for inspecting and driving the live NetworkManager mirror:
//   - Device and wifi network listing from the reactive object graph
//   - Global wireless toggle, scanning, profile management
//   - Event watching (device/network/state transitions as they happen)
//
// Examples:
//
//	netmirror devices
//	netmirror networks --device wlp3s0
//	netmirror wifi off
//	netmirror scan --wait
//	netmirror profile set-psk "Home Wifi" --hash
//	netmirror watch
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quartzshell/netmirror/pkg/network"
	"github.com/quartzshell/netmirror/pkg/nm"
	"github.com/quartzshell/netmirror/pkg/settings"
	"github.com/quartzshell/netmirror/pkg/util"
	"github.com/quartzshell/netmirror/pkg/version"
)

// App holds CLI state shared across all commands.
type App struct {
	// Option flags
	deviceName string
	logLevel   string
	jsonLogs   bool

	// Initialized state (settings set in PersistentPreRunE; service
	// started on first use by session)
	settings *settings.Settings
	service  *nm.Service
}

var app = &App{}

var rootCmd = &cobra.Command{
	Use:           "netmirror",
	Short:         "Inspect and drive the NetworkManager state mirror",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		app.settings = s

		level := s.LogLevel
		if app.logLevel != "" {
			level = app.logLevel
		}
		if level != "" {
			if err := util.SetLogLevel(level); err != nil {
				return err
			}
		}
		if app.jsonLogs || s.JSONLogs {
			util.SetJSONFormat()
		}
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&app.deviceName, "device", "d", "", "wireless interface to operate on")
	rootCmd.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&app.jsonLogs, "json-logs", false, "JSON log output")

	rootCmd.AddCommand(
		devicesCmd,
		networksCmd,
		wifiCmd,
		scanCmd,
		profileCmd,
		watchCmd,
		settingsCmd,
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if app.service != nil {
		app.service.Close()
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

// session starts the mirror and gives the enumeration a moment to
// settle before the first read.
func (a *App) session() *nm.Service {
	if a.service == nil {
		a.service = nm.Instance()
		time.Sleep(time.Duration(a.settings.SettleMillisOrDefault()) * time.Millisecond)
	}
	return a.service
}

// withModel runs fn on the dispatch loop with the live model.
func withModel(fn func(*network.Networking) error) error {
	svc := app.session()
	var err error
	if !svc.Sync(func(m *network.Networking) { err = fn(m) }) {
		return util.ErrUnavailable
	}
	return err
}

// wirelessDevice resolves the target wireless device: --device, the
// configured default, or the only wireless device present.
func wirelessDevice(m *network.Networking) (*network.NetworkDevice, error) {
	name := app.deviceName
	if name == "" {
		name = app.settings.DefaultDevice
	}

	var candidates []*network.NetworkDevice
	for _, dev := range m.Devices.Items() {
		if dev.Wireless() == nil {
			continue
		}
		if name != "" && dev.Name.Get() != name {
			continue
		}
		candidates = append(candidates, dev)
	}
	switch {
	case len(candidates) == 1:
		return candidates[0], nil
	case len(candidates) == 0:
		if name != "" {
			return nil, fmt.Errorf("no wireless device named %q", name)
		}
		return nil, fmt.Errorf("no wireless device found")
	default:
		return nil, fmt.Errorf("multiple wireless devices, pick one with --device")
	}
}

// findNetwork locates a wifi network by name on the target device.
func findNetwork(m *network.Networking, name string) (*network.Network, error) {
	dev, err := wirelessDevice(m)
	if err != nil {
		return nil, err
	}
	for _, n := range dev.Wireless().Networks.Items() {
		if n.Name() == name {
			return n, nil
		}
	}
	return nil, fmt.Errorf("network %q not found on %s", name, dev.Name.Get())
}
