package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage netmirror preferences",
	Long: `Show or change persistent preferences stored in
~/.netmirror/settings.yaml.

Keys: log-level, json-logs, default-device, settle-millis, hash-psk`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := app.settings
		fmt.Printf("log-level:      %s\n", orDefault(s.LogLevel, "info"))
		fmt.Printf("json-logs:      %v\n", s.JSONLogs)
		fmt.Printf("default-device: %s\n", orDefault(s.DefaultDevice, "(auto)"))
		fmt.Printf("settle-millis:  %d\n", s.SettleMillisOrDefault())
		fmt.Printf("hash-psk:       %v\n", s.HashPsk)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := app.settings
		key, value := args[0], args[1]
		switch key {
		case "log-level":
			s.LogLevel = value
		case "json-logs":
			v, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			s.JSONLogs = v
		case "default-device":
			s.DefaultDevice = value
		case "settle-millis":
			v, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			s.SettleMillis = v
		case "hash-psk":
			v, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			s.HashPsk = v
		default:
			return fmt.Errorf("unknown setting %q", key)
		}
		if err := s.Save(); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", key, value)
		return nil
	},
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
}
