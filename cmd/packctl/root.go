package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath  string
	channelFlag int
	baudFlag    string
	keysPath    string
)

var rootCmd = &cobra.Command{
	Use:   "packctl",
	Short: "Operator CLI for the battery Pack Controller",
	Long: `packctl drives the Pack Controller's CAN module-management protocol
engine: module discovery, registration, cooperative state broadcast,
telemetry polling, and the WEB4 key-distribution side channel.

Connection is configured by a YAML file (--config) or by --channel/--baud
overrides for ad-hoc use on the bench. Most commands are one-shot: they
open the bus, perform the requested action, and exit. "connect" is the
exception — it runs the controller's poll/heartbeat/timeout loop in the
foreground until interrupted.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a packctl.yaml config file")
	rootCmd.PersistentFlags().IntVar(&channelFlag, "channel", -1, "CAN channel index, overrides config (binds to canN)")
	rootCmd.PersistentFlags().StringVar(&baudFlag, "baud", "", "CAN baud rate: 125k|250k|500k|1m, overrides config")
	rootCmd.PersistentFlags().StringVar(&keysPath, "keys", "packctl-keys.dat", "path to the nvstore-backed WEB4 key/frame-counter record")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
