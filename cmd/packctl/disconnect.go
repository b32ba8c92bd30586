package main

import (
	"fmt"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/spf13/cobra"
)

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Bring down the CAN link",
	Long: `disconnect clears IFF_UP on the configured CAN interface. Each
packctl invocation is a fresh process with no state carried over from a
previous "connect", so this only affects the interface itself.`,
	RunE: runDisconnect,
}

func init() { rootCmd.AddCommand(disconnectCmd) }

func runDisconnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	name := ifaceName(cfg)
	if err := canbus.SetInterfaceDown(name); err != nil {
		return driverErr(canbus.RequireRootOrCapNetAdmin(err))
	}
	fmt.Printf("packctl: %s is down\n", name)
	return nil
}
