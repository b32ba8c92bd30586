package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var distributeKeysCmd = &cobra.Command{
	Use:   "distribute-keys <id>",
	Short: "Record WEB4 key material as distributed to a module",
	Long: `distribute-keys takes whatever WEB4 key material the pack
controller has already received from the VCU (§6.1.4's PackDevice,
AppDevice, and ComponentIds slots, all three required) and records it on
the named module's registry slot. WEB4's wire format carries no
module-addressed field — it is a single VCU<->pack-controller channel —
so this is local bookkeeping, not a frame transmission; provisioning the
physical module over its own side channel is outside this tool.`,
	Args: cobra.ExactArgs(1),
	RunE: runDistributeKeys,
}

func init() { rootCmd.AddCommand(distributeKeysCmd) }

func runDistributeKeys(cmd *cobra.Command, args []string) error {
	id, err := parseModuleID(args[0])
	if err != nil {
		return err
	}

	ctrl, err := newController()
	if err != nil {
		return driverErr(err)
	}

	if err := ctrl.DistributeKeys(id); err != nil {
		return driverErr(err)
	}
	fmt.Printf("packctl: key material recorded as distributed to module %d\n", id)
	return nil
}
