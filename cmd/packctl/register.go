package main

import (
	"fmt"
	"strconv"

	"github.com/modbatt/packctl/pkg/protocol"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <unique-id>",
	Short: "Manually register a module by its 32-bit unique id",
	Long: `register simulates the first half of the registration handshake
(§4.3 transitions 1 and 2) for a module identified by its factory unique
id, for bench use when a physical module's own Announcement can't be
relied on. The unique id may be decimal or 0x-prefixed hex.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

func init() { rootCmd.AddCommand(registerCmd) }

func runRegister(cmd *cobra.Command, args []string) error {
	uid, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("unique-id: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	bus, err := dialBus(cfg)
	if err != nil {
		return driverErr(err)
	}
	defer bus.Close()

	ctrl, err := newController()
	if err != nil {
		return driverErr(err)
	}

	id, err := ctrl.Registration.HandleAnnouncement(protocol.Announcement{
		Module:   protocol.Unregistered,
		UniqueID: uint32(uid),
	})
	if err != nil {
		return driverErr(err)
	}
	if _, err := ctrl.Queue.Tick(cmd.Context(), bus); err != nil {
		return driverErr(fmt.Errorf("send registration ack: %w", err))
	}

	fmt.Printf("packctl: unique id 0x%08X assigned module %d (registered)\n", uid, id)
	return nil
}
