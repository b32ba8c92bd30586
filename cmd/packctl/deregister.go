package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/modbatt/packctl/pkg/protocol"
	"github.com/spf13/cobra"
)

var deregisterCmd = &cobra.Command{
	Use:   "deregister <id|all>",
	Short: "Deregister one module, or every registered module",
	Long: `deregister broadcasts the corresponding wire command (Deregister on
0x518, or AllDeregister on 0x51E for "all") and applies the same
Registered -> Absent transition locally, so the command's effect is
visible immediately even if the addressed module never acts on the
frame.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeregister,
}

func init() { rootCmd.AddCommand(deregisterCmd) }

func runDeregister(cmd *cobra.Command, args []string) error {
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

	if strings.EqualFold(args[0], "all") {
		f, err := protocol.AllDeregister{}.MarshalCANFrame()
		if err != nil {
			return driverErr(err)
		}
		if err := bus.Send(cmd.Context(), f); err != nil {
			return driverErr(fmt.Errorf("send AllDeregister: %w", err))
		}
		ctrl.Registration.HandleAllDeregister()
		fmt.Println("packctl: deregistered every module")
		return nil
	}

	id, err := parseModuleID(args[0])
	if err != nil {
		return err
	}
	f, err := protocol.Deregister{Module: id}.MarshalCANFrame()
	if err != nil {
		return driverErr(err)
	}
	if err := bus.Send(cmd.Context(), f); err != nil {
		return driverErr(fmt.Errorf("send Deregister: %w", err))
	}
	ctrl.Registration.HandleDeregister(id)
	fmt.Printf("packctl: deregistered module %d\n", id)
	return nil
}

func parseModuleID(s string) (protocol.ModuleID, error) {
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("module id: %w", err)
	}
	id := protocol.ModuleID(n)
	if err := id.Validate(); err != nil {
		return 0, err
	}
	if id == protocol.Broadcast || id == protocol.Unregistered {
		return 0, fmt.Errorf("module id: 0x%02X is a reserved sentinel, not a module slot", uint8(id))
	}
	return id, nil
}
