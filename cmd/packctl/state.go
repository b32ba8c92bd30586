package main

import (
	"fmt"
	"strings"

	"github.com/modbatt/packctl/pkg/protocol"
	"github.com/spf13/cobra"
)

var setStateCmd = &cobra.Command{
	Use:   "set-state <id|all> <off|standby|precharge|on>",
	Short: "Latch a StateChange command for one module or every module",
	Long: `set-state latches priority 1 of the outbound command queue, the
safety-critical per-module state command, and ticks the queue once to
send it. "all" addresses the broadcast module id rather than every slot
individually, matching how StateChange is defined on the wire.`,
	Args: cobra.ExactArgs(2),
	RunE: runSetState,
}

var isolateAllCmd = &cobra.Command{
	Use:   "isolate-all",
	Short: "Broadcast AllIsolate, commanding every module to isolate",
	Long: `isolate-all sends AllIsolate (0x51F) directly; like Deregister and
AllDeregister it has no dedicated class in the seven-priority outbound
queue, so it is transmitted immediately rather than latched.`,
	RunE: runIsolateAll,
}

func init() {
	rootCmd.AddCommand(setStateCmd)
	rootCmd.AddCommand(isolateAllCmd)
}

func parseModuleState(s string) (protocol.ModuleState, error) {
	switch strings.ToLower(s) {
	case "off":
		return protocol.StateOff, nil
	case "standby":
		return protocol.StateStandby, nil
	case "precharge":
		return protocol.StatePrecharge, nil
	case "on":
		return protocol.StateOn, nil
	default:
		return 0, fmt.Errorf("state: %q is not one of off|standby|precharge|on", s)
	}
}

func runSetState(cmd *cobra.Command, args []string) error {
	var module protocol.ModuleID
	if strings.EqualFold(args[0], "all") {
		module = protocol.Broadcast
	} else {
		id, err := parseModuleID(args[0])
		if err != nil {
			return err
		}
		module = id
	}

	state, err := parseModuleState(args[1])
	if err != nil {
		return err
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

	ctrl.Queue.LatchStateChange(module, state)
	if _, err := ctrl.Queue.Tick(cmd.Context(), bus); err != nil {
		return driverErr(fmt.Errorf("send StateChange: %w", err))
	}
	fmt.Printf("packctl: commanded module %d to %s\n", module, state)
	return nil
}

func runIsolateAll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	bus, err := dialBus(cfg)
	if err != nil {
		return driverErr(err)
	}
	defer bus.Close()

	f, err := protocol.AllIsolate{}.MarshalCANFrame()
	if err != nil {
		return driverErr(err)
	}
	if err := bus.Send(cmd.Context(), f); err != nil {
		return driverErr(fmt.Errorf("send AllIsolate: %w", err))
	}
	fmt.Println("packctl: commanded every module to isolate")
	return nil
}
