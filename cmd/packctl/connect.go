package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/engine"
	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Bring up the CAN link and run the controller loop",
	Long: `connect brings the configured CAN interface down, applies the
configured bit rate, brings it back up, dials it, and runs the Pack
Controller's dispatch/poll/heartbeat loop in the foreground until
interrupted (Ctrl+C) or the bus reports a persistent failure.

Exit codes:
  0 - interrupted cleanly
  1 - CAN driver, transport, or engine failure
  2 - bad arguments`,
	RunE: runConnect,
}

func init() { rootCmd.AddCommand(connectCmd) }

func runConnect(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("packctl: connected on %s @ %d bps\n", ifaceName(cfg), cfg.CAN.BaudRate)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := runConnectLoop(ctx, bus, ctrl); err != nil {
		return driverErr(err)
	}
	return nil
}

// runConnectLoop reads frames off the bus and dispatches them, ticks the
// command queue and scheduler on a fast cadence, and sweeps the timeout
// monitor on a slow one, until ctx is cancelled or the bus dies.
func runConnectLoop(ctx context.Context, bus canbus.Bus, ctrl *engine.Controller) error {
	start := time.Now()
	nowTick := func() uint32 { return uint32(time.Since(start).Milliseconds()) }

	frames := make(chan canbus.Frame)
	recvErrs := make(chan error, 1)
	go func() {
		for {
			f, err := bus.Receive(ctx)
			if err != nil {
				recvErrs <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-recvErrs:
			ctrl.LinkDown()
			return fmt.Errorf("bus receive: %w", err)

		case f := <-frames:
			if err := ctrl.Dispatch(ctx, bus, f, nowTick()); err != nil {
				fmt.Fprintln(os.Stderr, "dispatch:", err)
			}

		case <-tick.C:
			if err := ctrl.Tick(ctx, bus, nowTick()); err != nil {
				fmt.Fprintln(os.Stderr, "tick:", err)
			}

		case <-sweep.C:
			for _, fault := range ctrl.Timeouts.Sweep(nowTick()) {
				fmt.Printf("fault: module=%d kind=%d cell=%d value=%.2f\n",
					fault.Module, fault.Kind, fault.CellID, fault.Value)
			}
		}
	}
}
