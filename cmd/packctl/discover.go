package main

import (
	"fmt"
	"time"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/engine"
	"github.com/spf13/cobra"
)

var discoverDuration time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Drive module discovery (start|stop)",
}

var discoverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Broadcast an announce-request and report modules that respond",
	Long: `discover start latches a broadcast AnnounceReq (priority 7 of the
outbound command queue), then listens for Announcement frames and reports
each module as it moves through the registration state machine, for the
given duration.`,
	RunE: runDiscoverStart,
}

var discoverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "No-op: discovery already stops when \"discover start\" exits",
	Long: `packctl has no long-running daemon for "discover start" to signal:
every invocation is its own process, and discovery already ends when
that process's --duration elapses or it is interrupted. "discover stop"
exists to round out the command pair and always succeeds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("packctl: discovery is not running as a background process; nothing to stop")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.AddCommand(discoverStartCmd, discoverStopCmd)
	discoverStartCmd.Flags().DurationVar(&discoverDuration, "duration", 5*time.Second, "how long to listen for announcements")
}

func runDiscoverStart(cmd *cobra.Command, args []string) error {
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
	ctrl.Queue.LatchAnnounceRequest()

	ctx := cmd.Context()
	start := time.Now()
	nowTick := func() uint32 { return uint32(time.Since(start).Milliseconds()) }
	deadline := time.After(discoverDuration)

	seen := map[int]bool{}
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	frames := make(chan canbus.Frame)
	recvErrs := make(chan error, 1)
	go func() {
		for {
			f, err := bus.Receive(ctx)
			if err != nil {
				recvErrs <- err
				return
			}
			frames <- f
		}
	}()

	fmt.Printf("packctl: discovering for %s...\n", discoverDuration)
	for {
		select {
		case <-deadline:
			reportDiscovered(ctrl)
			return nil
		case err := <-recvErrs:
			return driverErr(fmt.Errorf("bus receive: %w", err))
		case f := <-frames:
			if err := ctrl.Dispatch(ctx, bus, f, nowTick()); err != nil {
				fmt.Println("dispatch:", err)
				continue
			}
			for _, id := range ctrl.Registry.Registered() {
				if !seen[int(id)] {
					seen[int(id)] = true
					fmt.Printf("  discovered module %d\n", id)
				}
			}
		case <-tick.C:
			if err := ctrl.Tick(ctx, bus, nowTick()); err != nil {
				fmt.Println("tick:", err)
			}
		}
	}
}

func reportDiscovered(ctrl *engine.Controller) {
	ids := ctrl.Registry.Registered()
	fmt.Printf("packctl: %d module(s) registered\n", len(ids))
	for _, id := range ids {
		fmt.Printf("  module %d\n", id)
	}
}
