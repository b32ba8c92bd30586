package main

import (
	"fmt"
	"os"

	"github.com/modbatt/packctl/pkg/engine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export controller state (history <path>)",
}

var exportHistoryCmd = &cobra.Command{
	Use:   "history <path>",
	Short: "Write a point-in-time snapshot of the fleet to a YAML file",
	Long: `export history writes the pack aggregates (voltage, current, SOC)
and every registered module's last-known telemetry to the given path. A
fresh packctl process holds no registry state from an earlier "connect",
so this is most useful as a companion flag on a long-running connect
session rather than run standalone.`,
	Args: cobra.ExactArgs(1),
	RunE: runExportHistory,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportHistoryCmd)
}

type exportedModule struct {
	Module           int       `yaml:"module"`
	State            string    `yaml:"observed_state"`
	Voltage          float64   `yaml:"voltage"`
	Current          float64   `yaml:"current"`
	SOC              float64   `yaml:"soc"`
	SOH              float64   `yaml:"soh"`
	CellVoltages     []float64 `yaml:"cell_voltages,omitempty"`
	CellTemperatures []float64 `yaml:"cell_temperatures,omitempty"`
}

type exportedSnapshot struct {
	PackVoltage float64          `yaml:"pack_voltage"`
	PackCurrent float64          `yaml:"pack_current"`
	PackSOC     float64          `yaml:"pack_soc"`
	Modules     []exportedModule `yaml:"modules"`
}

func snapshot(ctrl *engine.Controller) exportedSnapshot {
	doc := exportedSnapshot{
		PackVoltage: ctrl.Registry.PackVoltage(),
		PackCurrent: ctrl.Registry.PackCurrent(),
		PackSOC:     ctrl.Registry.PackSOC(),
	}
	for _, id := range ctrl.Registry.Registered() {
		slot := ctrl.Registry.Slot(id)
		if slot == nil {
			continue
		}
		doc.Modules = append(doc.Modules, exportedModule{
			Module:           int(id),
			State:            slot.ObservedState.String(),
			Voltage:          slot.Voltage,
			Current:          slot.Current,
			SOC:              slot.SOC,
			SOH:              slot.SOH,
			CellVoltages:     slot.CellVoltages,
			CellTemperatures: slot.CellTemperatures,
		})
	}
	return doc
}

func runExportHistory(cmd *cobra.Command, args []string) error {
	ctrl, err := newController()
	if err != nil {
		return driverErr(err)
	}

	data, err := yaml.Marshal(snapshot(ctrl))
	if err != nil {
		return driverErr(err)
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return driverErr(fmt.Errorf("write %s: %w", args[0], err))
	}
	fmt.Printf("packctl: wrote snapshot of %d module(s) to %s\n", len(ctrl.Registry.Registered()), args[0])
	return nil
}
