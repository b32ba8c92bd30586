package engine

import "github.com/modbatt/packctl/pkg/protocol"

// TStatusHardMs is the default duration a module may sit with an
// outstanding Status Request before it is declared lost (§4.9, C9).
const TStatusHardMs = 5000

// Fault thresholds (§4.9). The undervoltage floor is suppressed below
// MinPlausibleCellVoltage to avoid flagging a disconnected or not-yet-
// reporting cell (voltage reads 0) as undervoltage.
const (
	CellUndervoltageV       = 2.5
	CellOvervoltageV        = 4.2
	CellOvertemperatureC    = 60.0
	MinPlausibleCellVoltage = 0.1
)

// FaultKind enumerates the fault categories the monitor can emit.
type FaultKind uint8

const (
	FaultNonResponding FaultKind = iota
	FaultCellUndervoltage
	FaultCellOvervoltage
	FaultCellOvertemperature
)

// Fault is one detected condition, reported but never acted on directly —
// the monitor observes and emits; it never forces a module's state.
type Fault struct {
	Kind   FaultKind
	Module protocol.ModuleID
	CellID int // -1 when not cell-specific
	Value  float64
}

// TimeoutMonitor implements the Timeout & Failure Monitor (C9): a periodic
// sweep that declares lost modules absent, clears a stalled cell-detail
// poll so it can retry, and emits (without acting on) cell and module
// fault conditions.
type TimeoutMonitor struct {
	registry             *Registry
	registrationHooks    *RegistrationHandler
	statusHardTimeoutMs  uint32
	cellDetailDeadlineMs uint32
}

// NewTimeoutMonitor constructs a monitor over the given registry, using
// handler to carry out the Registered -> Absent transition on timeout.
// cellDetailDeadlineMs of 0 falls back to DefaultCellDetailDeadlineMs
// (§4.4's 200ms cell-detail reply deadline).
func NewTimeoutMonitor(registry *Registry, handler *RegistrationHandler, statusHardTimeoutMs, cellDetailDeadlineMs uint32) *TimeoutMonitor {
	if statusHardTimeoutMs == 0 {
		statusHardTimeoutMs = TStatusHardMs
	}
	if cellDetailDeadlineMs == 0 {
		cellDetailDeadlineMs = DefaultCellDetailDeadlineMs
	}
	return &TimeoutMonitor{
		registry:             registry,
		registrationHooks:    handler,
		statusHardTimeoutMs:  statusHardTimeoutMs,
		cellDetailDeadlineMs: cellDetailDeadlineMs,
	}
}

// Sweep runs once per invocation (nominally 1Hz): declares any module whose
// outstanding status request has exceeded the hard timeout as lost, and
// returns every fault condition observed across the registered modules.
// The caller decides what to do with the returned faults (log, surface to
// a UI, etc.) — Sweep itself never forces a module's commanded state.
func (m *TimeoutMonitor) Sweep(nowTick uint32) []Fault {
	var faults []Fault
	for _, id := range m.registry.Registered() {
		slot := m.registry.Slot(id)
		if slot == nil {
			continue
		}
		if slot.AwaitingStatusReply && nowTick-slot.StatusRequestTick > m.statusHardTimeoutMs {
			faults = append(faults, Fault{Kind: FaultNonResponding, Module: id, CellID: -1})
			m.registrationHooks.HandleTimeout(id)
			continue
		}
		if slot.AwaitingCellReply && nowTick-slot.CellRequestTick > m.cellDetailDeadlineMs {
			slot.AwaitingCellReply = false
		}
		faults = append(faults, cellFaults(slot)...)
	}
	return faults
}

// cellFaults scans one module's last-known per-cell telemetry for
// threshold violations.
func cellFaults(slot *ModuleSlot) []Fault {
	var faults []Fault
	for i, v := range slot.CellVoltages {
		if v > MinPlausibleCellVoltage && v < CellUndervoltageV {
			faults = append(faults, Fault{Kind: FaultCellUndervoltage, Module: slot.ID, CellID: i, Value: v})
		}
		if v > CellOvervoltageV {
			faults = append(faults, Fault{Kind: FaultCellOvervoltage, Module: slot.ID, CellID: i, Value: v})
		}
	}
	for i, t := range slot.CellTemperatures {
		if t > CellOvertemperatureC {
			faults = append(faults, Fault{Kind: FaultCellOvertemperature, Module: slot.ID, CellID: i, Value: t})
		}
	}
	return faults
}
