// Package engine implements the Module Registry (C2), Registration State
// Machine (C3), Polling & Heartbeat Scheduler (C4), Outbound Command Queue
// (C5), and Timeout & Failure Monitor (C9): the CAN module-management
// protocol engine that ties together pkg/protocol's wire codecs with
// pkg/sdxfer, pkg/framexfer, and pkg/web4's bulk-transfer engines.
package engine

import (
	"fmt"
	"sync"

	"github.com/modbatt/packctl/pkg/protocol"
)

// MaxModules is the fixed number of permanent module slots, indexed 1..31.
const MaxModules = 31

// RegistryState is a module slot's place in the registration state
// machine (§4.3): Absent -> Discovering -> Registered -> Deregistering ->
// Absent. There is no dedicated FSM type beyond this: each slot holds its
// registration state as this value in its State field, and the
// transitions are methods on Registry and RegistrationHandler rather than
// a separately-modeled state machine.
type RegistryState uint8

const (
	Absent RegistryState = iota
	Discovering
	Registered
	Deregistering
)

func (s RegistryState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Discovering:
		return "discovering"
	case Registered:
		return "registered"
	case Deregistering:
		return "deregistering"
	default:
		return "unknown"
	}
}

// ModuleSlot is one of the 31 permanent registry entries.
type ModuleSlot struct {
	ID       protocol.ModuleID
	UniqueID uint32 // 0 means slot free

	State      RegistryState
	Responding bool

	ObservedState  protocol.ModuleState
	CommandedState protocol.ModuleState

	// Telemetry snapshot, updated by UpdateStatus1/2/3.
	Voltage float64
	Current float64
	SOC     float64
	SOH     float64

	CellVoltages    []float64
	CellTemperatures []float64

	CellVoltageMin, CellVoltageMax, CellVoltageAvg, CellVoltageTotal float64
	CellTempMin, CellTempMax, CellTempAvg                            float64

	MaxChargeA, MaxDischargeA, MaxChargeV uint16
	HwVersion                             uint16

	CellCountExpected, CellCountMin, CellCountMax uint8
	I2CErrors                                     uint16

	LastRxTick         uint32
	StatusRequestTick  uint32
	CellRequestTick    uint32

	AwaitingStatusReply bool
	AwaitingCellReply   bool

	MessageCount uint32
	ErrorCount   uint32

	// WEB4 key material, present once distributed, absent (all nil/empty)
	// until then — optional, per §3's "optional" annotation.
	KeyHalves     [][]byte
	ComponentID   []byte
}

// registered reports whether this slot currently counts as a live,
// addressable module for polling and pack-aggregate purposes.
func (s *ModuleSlot) registered() bool { return s.State == Registered }

// clearInFlight clears both awaiting-reply gates, used on deregistration,
// timeout, and link-down.
func (s *ModuleSlot) clearInFlight() {
	s.AwaitingStatusReply = false
	s.AwaitingCellReply = false
}

// Registry is the fixed table of 31 module slots.
type Registry struct {
	mu    sync.Mutex
	slots [MaxModules + 1]ModuleSlot // index 0 unused, 1..31 assigned
}

// ErrRegistryFull is returned by Register when every slot is occupied by
// a distinct unique id.
var ErrRegistryFull = fmt.Errorf("engine: registry full")

// NewRegistry constructs an empty registry with ids pre-assigned.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := 1; i <= MaxModules; i++ {
		r.slots[i].ID = protocol.ModuleID(i)
	}
	return r
}

// FindByUnique performs a linear scan over the 31 slots for a matching
// unique id, returning ok=false if none has that id (including free
// slots, whose unique id is 0 and so never matches a nonzero uid).
func (r *Registry) FindByUnique(uid uint32) (protocol.ModuleID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByUniqueLocked(uid)
}

func (r *Registry) findByUniqueLocked(uid uint32) (protocol.ModuleID, bool) {
	if uid == 0 {
		return 0, false
	}
	for i := 1; i <= MaxModules; i++ {
		if r.slots[i].UniqueID == uid {
			return protocol.ModuleID(i), true
		}
	}
	return 0, false
}

// Register returns the existing id if uid is already known, else
// allocates the smallest free id (the slot with UniqueID == 0). Fails
// with ErrRegistryFull if every slot holds a distinct nonzero uid.
func (r *Registry) Register(uid uint32) (protocol.ModuleID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.findByUniqueLocked(uid); ok {
		return id, nil
	}
	for i := 1; i <= MaxModules; i++ {
		if r.slots[i].UniqueID == 0 {
			r.slots[i].UniqueID = uid
			return protocol.ModuleID(i), nil
		}
	}
	return 0, ErrRegistryFull
}

// Slot returns a pointer to the slot for id, or nil if id is out of
// range. Callers hold this pointer only for the duration of one
// operation, per the single-writer-per-slot invariant (§5) — Registry
// itself does not serialize access to the returned pointer beyond what
// Registry's own methods do.
func (r *Registry) Slot(id protocol.ModuleID) *ModuleSlot {
	if id < 1 || int(id) > MaxModules {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return &r.slots[id]
}

// Deregister marks a slot no longer registered. unique_id is kept so the
// same physical module re-attaches to the same slot.
func (r *Registry) Deregister(id protocol.ModuleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(id)
	if s == nil {
		return
	}
	s.State = Absent
	s.Responding = false
	s.clearInFlight()
	s.CommandedState = protocol.StateOff
}

// DeregisterAll deregisters every slot; telemetry snapshots are retained.
func (r *Registry) DeregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 1; i <= MaxModules; i++ {
		s := &r.slots[i]
		s.State = Absent
		s.Responding = false
		s.clearInFlight()
		s.CommandedState = protocol.StateOff
	}
}

func (r *Registry) slot(id protocol.ModuleID) *ModuleSlot {
	if id < 1 || int(id) > MaxModules {
		return nil
	}
	return &r.slots[id]
}

// UpdateStatus1 applies a Status_1 frame to the owning slot.
func (r *Registry) UpdateStatus1(msg protocol.Status1) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(msg.Module)
	if s == nil {
		return
	}
	s.ObservedState = protocol.ModuleState(msg.StateNibble)
	s.SOC = protocol.DecodePercent(msg.SOC)
	s.SOH = protocol.DecodePercent(msg.SOH)
	s.Current = protocol.DecodeModuleCurrent(msg.Current)
	s.Voltage = protocol.DecodeModuleVoltage(msg.Voltage)
	if int(msg.CellCount) != len(s.CellVoltages) {
		s.CellVoltages = make([]float64, msg.CellCount)
		s.CellTemperatures = make([]float64, msg.CellCount)
	}
	s.finishUpdate(msg.Module)
	s.AwaitingStatusReply = false
}

// UpdateStatus2 applies a Status_2 (cell voltage aggregate) frame.
func (r *Registry) UpdateStatus2(msg protocol.Status2) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(msg.Module)
	if s == nil {
		return
	}
	s.CellVoltageMin = protocol.DecodeCellVoltage(msg.CellLo)
	s.CellVoltageMax = protocol.DecodeCellVoltage(msg.CellHi)
	s.CellVoltageAvg = protocol.DecodeCellVoltage(msg.CellAvg)
	s.CellVoltageTotal = protocol.DecodeCellTotalVoltage(msg.CellTotal)
	s.finishUpdate(msg.Module)
	s.AwaitingStatusReply = false
}

// UpdateStatus3 applies a Status_3 (cell temperature aggregate) frame.
func (r *Registry) UpdateStatus3(msg protocol.Status3) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(msg.Module)
	if s == nil {
		return
	}
	s.CellTempMin = protocol.DecodeTemperature(msg.TempLo)
	s.CellTempMax = protocol.DecodeTemperature(msg.TempHi)
	s.CellTempAvg = protocol.DecodeTemperature(msg.TempAvg)
	s.finishUpdate(msg.Module)
	s.AwaitingStatusReply = false
}

// UpdateHardware applies a Hardware capabilities frame.
func (r *Registry) UpdateHardware(msg protocol.Hardware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(msg.Module)
	if s == nil {
		return
	}
	s.MaxChargeA = msg.MaxChargeA
	s.MaxDischargeA = msg.MaxDischargeA
	s.MaxChargeV = msg.MaxChargeV
	s.HwVersion = msg.HwVersion
	s.finishUpdate(msg.Module)
}

// UpdateDetail applies a per-cell Detail reply, clearing the cell-reply
// in-flight gate.
func (r *Registry) UpdateDetail(msg protocol.Detail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(msg.Module)
	if s == nil {
		return
	}
	if int(msg.CellCountExpected) != len(s.CellVoltages) {
		s.CellVoltages = make([]float64, msg.CellCountExpected)
		s.CellTemperatures = make([]float64, msg.CellCountExpected)
	}
	if int(msg.CellID) < len(s.CellVoltages) {
		s.CellVoltages[msg.CellID] = protocol.DecodeCellVoltage(msg.Volt)
		s.CellTemperatures[msg.CellID] = protocol.DecodeTemperature(msg.Temp)
	}
	s.finishUpdate(msg.Module)
	s.AwaitingCellReply = false
}

// UpdateCellComm applies a CellCommStatus1 frame.
func (r *Registry) UpdateCellComm(msg protocol.CellCommStatus1) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(msg.Module)
	if s == nil {
		return
	}
	s.CellCountMin = msg.CellCountMin
	s.CellCountMax = msg.CellCountMax
	s.I2CErrors = msg.I2CErrors
	s.finishUpdate(msg.Module)
}

// finishUpdate applies the bookkeeping common to every update method.
// CellCountExpected latches the first nonzero reported count per §3's
// invariant ("once the first Status_1 with non-zero cell count has been
// received for that module").
func (s *ModuleSlot) finishUpdate(module protocol.ModuleID) {
	s.MessageCount++
	if s.CellCountExpected == 0 && len(s.CellVoltages) > 0 {
		s.CellCountExpected = uint8(len(s.CellVoltages))
	}
}

// PackVoltage sums voltage over registered, non-Off slots (§4.2).
func (r *Registry) PackVoltage() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total float64
	for i := 1; i <= MaxModules; i++ {
		s := &r.slots[i]
		if s.registered() && s.ObservedState != protocol.StateOff {
			total += s.Voltage
		}
	}
	return total
}

// PackCurrent returns the current with the largest magnitude over
// registered, non-Off slots (the parallel-pack convention).
func (r *Registry) PackCurrent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max float64
	for i := 1; i <= MaxModules; i++ {
		s := &r.slots[i]
		if !s.registered() || s.ObservedState == protocol.StateOff {
			continue
		}
		if abs(s.Current) > abs(max) {
			max = s.Current
		}
	}
	return max
}

// PackSOC returns the mean SOC over registered slots.
func (r *Registry) PackSOC() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	var n int
	for i := 1; i <= MaxModules; i++ {
		s := &r.slots[i]
		if s.registered() {
			sum += s.SOC
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Registered returns the ids of every currently registered slot, in
// ascending order.
func (r *Registry) Registered() []protocol.ModuleID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []protocol.ModuleID
	for i := 1; i <= MaxModules; i++ {
		if r.slots[i].registered() {
			ids = append(ids, protocol.ModuleID(i))
		}
	}
	return ids
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
