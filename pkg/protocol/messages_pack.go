package protocol

import (
	"encoding/binary"

	"github.com/modbatt/packctl/pkg/canbus"
)

// Registration acknowledges an announcement and assigns a module id (0x510).
// The assigned id is carried both in the extended identifier's module field
// and, redundantly, as the first payload byte — §4.3's worked example
// confirms the extended-ID field carries the assigned id, not the
// unregistered sentinel, despite the assigned id still being unknown to the
// module until this frame arrives.
type Registration struct {
	AssignedID  ModuleID
	ControllerID uint8
	MfgID       uint8
	PartID      uint8
	UniqueID    uint32
}

func (r Registration) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = uint8(r.AssignedID)
	data[1] = r.ControllerID
	data[2] = r.MfgID
	data[3] = r.PartID
	binary.LittleEndian.PutUint32(data[4:8], r.UniqueID)
	return canbus.Frame{ID: EncodeExtID(BaseRegistration, r.AssignedID), Extended: true, Len: 8, Data: data}, nil
}

func (r *Registration) UnmarshalCANFrame(f canbus.Frame) error {
	base, _ := DecodeExtID(f.ID)
	if base != BaseRegistration {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	r.AssignedID = ModuleID(f.Data[0])
	r.ControllerID = f.Data[1]
	r.MfgID = f.Data[2]
	r.PartID = f.Data[3]
	r.UniqueID = binary.LittleEndian.Uint32(f.Data[4:8])
	return nil
}

// HardwareReq asks a module to report its Hardware capabilities (0x511).
type HardwareReq struct{ Module ModuleID }

func (r HardwareReq) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeExtID(BaseHardwareReq, r.Module), Extended: true, Len: 0}, nil
}

func (r *HardwareReq) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseHardwareReq {
		return unknownIDErr(f.ID)
	}
	r.Module = module
	return nil
}

// StatusReq requests a module's status frames (0x512). The payload is
// conventionally 0x01, meaning "request all".
type StatusReq struct {
	Module ModuleID
	Want   uint8
}

func (r StatusReq) MarshalCANFrame() (canbus.Frame, error) {
	want := r.Want
	if want == 0 {
		want = 0x01
	}
	return canbus.Frame{ID: EncodeExtID(BaseStatusReq, r.Module), Extended: true, Len: 1, Data: [8]byte{want}}, nil
}

func (r *StatusReq) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseStatusReq {
		return unknownIDErr(f.ID)
	}
	if f.Len < 1 {
		return truncatedErr(f.ID, 1, int(f.Len))
	}
	r.Module = module
	r.Want = f.Data[0]
	return nil
}

// StateChange commands a module (or all modules, via Broadcast) into a new
// ModuleState (0x514).
type StateChange struct {
	Module ModuleID
	State  ModuleState
}

func (c StateChange) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeExtID(BaseStateChange, c.Module), Extended: true, Len: 1, Data: [8]byte{byte(c.State)}}, nil
}

func (c *StateChange) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseStateChange {
		return unknownIDErr(f.ID)
	}
	if f.Len < 1 {
		return truncatedErr(f.ID, 1, int(f.Len))
	}
	c.Module = module
	c.State = ModuleState(f.Data[0])
	return nil
}

// DetailReq requests per-cell telemetry for a single cell (0x515).
type DetailReq struct {
	Module ModuleID
	CellID uint8
}

func (r DetailReq) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeExtID(BaseDetailReq, r.Module), Extended: true, Len: 1, Data: [8]byte{r.CellID}}, nil
}

func (r *DetailReq) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseDetailReq {
		return unknownIDErr(f.ID)
	}
	if f.Len < 1 {
		return truncatedErr(f.ID, 1, int(f.Len))
	}
	r.Module = module
	r.CellID = f.Data[0]
	return nil
}

// SetTime broadcasts wall-clock time (0x516). Two wire forms exist: the
// 5-byte BCD form (YY MM DD HH mm) this package always encodes, and a legacy
// 0xFF-tagged 4-byte big-endian epoch-seconds form this package only decodes
// (see DESIGN.md's Open Question decision).
type SetTime struct {
	// BCD form.
	YearBCD, MonthBCD, DayBCD, HourBCD, MinuteBCD uint8
	// Legacy decode-only form.
	Legacy         bool
	EpochSeconds   uint32
}

func (t SetTime) MarshalCANFrame() (canbus.Frame, error) {
	data := [8]byte{t.YearBCD, t.MonthBCD, t.DayBCD, t.HourBCD, t.MinuteBCD}
	return canbus.Frame{ID: EncodeExtID(BaseSetTime, Broadcast), Extended: true, Len: 5, Data: data}, nil
}

func (t *SetTime) UnmarshalCANFrame(f canbus.Frame) error {
	base, _ := DecodeExtID(f.ID)
	if base != BaseSetTime {
		return unknownIDErr(f.ID)
	}
	if f.Data[0] == 0xFF {
		if f.Len < 5 {
			return truncatedErr(f.ID, 5, int(f.Len))
		}
		t.Legacy = true
		t.EpochSeconds = binary.BigEndian.Uint32(f.Data[1:5])
		return nil
	}
	if f.Len < 5 {
		return truncatedErr(f.ID, 5, int(f.Len))
	}
	t.Legacy = false
	t.YearBCD = f.Data[0]
	t.MonthBCD = f.Data[1]
	t.DayBCD = f.Data[2]
	t.HourBCD = f.Data[3]
	t.MinuteBCD = f.Data[4]
	return nil
}

// MaxState broadcasts the highest commanded state across all slots (0x517).
type MaxState struct {
	MaxStateAllowed ModuleState
}

func (m MaxState) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeExtID(BaseMaxState, Broadcast), Extended: true, Len: 1, Data: [8]byte{byte(m.MaxStateAllowed)}}, nil
}

func (m *MaxState) UnmarshalCANFrame(f canbus.Frame) error {
	base, _ := DecodeExtID(f.ID)
	if base != BaseMaxState {
		return unknownIDErr(f.ID)
	}
	if f.Len < 1 {
		return truncatedErr(f.ID, 1, int(f.Len))
	}
	m.MaxStateAllowed = ModuleState(f.Data[0])
	return nil
}

// Deregister removes a single module from the registry (0x518).
type Deregister struct{ Module ModuleID }

func (d Deregister) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeExtID(BaseDeregister, d.Module), Extended: true, Len: 0}, nil
}

func (d *Deregister) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseDeregister {
		return unknownIDErr(f.ID)
	}
	d.Module = module
	return nil
}

// AnnounceReq asks any unregistered module to announce itself (0x51D).
type AnnounceReq struct{}

func (a AnnounceReq) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeExtID(BaseAnnounceReq, Unregistered), Extended: true, Len: 0}, nil
}

func (a *AnnounceReq) UnmarshalCANFrame(f canbus.Frame) error {
	base, _ := DecodeExtID(f.ID)
	if base != BaseAnnounceReq {
		return unknownIDErr(f.ID)
	}
	return nil
}

// AllDeregister clears the entire registry (0x51E).
type AllDeregister struct{}

func (a AllDeregister) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeExtID(BaseAllDeregister, Broadcast), Extended: true, Len: 0}, nil
}

func (a *AllDeregister) UnmarshalCANFrame(f canbus.Frame) error {
	base, _ := DecodeExtID(f.ID)
	if base != BaseAllDeregister {
		return unknownIDErr(f.ID)
	}
	return nil
}

// AllIsolate commands every module to isolate (0x51F).
type AllIsolate struct{}

func (a AllIsolate) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeExtID(BaseAllIsolate, Broadcast), Extended: true, Len: 0}, nil
}

func (a *AllIsolate) UnmarshalCANFrame(f canbus.Frame) error {
	base, _ := DecodeExtID(f.ID)
	if base != BaseAllIsolate {
		return unknownIDErr(f.ID)
	}
	return nil
}
