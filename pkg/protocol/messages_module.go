package protocol

import (
	"encoding/binary"

	"github.com/modbatt/packctl/pkg/canbus"
)

// Announcement is sent by an unregistered module (0x500, module field 0xFF)
// to request assignment of a module id.
type Announcement struct {
	Module    ModuleID
	FwVerLo   uint8
	FwVerHi   uint8
	MfgID     uint8
	PartID    uint8
	UniqueID  uint32
}

func (a Announcement) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = a.FwVerLo
	data[1] = a.FwVerHi
	data[2] = a.MfgID
	data[3] = a.PartID
	binary.LittleEndian.PutUint32(data[4:8], a.UniqueID)
	return canbus.Frame{ID: EncodeExtID(BaseAnnouncement, a.Module), Extended: true, Len: 8, Data: data}, nil
}

func (a *Announcement) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseAnnouncement {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	a.Module = module
	a.FwVerLo = f.Data[0]
	a.FwVerHi = f.Data[1]
	a.MfgID = f.Data[2]
	a.PartID = f.Data[3]
	a.UniqueID = binary.LittleEndian.Uint32(f.Data[4:8])
	return nil
}

// Hardware reports a module's static capabilities (0x501). Fields are raw
// values — the spec gives no scaling for this message.
type Hardware struct {
	Module         ModuleID
	MaxChargeA     uint16
	MaxDischargeA  uint16
	MaxChargeV     uint16
	HwVersion      uint16
}

func (h Hardware) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	binary.LittleEndian.PutUint16(data[0:2], h.MaxChargeA)
	binary.LittleEndian.PutUint16(data[2:4], h.MaxDischargeA)
	binary.LittleEndian.PutUint16(data[4:6], h.MaxChargeV)
	binary.LittleEndian.PutUint16(data[6:8], h.HwVersion)
	return canbus.Frame{ID: EncodeExtID(BaseHardware, h.Module), Extended: true, Len: 8, Data: data}, nil
}

func (h *Hardware) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseHardware {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	h.Module = module
	h.MaxChargeA = binary.LittleEndian.Uint16(f.Data[0:2])
	h.MaxDischargeA = binary.LittleEndian.Uint16(f.Data[2:4])
	h.MaxChargeV = binary.LittleEndian.Uint16(f.Data[4:6])
	h.HwVersion = binary.LittleEndian.Uint16(f.Data[6:8])
	return nil
}

// Status1 is a module's primary periodic status report (0x502).
//
// StateNibble occupies the low nibble of byte 0 and StatusNibble the high
// nibble; the module reports its own fault status there per §4.9 — the
// controller never forces it.
type Status1 struct {
	Module       ModuleID
	StateNibble  uint8
	StatusNibble uint8
	SOC          uint8 // raw; use DecodePercent for %
	SOH          uint8 // raw; use DecodePercent for %
	CellCount    uint8
	Current      uint16 // raw; use DecodeModuleCurrent for amps
	Voltage      uint16 // raw; use DecodeModuleVoltage for volts
}

func (s Status1) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = (s.StatusNibble << 4) | (s.StateNibble & 0x0F)
	data[1] = s.SOC
	data[2] = s.SOH
	data[3] = s.CellCount
	binary.LittleEndian.PutUint16(data[4:6], s.Current)
	binary.LittleEndian.PutUint16(data[6:8], s.Voltage)
	return canbus.Frame{ID: EncodeExtID(BaseStatus1, s.Module), Extended: true, Len: 8, Data: data}, nil
}

func (s *Status1) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseStatus1 {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	s.Module = module
	s.StateNibble = f.Data[0] & 0x0F
	s.StatusNibble = (f.Data[0] >> 4) & 0x0F
	s.SOC = f.Data[1]
	s.SOH = f.Data[2]
	s.CellCount = f.Data[3]
	s.Current = binary.LittleEndian.Uint16(f.Data[4:6])
	s.Voltage = binary.LittleEndian.Uint16(f.Data[6:8])
	return nil
}

// Status2 carries per-module cell voltage aggregates (0x503).
type Status2 struct {
	Module   ModuleID
	CellLo   uint16 // raw; DecodeCellVoltage
	CellHi   uint16 // raw; DecodeCellVoltage
	CellAvg  uint16 // raw; DecodeCellVoltage
	CellTotal uint16 // raw; DecodeCellTotalVoltage
}

func (s Status2) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	binary.LittleEndian.PutUint16(data[0:2], s.CellLo)
	binary.LittleEndian.PutUint16(data[2:4], s.CellHi)
	binary.LittleEndian.PutUint16(data[4:6], s.CellAvg)
	binary.LittleEndian.PutUint16(data[6:8], s.CellTotal)
	return canbus.Frame{ID: EncodeExtID(BaseStatus2, s.Module), Extended: true, Len: 8, Data: data}, nil
}

func (s *Status2) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseStatus2 {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	s.Module = module
	s.CellLo = binary.LittleEndian.Uint16(f.Data[0:2])
	s.CellHi = binary.LittleEndian.Uint16(f.Data[2:4])
	s.CellAvg = binary.LittleEndian.Uint16(f.Data[4:6])
	s.CellTotal = binary.LittleEndian.Uint16(f.Data[6:8])
	return nil
}

// Status3 carries per-module cell temperature aggregates (0x504).
type Status3 struct {
	Module   ModuleID
	TempLo   uint16 // raw; DecodeTemperature
	TempHi   uint16 // raw; DecodeTemperature
	TempAvg  uint16 // raw; DecodeTemperature
	Reserved uint16
}

func (s Status3) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	binary.LittleEndian.PutUint16(data[0:2], s.TempLo)
	binary.LittleEndian.PutUint16(data[2:4], s.TempHi)
	binary.LittleEndian.PutUint16(data[4:6], s.TempAvg)
	binary.LittleEndian.PutUint16(data[6:8], s.Reserved)
	return canbus.Frame{ID: EncodeExtID(BaseStatus3, s.Module), Extended: true, Len: 8, Data: data}, nil
}

func (s *Status3) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseStatus3 {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	s.Module = module
	s.TempLo = binary.LittleEndian.Uint16(f.Data[0:2])
	s.TempHi = binary.LittleEndian.Uint16(f.Data[2:4])
	s.TempAvg = binary.LittleEndian.Uint16(f.Data[4:6])
	s.Reserved = binary.LittleEndian.Uint16(f.Data[6:8])
	return nil
}

// Detail is a per-cell telemetry reply to a DetailReq (0x505).
type Detail struct {
	Module            ModuleID
	CellID            uint8
	CellCountExpected uint8
	Temp              uint16 // raw; DecodeTemperature
	Volt              uint16 // raw; DecodeCellVoltage
	CellSOC           uint8  // raw; DecodePercent
	CellSOH           uint8  // raw; DecodePercent
}

func (d Detail) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = d.CellID
	data[1] = d.CellCountExpected
	binary.LittleEndian.PutUint16(data[2:4], d.Temp)
	binary.LittleEndian.PutUint16(data[4:6], d.Volt)
	data[6] = d.CellSOC
	data[7] = d.CellSOH
	return canbus.Frame{ID: EncodeExtID(BaseDetail, d.Module), Extended: true, Len: 8, Data: data}, nil
}

func (d *Detail) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseDetail {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	d.Module = module
	d.CellID = f.Data[0]
	d.CellCountExpected = f.Data[1]
	d.Temp = binary.LittleEndian.Uint16(f.Data[2:4])
	d.Volt = binary.LittleEndian.Uint16(f.Data[4:6])
	d.CellSOC = f.Data[6]
	d.CellSOH = f.Data[7]
	return nil
}

// TimeRequest asks the Pack for wall-clock time (0x506). It carries no
// payload.
type TimeRequest struct {
	Module ModuleID
}

func (t TimeRequest) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeExtID(BaseTimeRequest, t.Module), Extended: true, Len: 0}, nil
}

func (t *TimeRequest) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseTimeRequest {
		return unknownIDErr(f.ID)
	}
	t.Module = module
	return nil
}

// CellCommStatus1 reports the module's internal cell-bus health (0x507).
type CellCommStatus1 struct {
	Module           ModuleID
	CellCountMin     uint8
	CellCountMax     uint8
	I2CErrors        uint16
	McRxFramingErrs  uint8
	FirstErrCell     uint8
	Reserved         uint16
}

func (c CellCommStatus1) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = c.CellCountMin
	data[1] = c.CellCountMax
	binary.LittleEndian.PutUint16(data[2:4], c.I2CErrors)
	data[4] = c.McRxFramingErrs
	data[5] = c.FirstErrCell
	binary.LittleEndian.PutUint16(data[6:8], c.Reserved)
	return canbus.Frame{ID: EncodeExtID(BaseCellCommStatus1, c.Module), Extended: true, Len: 8, Data: data}, nil
}

func (c *CellCommStatus1) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseCellCommStatus1 {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	c.Module = module
	c.CellCountMin = f.Data[0]
	c.CellCountMax = f.Data[1]
	c.I2CErrors = binary.LittleEndian.Uint16(f.Data[2:4])
	c.McRxFramingErrs = f.Data[4]
	c.FirstErrCell = f.Data[5]
	c.Reserved = binary.LittleEndian.Uint16(f.Data[6:8])
	return nil
}
