package protocol

import (
	"encoding/binary"

	"github.com/modbatt/packctl/pkg/canbus"
)

// Sector transfer command/status codes, §4.6.
const (
	SDCmdRequest  uint8 = 0x01
	SDCmdWindowAck uint8 = 0x02
	SDCmdStatus   uint8 = 0x03
)

// SDWindowStatus is the outcome byte a Window ACK carries.
type SDWindowStatus uint8

const (
	SDWindowOK    SDWindowStatus = 0x00
	SDWindowRetry SDWindowStatus = 0x01
	SDWindowAbort SDWindowStatus = 0xFF
)

// SD transfer status codes, §4.6.
const (
	SDStatusComplete  uint8 = 0x00
	SDStatusInProgress uint8 = 0x01
	SDStatusError     uint8 = 0x10
	SDStatusOutOfRange uint8 = 0x11
	SDStatusBusy      uint8 = 0x12
	SDStatusCRCError  uint8 = 0x20
	SDStatusUnknown   uint8 = 0xFF
)

// SDRequest initiates a sector transfer (0x3F0).
type SDRequest struct {
	Module     ModuleID
	TransferID uint8
	SectorNum  uint32
	Options    uint8
}

func (r SDRequest) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = SDCmdRequest
	data[1] = r.TransferID
	binary.LittleEndian.PutUint32(data[2:6], r.SectorNum)
	data[6] = r.Options
	data[7] = xorChecksum(data[0:7])
	return canbus.Frame{ID: EncodeExtID(BaseSDRequest, r.Module), Extended: true, Len: 8, Data: data}, nil
}

func (r *SDRequest) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseSDRequest {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	if got := xorChecksum(f.Data[0:7]); got != f.Data[7] {
		return &DecodeError{Kind: BadChecksum, ExtID: f.ID}
	}
	r.Module = module
	r.TransferID = f.Data[1]
	r.SectorNum = binary.LittleEndian.Uint32(f.Data[2:6])
	r.Options = f.Data[6]
	return nil
}

// SDDataChunk is a single chunk of sector data (0x3F1). The extended id
// carries its own sub-fields (see sdchunk.go); Data holds up to 8 payload
// bytes.
type SDDataChunk struct {
	Subfields SDDataSubfields
	Data      [8]byte
	Len       uint8
}

func (c SDDataChunk) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeSDDataExtID(c.Subfields), Extended: true, Len: c.Len, Data: c.Data}, nil
}

func (c *SDDataChunk) UnmarshalCANFrame(f canbus.Frame) error {
	base := BaseID((f.ID >> 18) & 0x7FF)
	if base != BaseSDData {
		return unknownIDErr(f.ID)
	}
	c.Subfields = DecodeSDDataExtID(f.ID)
	c.Data = f.Data
	c.Len = f.Len
	return nil
}

// SDWindowAck reports the bitmap and running CRC after a window completes
// or its deadline elapses (0x3F2).
type SDWindowAck struct {
	Module     ModuleID
	TransferID uint8
	WindowID   uint8
	Bitmap     uint16
	Status     SDWindowStatus
	RunningCRC uint16
}

func (a SDWindowAck) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = SDCmdWindowAck
	data[1] = a.TransferID
	data[2] = a.WindowID
	binary.LittleEndian.PutUint16(data[3:5], a.Bitmap)
	data[5] = byte(a.Status)
	binary.LittleEndian.PutUint16(data[6:8], a.RunningCRC)
	return canbus.Frame{ID: EncodeExtID(BaseSDWindowAck, a.Module), Extended: true, Len: 8, Data: data}, nil
}

func (a *SDWindowAck) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseSDWindowAck {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	a.Module = module
	a.TransferID = f.Data[1]
	a.WindowID = f.Data[2]
	a.Bitmap = binary.LittleEndian.Uint16(f.Data[3:5])
	a.Status = SDWindowStatus(f.Data[5])
	a.RunningCRC = binary.LittleEndian.Uint16(f.Data[6:8])
	return nil
}

// SDStatus reports the outcome of a completed sector transfer (0x3F3).
type SDStatus struct {
	Module     ModuleID
	TransferID uint8
	StatusCode uint8
	WindowsDone uint8
	FinalCRC   uint16
	TimeMs     uint16
}

func (s SDStatus) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = SDCmdStatus
	data[1] = s.TransferID
	data[2] = s.StatusCode
	data[3] = s.WindowsDone
	binary.LittleEndian.PutUint16(data[4:6], s.FinalCRC)
	binary.LittleEndian.PutUint16(data[6:8], s.TimeMs)
	return canbus.Frame{ID: EncodeExtID(BaseSDStatus, s.Module), Extended: true, Len: 8, Data: data}, nil
}

func (s *SDStatus) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseSDStatus {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	s.Module = module
	s.TransferID = f.Data[1]
	s.StatusCode = f.Data[2]
	s.WindowsDone = f.Data[3]
	s.FinalCRC = binary.LittleEndian.Uint16(f.Data[4:6])
	s.TimeMs = binary.LittleEndian.Uint16(f.Data[6:8])
	return nil
}

func xorChecksum(b []byte) uint8 {
	var x uint8
	for _, v := range b {
		x ^= v
	}
	return x
}
