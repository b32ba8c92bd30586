package protocol

import (
	"encoding/binary"

	"github.com/modbatt/packctl/pkg/canbus"
)

// Frame-transfer commands, carried in FrameRequest.Command. Grounded on
// sd_frame.h's FRAME_CMD_* constants.
const (
	FrameCmdGetInfo      uint8 = 0x10
	FrameCmdGetFrame     uint8 = 0x11
	FrameCmdGetCurrent   uint8 = 0x12
	FrameCmdStopTransfer uint8 = 0x13
)

// Frame-transfer status codes, carried in FrameStatus.StatusCode. This is a
// distinct namespace from the per-frame status flags stored inside a frame
// buffer itself (see pkg/framexfer's FrameFlag* constants) — sd_frame.h
// names both FRAME_STATUS_*, but they describe unrelated things.
const (
	FrameXferOK       uint8 = 0x00
	FrameXferBusy     uint8 = 0x01
	FrameXferNotFound uint8 = 0x02
	FrameXferSDError  uint8 = 0x03
	FrameXferCRCError uint8 = 0x04
)

const frameNumMask = 0x00FFFFFF // frame_number is a 24-bit field on the wire.

// FrameInfoRequest asks a module for its current EEPROM frame position
// (0x3E0, Pack -> Module).
type FrameInfoRequest struct {
	Module ModuleID
}

func (r FrameInfoRequest) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeExtID(BaseFrameInfoRequest, r.Module), Extended: true, Len: 0}, nil
}

func (r *FrameInfoRequest) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseFrameInfoRequest {
		return unknownIDErr(f.ID)
	}
	r.Module = module
	return nil
}

// FrameInfoResponse reports a module's current frame position (0x3E1,
// Module -> Pack), mirroring sd_frame.h's frame_info_t.
type FrameInfoResponse struct {
	Module          ModuleID
	CurrentFrameNum uint32 // 24 bits significant
	CurrentIndex    uint8
	Granularity     uint8
	CellsExpected   uint8
}

func (r FrameInfoResponse) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	binary.LittleEndian.PutUint32(data[0:4], r.CurrentFrameNum&frameNumMask)
	data[4] = r.CurrentIndex
	data[5] = r.Granularity
	data[6] = r.CellsExpected
	return canbus.Frame{ID: EncodeExtID(BaseFrameInfoResponse, r.Module), Extended: true, Len: 8, Data: data}, nil
}

func (r *FrameInfoResponse) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseFrameInfoResponse {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	r.Module = module
	r.CurrentFrameNum = binary.LittleEndian.Uint32(f.Data[0:4]) & frameNumMask
	r.CurrentIndex = f.Data[4]
	r.Granularity = f.Data[5]
	r.CellsExpected = f.Data[6]
	return nil
}

// FrameRequest asks a module to begin (or stop) transferring a specific
// EEPROM frame (0x3E2, Pack -> Module), mirroring sd_frame.h's
// frame_request_t.
type FrameRequest struct {
	Module      ModuleID
	Command     uint8
	FrameNumber uint32 // 24 bits significant
	TransferID  uint8
}

func (r FrameRequest) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = r.Command
	binary.LittleEndian.PutUint32(data[1:5], r.FrameNumber&frameNumMask)
	data[5] = r.TransferID
	return canbus.Frame{ID: EncodeExtID(BaseFrameRequest, r.Module), Extended: true, Len: 8, Data: data}, nil
}

func (r *FrameRequest) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseFrameRequest {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	r.Module = module
	r.Command = f.Data[0]
	r.FrameNumber = binary.LittleEndian.Uint32(f.Data[1:5]) & frameNumMask
	r.TransferID = f.Data[5]
	return nil
}

// FrameDataChunk is a single chunk of EEPROM frame data (0x3E3, Module ->
// Pack). The extended id carries its own sub-fields (see framechunk.go);
// Data holds up to 8 payload bytes.
type FrameDataChunk struct {
	Subfields FrameDataSubfields
	Data      [8]byte
	Len       uint8
}

func (c FrameDataChunk) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{ID: EncodeFrameDataExtID(c.Subfields), Extended: true, Len: c.Len, Data: c.Data}, nil
}

func (c *FrameDataChunk) UnmarshalCANFrame(f canbus.Frame) error {
	base := BaseID((f.ID >> 18) & 0x7FF)
	if base != BaseFrameData {
		return unknownIDErr(f.ID)
	}
	c.Subfields = DecodeFrameDataExtID(f.ID)
	c.Data = f.Data
	c.Len = f.Len
	return nil
}

// FrameWindowAck reports the bitmap and running CRC after a frame-transfer
// window completes or its deadline elapses (0x3E5). The original firmware
// declares a handler for this (sd_frame_send_window_ack) but never reserves
// a message id for it; see BaseFrameWindowAck.
type FrameWindowAck struct {
	Module     ModuleID
	TransferID uint8
	WindowID   uint8
	Bitmap     uint16
	Status     SDWindowStatus
	RunningCRC uint16
}

func (a FrameWindowAck) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = a.TransferID
	data[1] = a.WindowID
	binary.LittleEndian.PutUint16(data[2:4], a.Bitmap)
	data[4] = byte(a.Status)
	binary.LittleEndian.PutUint16(data[5:7], a.RunningCRC)
	return canbus.Frame{ID: EncodeExtID(BaseFrameWindowAck, a.Module), Extended: true, Len: 8, Data: data}, nil
}

func (a *FrameWindowAck) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseFrameWindowAck {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	a.Module = module
	a.TransferID = f.Data[0]
	a.WindowID = f.Data[1]
	a.Bitmap = binary.LittleEndian.Uint16(f.Data[2:4])
	a.Status = SDWindowStatus(f.Data[4])
	a.RunningCRC = binary.LittleEndian.Uint16(f.Data[5:7])
	return nil
}

// FrameStatus reports the outcome of a completed frame transfer (0x3E4,
// Module -> Pack).
type FrameStatus struct {
	Module      ModuleID
	TransferID  uint8
	StatusCode  uint8
	WindowsDone uint8
	FinalCRC    uint16
}

func (s FrameStatus) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = s.TransferID
	data[1] = s.StatusCode
	data[2] = s.WindowsDone
	binary.LittleEndian.PutUint16(data[3:5], s.FinalCRC)
	return canbus.Frame{ID: EncodeExtID(BaseFrameStatus, s.Module), Extended: true, Len: 8, Data: data}, nil
}

func (s *FrameStatus) UnmarshalCANFrame(f canbus.Frame) error {
	base, module := DecodeExtID(f.ID)
	if base != BaseFrameStatus {
		return unknownIDErr(f.ID)
	}
	if f.Len < 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	s.Module = module
	s.TransferID = f.Data[0]
	s.StatusCode = f.Data[1]
	s.WindowsDone = f.Data[2]
	s.FinalCRC = binary.LittleEndian.Uint16(f.Data[3:5])
	return nil
}
