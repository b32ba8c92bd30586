// Package canbus provides transport-level CAN types: a Frame, a Bus
// interface, and decorators/implementations (loopback, SocketCAN, a serial
// "slcan" dongle, multiplexed fan-out, logging) for moving Frames on and off
// real or simulated buses. It knows nothing about the Pack Controller wire
// protocol itself — that lives in pkg/protocol.
package canbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame represents a classical CAN (2.0A/2.0B) frame.
//
// Supported features:
//   - Standard (11-bit) and Extended (29-bit) identifiers
//   - Data frames and Remote Transmission Request (RTR)
//   - Data length 0-8 bytes (classical CAN)
//
// Not implemented: CAN FD specific fields.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

// Validation limits.
const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("canbus: invalid identifier")
	ErrInvalidLen = errors.New("canbus: invalid data length")
)

// Validate returns an error if the frame is not valid. Errors wrap
// ErrInvalidID/ErrInvalidLen so callers can match with errors.Is while still
// getting the offending value in the message.
func (f Frame) Validate() error {
	if f.Len > 8 {
		return fmt.Errorf("canbus: data length %d exceeds 8: %w", f.Len, ErrInvalidLen)
	}
	if f.Extended {
		if f.ID > maxExtID {
			return fmt.Errorf("canbus: extended id %#x exceeds %#x: %w", f.ID, maxExtID, ErrInvalidID)
		}
	} else if f.ID > maxStdID {
		return fmt.Errorf("canbus: standard id %#x exceeds %#x: %w", f.ID, maxStdID, ErrInvalidID)
	}
	return nil
}

// MustFrame constructs a Frame and panics if invalid. Convenience for tests.
func MustFrame(id uint32, data []byte) Frame {
	var f Frame
	f.ID = id
	if id > maxStdID {
		f.Extended = true
	}
	if len(data) > 8 {
		panic(ErrInvalidLen)
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

// String renders the frame as "<id> [<len>] <hex bytes>" or with an RTR tag.
func (f Frame) String() string {
	if f.RTR {
		return fmt.Sprintf("%X [%d] RTR", f.ID, f.Len)
	}
	return fmt.Sprintf("%X [%d] % X", f.ID, f.Len, f.Data[:f.Len])
}

// MarshalBinary encodes the frame to the Linux SocketCAN "struct can_frame"
// layout (16 bytes). This layout is also convenient for capture/replay files.
//
// Layout (little-endian):
//
//	0..3  can_id (with EFF/RTR flags)
//	4     can_dlc
//	5..7  padding (zero)
//	8..15 data bytes
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	const (
		canEffFlag = 0x80000000
		canRtrFlag = 0x40000000
	)
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

// UnmarshalBinary decodes a frame from the Linux SocketCAN can_frame layout.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return fmt.Errorf("canbus: need 16 bytes, got %d", len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	const (
		canEffFlag = 0x80000000
		canRtrFlag = 0x40000000
		canEffMask = 0x1FFFFFFF
		canStdMask = 0x7FF
	)
	f.Extended = id&canEffFlag != 0
	f.RTR = id&canRtrFlag != 0
	if f.Extended {
		f.ID = id & canEffMask
	} else {
		f.ID = id & canStdMask
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}
