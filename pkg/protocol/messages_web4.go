package protocol

import (
	"github.com/modbatt/packctl/pkg/canbus"
)

// Web4KeyType identifies which key the chunk stream is carrying.
type Web4KeyType uint8

const (
	Web4KeyPackDevice  Web4KeyType = 0
	Web4KeyAppDevice   Web4KeyType = 1
	Web4KeyComponentID Web4KeyType = 2
)

// BaseID returns the chunk base id for the key type.
func (k Web4KeyType) BaseID() BaseID {
	switch k {
	case Web4KeyPackDevice:
		return BaseWeb4PackDevice
	case Web4KeyAppDevice:
		return BaseWeb4AppDevice
	default:
		return BaseWeb4ComponentIds
	}
}

// AckBaseID returns the ACK base id for the key type.
func (k Web4KeyType) AckBaseID() BaseID {
	switch k {
	case Web4KeyPackDevice:
		return BaseWeb4AckPackDevice
	case Web4KeyAppDevice:
		return BaseWeb4AckAppDevice
	default:
		return BaseWeb4AckComponentIds
	}
}

// Web4AckStatus is the status byte an ACK carries.
type Web4AckStatus uint8

const (
	Web4AckSuccess        Web4AckStatus = 0x00
	Web4AckChecksumError  Web4AckStatus = 0x01
	Web4AckSequenceError  Web4AckStatus = 0x02
	Web4AckStorageError   Web4AckStatus = 0x03
	Web4AckTimeout        Web4AckStatus = 0x04
)

// web4ChunkNumMask is the width of the chunk-number field: 3 bits, 0..7.
const web4ChunkNumMask = 0x7

// EncodeWeb4ChunkExtID packs a key-chunk extended identifier using this
// protocol's own sub-field convention (ext_id = (base<<18) | (chunkNum<<8)):
// chunk index occupies bits 8..10, matching the textual "chunk index sits
// in bits 8..10 of the CAN ID" rule. The original firmware's chunk/base
// extraction (canId&0x7FF for base, (canId>>8)&0x7 for chunk, both read off
// the same 11-bit field) is internally inconsistent for its own literal
// base-id constants and is not reproduced here.
func EncodeWeb4ChunkExtID(base BaseID, chunkNum uint8) uint32 {
	id := (uint32(chunkNum) & web4ChunkNumMask) << 8
	id |= (uint32(base) & 0x7FF) << 18
	return id
}

// DecodeWeb4ChunkExtID extracts the base id and chunk number from a key
// chunk extended identifier.
func DecodeWeb4ChunkExtID(extID uint32) (BaseID, uint8) {
	base := BaseID((extID >> 18) & 0x7FF)
	chunkNum := uint8((extID >> 8) & web4ChunkNumMask)
	return base, chunkNum
}

// Web4KeyChunk is one 8-byte chunk of key material (0x407/0x408/0x409).
type Web4KeyChunk struct {
	KeyType  Web4KeyType
	ChunkNum uint8
	Data     [8]byte
}

func (c Web4KeyChunk) MarshalCANFrame() (canbus.Frame, error) {
	return canbus.Frame{
		ID:       EncodeWeb4ChunkExtID(c.KeyType.BaseID(), c.ChunkNum),
		Extended: true,
		Len:      8,
		Data:     c.Data,
	}, nil
}

func (c *Web4KeyChunk) UnmarshalCANFrame(f canbus.Frame) error {
	base, chunkNum := DecodeWeb4ChunkExtID(f.ID)
	keyType, ok := web4KeyTypeForBase(base)
	if !ok {
		return unknownIDErr(f.ID)
	}
	if f.Len != 8 {
		return truncatedErr(f.ID, 8, int(f.Len))
	}
	c.KeyType = keyType
	c.ChunkNum = chunkNum
	c.Data = f.Data
	return nil
}

// Web4KeyAck acknowledges a chunk with a status code (0x4A7/0x4A8/0x4A9).
type Web4KeyAck struct {
	KeyType  Web4KeyType
	ChunkNum uint8
	Status   Web4AckStatus
}

func (a Web4KeyAck) MarshalCANFrame() (canbus.Frame, error) {
	var data [8]byte
	data[0] = a.ChunkNum
	data[1] = uint8(a.Status)
	return canbus.Frame{
		ID:       EncodeWeb4ChunkExtID(a.KeyType.AckBaseID(), a.ChunkNum),
		Extended: true,
		Len:      2,
		Data:     data,
	}, nil
}

func (a *Web4KeyAck) UnmarshalCANFrame(f canbus.Frame) error {
	base, _ := DecodeWeb4ChunkExtID(f.ID)
	keyType, ok := web4KeyTypeForAckBase(base)
	if !ok {
		return unknownIDErr(f.ID)
	}
	if f.Len < 2 {
		return truncatedErr(f.ID, 2, int(f.Len))
	}
	a.KeyType = keyType
	a.ChunkNum = f.Data[0]
	a.Status = Web4AckStatus(f.Data[1])
	return nil
}

func web4KeyTypeForBase(base BaseID) (Web4KeyType, bool) {
	switch base {
	case BaseWeb4PackDevice:
		return Web4KeyPackDevice, true
	case BaseWeb4AppDevice:
		return Web4KeyAppDevice, true
	case BaseWeb4ComponentIds:
		return Web4KeyComponentID, true
	default:
		return 0, false
	}
}

func web4KeyTypeForAckBase(base BaseID) (Web4KeyType, bool) {
	switch base {
	case BaseWeb4AckPackDevice:
		return Web4KeyPackDevice, true
	case BaseWeb4AckAppDevice:
		return Web4KeyAppDevice, true
	case BaseWeb4AckComponentIds:
		return Web4KeyComponentID, true
	default:
		return 0, false
	}
}
