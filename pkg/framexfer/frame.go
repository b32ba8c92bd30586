package framexfer

import (
	"encoding/binary"
	"fmt"

	"github.com/modbatt/packctl/pkg/sdxfer"
)

// Frame byte layout, mirroring sd_frame_t: a 32-byte header followed by a
// 992-byte circular buffer of string readings.
const (
	FrameSize       = 1024
	FrameHeaderSize = 32
	FrameDataSize   = 992

	// SectorsPerFrame is the number of 512-byte SD sectors a single frame
	// occupies on the module's card.
	SectorsPerFrame = 2

	// MaxFrameNumber is the largest value the 24-bit frame_number field can
	// hold.
	MaxFrameNumber = 0xFFFFFF

	// MaxCellsPerModule bounds cells_expected.
	MaxCellsPerModule = 94
)

// FrameFlag is a bit in a stored frame's status_flags byte. This is a
// distinct namespace from the protocol's transfer status codes
// (protocol.FrameXferOK and friends) — sd_frame.h names both
// FRAME_STATUS_*, but one describes the frame's own contents and the other
// describes a transfer's outcome.
type FrameFlag uint8

const (
	FrameFlagValid   FrameFlag = 0x01
	FrameFlagPartial FrameFlag = 0x02
	FrameFlagCorrupt FrameFlag = 0x04
	FrameFlagWriting FrameFlag = 0x08
)

// StoredFrame is one 1024-byte EEPROM frame: a header plus its data area.
// Grounded directly on sd_frame_t's field order and sizes.
type StoredFrame struct {
	FrameNumber   uint32 // 24 bits significant
	Timestamp     uint32
	Granularity   uint16
	CurrentIndex  uint16
	CellsExpected uint8
	ModuleID      uint8
	FrameCRC      uint16
	StatusFlags   FrameFlag
	Data          [FrameDataSize]byte
}

// HasFlag reports whether f is set in the frame's status flags.
func (s *StoredFrame) HasFlag(f FrameFlag) bool { return s.StatusFlags&f != 0 }

// Clear resets a frame to its zero value, matching sd_frame_clear.
func (s *StoredFrame) Clear() {
	*s = StoredFrame{}
}

// CalculateGranularity returns how many string readings (2 bytes voltage +
// 2 bytes temperature per cell) fit in the frame's 992-byte data area for a
// module reporting cellsExpected cells, matching
// sd_frame_calculate_granularity.
func CalculateGranularity(cellsExpected uint8) (uint16, error) {
	if cellsExpected == 0 || cellsExpected > MaxCellsPerModule {
		return 0, fmt.Errorf("framexfer: cells_expected %d out of range (1..%d)", cellsExpected, MaxCellsPerModule)
	}
	readingSize := int(cellsExpected) * 4
	return uint16(FrameDataSize / readingSize), nil
}

// ReadingOffset returns the byte offset within the frame's data area of the
// string reading at index, matching sd_frame_get_reading_offset.
func ReadingOffset(index uint16, cellsExpected uint8) uint16 {
	return index * uint16(cellsExpected) * 4
}

// FrameToSector maps a frame number to its first SD sector address,
// matching sd_frame_to_sector.
func FrameToSector(frameNumber uint32) uint32 {
	return frameNumber * SectorsPerFrame
}

// marshalHeader serializes the 32-byte header in sd_frame_t's field order.
func (s *StoredFrame) marshalHeader() [FrameHeaderSize]byte {
	var h [FrameHeaderSize]byte
	binary.LittleEndian.PutUint32(h[0:4], s.FrameNumber)
	binary.LittleEndian.PutUint32(h[4:8], s.Timestamp)
	binary.LittleEndian.PutUint16(h[8:10], s.Granularity)
	binary.LittleEndian.PutUint16(h[10:12], s.CurrentIndex)
	h[12] = s.CellsExpected
	h[13] = s.ModuleID
	binary.LittleEndian.PutUint16(h[14:16], s.FrameCRC)
	h[16] = byte(s.StatusFlags)
	// h[17:32] is reserved and left zero.
	return h
}

// CalculateCRC computes the CRC-16/CCITT-FALSE over the frame's header
// (excluding the frame_crc field itself) and data area, matching
// sd_frame_calculate_crc.
func (s *StoredFrame) CalculateCRC() uint16 {
	c := sdxfer.NewCRC16()
	h := s.marshalHeader()
	c.Write(h[0:14])  // up to but not including frame_crc
	c.Write(h[16:32]) // status_flags + reserved, skipping the crc field
	c.Write(s.Data[:])
	return c.Sum16()
}

// ValidateCRC reports whether the frame's stored FrameCRC matches its
// computed CRC, matching sd_frame_validate_crc.
func (s *StoredFrame) ValidateCRC() bool {
	return s.FrameCRC == s.CalculateCRC()
}
