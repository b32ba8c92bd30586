// Package framexfer implements the EEPROM frame transfer protocol: bulk
// retrieval of a module's SD-backed ring buffer of cell voltage/temperature
// readings, one 1024-byte frame at a time (supplemental module, see
// SPEC_FULL.md §7). It reuses pkg/sdxfer's windowed-ARQ state machine and
// CRC-16 accumulator with its own geometry and its own per-module transfer
// table, independent of the sector transfer engine's.
package framexfer

import "github.com/modbatt/packctl/pkg/sdxfer"

// Geometry is the frame-transfer shape: 1024 B = 8 windows × 16 chunks × 8 B,
// twice the window count of the sector transfer engine's 512 B geometry.
var Geometry = sdxfer.Geometry{Windows: 8, ChunksPerWindow: 16, ChunkSize: 8}
