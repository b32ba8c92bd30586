// Package web4 implements the Key-Chunk Transfer Engine (C7): reception
// of 64-byte cryptographic key material delivered as 8 chunks of 8 bytes,
// with per-chunk ACK/NAK, an XOR end-to-end checksum, and a persistence
// trigger once all three key slots are valid.
package web4

import (
	"context"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/protocol"
)

// KeySize is the size in bytes of a fully assembled key (PackDevice and
// AppDevice keys, and the unsplit ComponentIds reception buffer).
const KeySize = 64

// ComponentHalfSize is the size of each of the two halves the
// ComponentIds key splits into once fully received.
const ComponentHalfSize = 32

const numChunks = 8
const chunkSize = 8
const allChunksMask = 0xFF // bit i set once chunk i is received

// IdleTimeoutMs is how long a reception may sit without a new chunk
// before it is reset, in the same tick units the caller's nowTick uses
// (milliseconds, per the scheduler's monotonic tick).
const IdleTimeoutMs = 5000

// StoredKeys holds the persisted key material, mirroring the three
// independently-recoverable slots the nonvolatile layout requires.
// ComponentIds is received as one 64-byte buffer but stored split, since
// that is what the source's ProcessKeyChunk does with the assembled
// buffer (pack half first, app half second).
type StoredKeys struct {
	PackDevice      [KeySize]byte
	AppDevice       [KeySize]byte
	PackComponentID [ComponentHalfSize]byte
	AppComponentID  [ComponentHalfSize]byte

	PackDeviceValid bool
	AppDeviceValid  bool
	ComponentValid  bool
}

// AllValid reports whether every key slot has been received, the
// condition that triggers a persistence write.
func (k StoredKeys) AllValid() bool {
	return k.PackDeviceValid && k.AppDeviceValid && k.ComponentValid
}

// reception tracks an in-progress key assembly. At most one is active at
// a time; a chunk for a different key type while active cancels and
// restarts it.
type reception struct {
	active       bool
	keyType      protocol.Web4KeyType
	buffer       [KeySize]byte
	received     uint8 // bitmap, bit i = chunk i seen
	lastChunkTick uint32
}

func (r *reception) reset() {
	*r = reception{}
}

// Store persists completed key material. Implementations wrap a
// byte-addressable nonvolatile store (see pkg/nvstore).
type Store interface {
	SaveKeys(ctx context.Context, keys StoredKeys) error
}

// Engine drives key-chunk reception and ACK transmission.
type Engine struct {
	store Store
	rx    reception
	keys  StoredKeys
}

// NewEngine constructs an Engine with keys loaded from boot state.
func NewEngine(store Store, initial StoredKeys) *Engine {
	return &Engine{store: store, keys: initial}
}

// Keys returns the current stored key state.
func (e *Engine) Keys() StoredKeys { return e.keys }

// Active reports whether a key reception is currently in progress.
func (e *Engine) Active() bool { return e.rx.active }

// HandleChunk applies one received key chunk: it updates reception state,
// sends the resulting ACK on bus, and returns any send or persistence
// error. A chunk with a bad length never reaches it: the caller drops a
// frame that fails to decode, with no ACK.
func (e *Engine) HandleChunk(ctx context.Context, bus canbus.Bus, chunk protocol.Web4KeyChunk, nowTick uint32) error {
	if chunk.ChunkNum >= numChunks {
		return e.sendAck(ctx, bus, chunk.KeyType, chunk.ChunkNum, protocol.Web4AckSequenceError)
	}

	if e.rx.active && e.rx.keyType != chunk.KeyType {
		e.rx.reset()
	}
	if !e.rx.active {
		e.rx.active = true
		e.rx.keyType = chunk.KeyType
	}
	e.rx.lastChunkTick = nowTick

	bit := uint8(1) << chunk.ChunkNum
	if e.rx.received&bit != 0 {
		// Duplicate: ACK success, no buffer mutation, no state advance.
		return e.sendAck(ctx, bus, chunk.KeyType, chunk.ChunkNum, protocol.Web4AckSuccess)
	}

	copy(e.rx.buffer[int(chunk.ChunkNum)*chunkSize:int(chunk.ChunkNum)*chunkSize+chunkSize], chunk.Data[:])
	e.rx.received |= bit

	if e.rx.received != allChunksMask {
		return e.sendAck(ctx, bus, chunk.KeyType, chunk.ChunkNum, protocol.Web4AckSuccess)
	}

	return e.finishReception(ctx, bus, chunk.ChunkNum)
}

// finishReception validates the checksum of a complete buffer and either
// stores it or reports a checksum error, then resets reception state.
func (e *Engine) finishReception(ctx context.Context, bus canbus.Bus, lastChunkNum uint8) error {
	keyType := e.rx.keyType
	buf := e.rx.buffer

	var checksum byte
	for _, b := range buf[:KeySize-1] {
		checksum ^= b
	}
	if checksum != buf[KeySize-1] {
		e.rx.reset()
		return e.sendAck(ctx, bus, keyType, lastChunkNum, protocol.Web4AckChecksumError)
	}

	switch keyType {
	case protocol.Web4KeyPackDevice:
		e.keys.PackDevice = buf
		e.keys.PackDeviceValid = true
	case protocol.Web4KeyAppDevice:
		e.keys.AppDevice = buf
		e.keys.AppDeviceValid = true
	case protocol.Web4KeyComponentID:
		copy(e.keys.PackComponentID[:], buf[0:ComponentHalfSize])
		copy(e.keys.AppComponentID[:], buf[ComponentHalfSize:KeySize])
		e.keys.ComponentValid = true
	}
	e.rx.reset()

	if err := e.sendAck(ctx, bus, keyType, lastChunkNum, protocol.Web4AckSuccess); err != nil {
		return err
	}

	if e.keys.AllValid() && e.store != nil {
		return e.store.SaveKeys(ctx, e.keys)
	}
	return nil
}

func (e *Engine) sendAck(ctx context.Context, bus canbus.Bus, keyType protocol.Web4KeyType, chunkNum uint8, status protocol.Web4AckStatus) error {
	ack := protocol.Web4KeyAck{KeyType: keyType, ChunkNum: chunkNum, Status: status}
	f, err := ack.MarshalCANFrame()
	if err != nil {
		return err
	}
	return bus.Send(ctx, f)
}

// CheckTimeout resets an idle reception if more than IdleTimeoutMs has
// elapsed since the last chunk. Returns true if a reset occurred.
func (e *Engine) CheckTimeout(nowTick uint32) bool {
	if !e.rx.active {
		return false
	}
	if nowTick-e.rx.lastChunkTick <= IdleTimeoutMs {
		return false
	}
	e.rx.reset()
	return true
}

// AbortAll cancels any key reception in progress, per §5's cancellation
// rule (e.g. on link-down). There is no persisted/wire "aborted" state for
// a key reception — it simply restarts on the next chunk — so this is
// reception.reset rather than a state transition to Error.
func (e *Engine) AbortAll() {
	e.rx.reset()
}
