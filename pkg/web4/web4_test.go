package web4

import (
	"context"
	"testing"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/protocol"
)

type fakeStore struct {
	saved StoredKeys
	calls int
}

func (f *fakeStore) SaveKeys(ctx context.Context, keys StoredKeys) error {
	f.saved = keys
	f.calls++
	return nil
}

// keyWithChecksum builds a 64-byte buffer where byte 63 is the XOR of the
// other 63 bytes, so the checksum validates.
func keyWithChecksum(fill byte) [KeySize]byte {
	var buf [KeySize]byte
	for i := 0; i < KeySize-1; i++ {
		buf[i] = fill + byte(i)
	}
	var x byte
	for _, b := range buf[:KeySize-1] {
		x ^= b
	}
	buf[KeySize-1] = x
	return buf
}

func sendChunks(t *testing.T, e *Engine, bus canbus.Bus, keyType protocol.Web4KeyType, buf [KeySize]byte, nowTick uint32) {
	t.Helper()
	for i := 0; i < numChunks; i++ {
		var chunk protocol.Web4KeyChunk
		chunk.KeyType = keyType
		chunk.ChunkNum = uint8(i)
		copy(chunk.Data[:], buf[i*chunkSize:i*chunkSize+chunkSize])
		if err := e.HandleChunk(context.Background(), bus, chunk, nowTick); err != nil {
			t.Fatalf("HandleChunk chunk %d: %v", i, err)
		}
	}
}

func TestFullReceptionStoresKeyAndAcksEachChunk(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	sender := bus.Open()
	defer sender.Close()
	drain := bus.Open()
	defer drain.Close()

	store := &fakeStore{}
	e := NewEngine(store, StoredKeys{})

	buf := keyWithChecksum(1)
	sendChunks(t, e, sender, protocol.Web4KeyPackDevice, buf, 0)

	for i := 0; i < numChunks; i++ {
		f, err := drain.Receive(context.Background())
		if err != nil {
			t.Fatalf("receive ack %d: %v", i, err)
		}
		var ack protocol.Web4KeyAck
		if err := ack.UnmarshalCANFrame(f); err != nil {
			t.Fatalf("decode ack %d: %v", i, err)
		}
		if ack.Status != protocol.Web4AckSuccess {
			t.Fatalf("ack %d status = %v, want success", i, ack.Status)
		}
	}

	if !e.Keys().PackDeviceValid {
		t.Fatalf("expected PackDeviceValid after full reception")
	}
	if e.Keys().PackDevice != buf {
		t.Fatalf("stored key does not match received buffer")
	}
	if e.Active() {
		t.Fatalf("expected reception to reset to idle after completion")
	}
	if store.calls != 0 {
		t.Fatalf("expected no persistence trigger until all three keys valid, got %d calls", store.calls)
	}
}

func TestComponentIDSplitsIntoTwoHalves(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	sender := bus.Open()
	defer sender.Close()
	drain := bus.Open()
	defer drain.Close()
	go func() {
		for {
			if _, err := drain.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	e := NewEngine(nil, StoredKeys{})
	buf := keyWithChecksum(5)
	sendChunks(t, e, sender, protocol.Web4KeyComponentID, buf, 0)

	keys := e.Keys()
	if !keys.ComponentValid {
		t.Fatalf("expected ComponentValid after full reception")
	}
	var wantPack [ComponentHalfSize]byte
	var wantApp [ComponentHalfSize]byte
	copy(wantPack[:], buf[0:ComponentHalfSize])
	copy(wantApp[:], buf[ComponentHalfSize:KeySize])
	if keys.PackComponentID != wantPack || keys.AppComponentID != wantApp {
		t.Fatalf("component id halves do not match expected split")
	}
}

func TestDuplicateChunkAcksSuccessWithoutMutation(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	sender := bus.Open()
	defer sender.Close()
	drain := bus.Open()
	defer drain.Close()

	e := NewEngine(nil, StoredKeys{})
	chunk := protocol.Web4KeyChunk{KeyType: protocol.Web4KeyAppDevice, ChunkNum: 2, Data: [8]byte{9, 9, 9, 9, 9, 9, 9, 9}}
	if err := e.HandleChunk(context.Background(), sender, chunk, 0); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	<-drainOne(t, drain)

	dup := protocol.Web4KeyChunk{KeyType: protocol.Web4KeyAppDevice, ChunkNum: 2, Data: [8]byte{1, 1, 1, 1, 1, 1, 1, 1}}
	if err := e.HandleChunk(context.Background(), sender, dup, 1); err != nil {
		t.Fatalf("duplicate chunk: %v", err)
	}
	f := <-drainOne(t, drain)
	var ack protocol.Web4KeyAck
	if err := ack.UnmarshalCANFrame(f); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != protocol.Web4AckSuccess {
		t.Fatalf("expected duplicate chunk acked success, got %v", ack.Status)
	}
	if e.rx.buffer[16] != 9 {
		t.Fatalf("expected original chunk data preserved, duplicate must not overwrite")
	}
}

func drainOne(t *testing.T, bus canbus.Bus) chan canbus.Frame {
	t.Helper()
	ch := make(chan canbus.Frame, 1)
	go func() {
		f, err := bus.Receive(context.Background())
		if err != nil {
			return
		}
		ch <- f
	}()
	return ch
}

func TestKeyTypeChangeMidReceptionResetsState(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	sender := bus.Open()
	defer sender.Close()
	drain := bus.Open()
	defer drain.Close()
	go func() {
		for {
			if _, err := drain.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	e := NewEngine(nil, StoredKeys{})
	first := protocol.Web4KeyChunk{KeyType: protocol.Web4KeyPackDevice, ChunkNum: 0, Data: [8]byte{1}}
	if err := e.HandleChunk(context.Background(), sender, first, 0); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if !e.Active() || e.rx.keyType != protocol.Web4KeyPackDevice {
		t.Fatalf("expected active reception of PackDevice")
	}

	other := protocol.Web4KeyChunk{KeyType: protocol.Web4KeyAppDevice, ChunkNum: 0, Data: [8]byte{2}}
	if err := e.HandleChunk(context.Background(), sender, other, 1); err != nil {
		t.Fatalf("switch chunk: %v", err)
	}
	if e.rx.keyType != protocol.Web4KeyAppDevice || e.rx.received != 0x01 {
		t.Fatalf("expected reception reset and restarted for new key type")
	}
}

func TestInvalidChunkNumberSequenceError(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	sender := bus.Open()
	defer sender.Close()
	drain := bus.Open()
	defer drain.Close()

	e := NewEngine(nil, StoredKeys{})
	bad := protocol.Web4KeyChunk{KeyType: protocol.Web4KeyPackDevice, ChunkNum: 8}
	if err := e.HandleChunk(context.Background(), sender, bad, 0); err != nil {
		t.Fatalf("HandleChunk: %v", err)
	}
	f, err := drain.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var ack protocol.Web4KeyAck
	if err := ack.UnmarshalCANFrame(f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack.Status != protocol.Web4AckSequenceError {
		t.Fatalf("expected sequence error, got %v", ack.Status)
	}
}

func TestChecksumMismatchResetsWithoutStoring(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	sender := bus.Open()
	defer sender.Close()
	drain := bus.Open()
	defer drain.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < numChunks-1; i++ {
			if _, err := drain.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	e := NewEngine(nil, StoredKeys{})
	buf := keyWithChecksum(1)
	buf[KeySize-1] ^= 0xFF // corrupt the checksum byte itself

	for i := 0; i < numChunks-1; i++ {
		var chunk protocol.Web4KeyChunk
		chunk.KeyType = protocol.Web4KeyPackDevice
		chunk.ChunkNum = uint8(i)
		copy(chunk.Data[:], buf[i*chunkSize:i*chunkSize+chunkSize])
		if err := e.HandleChunk(context.Background(), sender, chunk, 0); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}
	var last protocol.Web4KeyChunk
	last.KeyType = protocol.Web4KeyPackDevice
	last.ChunkNum = numChunks - 1
	copy(last.Data[:], buf[(numChunks-1)*chunkSize:])
	if err := e.HandleChunk(context.Background(), sender, last, 0); err != nil {
		t.Fatalf("final chunk: %v", err)
	}
	<-done // the first seven acks are consumed; the next frame is the final ack
	f, err := drain.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive final ack: %v", err)
	}
	var ack protocol.Web4KeyAck
	if err := ack.UnmarshalCANFrame(f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack.Status != protocol.Web4AckChecksumError {
		t.Fatalf("expected checksum error, got %v", ack.Status)
	}
	if e.Keys().PackDeviceValid {
		t.Fatalf("expected PackDeviceValid to remain false after checksum failure")
	}
	if e.Active() {
		t.Fatalf("expected reception reset after checksum failure")
	}
}

func TestAllThreeValidTriggersPersistence(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	sender := bus.Open()
	defer sender.Close()
	drain := bus.Open()
	defer drain.Close()
	go func() {
		for {
			if _, err := drain.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	store := &fakeStore{}
	e := NewEngine(store, StoredKeys{})

	sendChunks(t, e, sender, protocol.Web4KeyPackDevice, keyWithChecksum(1), 0)
	if store.calls != 0 {
		t.Fatalf("expected no save yet, got %d", store.calls)
	}
	sendChunks(t, e, sender, protocol.Web4KeyAppDevice, keyWithChecksum(2), 0)
	if store.calls != 0 {
		t.Fatalf("expected no save yet, got %d", store.calls)
	}
	sendChunks(t, e, sender, protocol.Web4KeyComponentID, keyWithChecksum(3), 0)
	if store.calls != 1 {
		t.Fatalf("expected exactly one save once all three keys valid, got %d", store.calls)
	}
	if !store.saved.AllValid() {
		t.Fatalf("expected saved snapshot to report all valid")
	}
}

func TestCheckTimeoutResetsIdleReception(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	sender := bus.Open()
	defer sender.Close()
	drain := bus.Open()
	defer drain.Close()
	go func() {
		for {
			if _, err := drain.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	e := NewEngine(nil, StoredKeys{})
	chunk := protocol.Web4KeyChunk{KeyType: protocol.Web4KeyPackDevice, ChunkNum: 0}
	_ = e.HandleChunk(context.Background(), sender, chunk, 1000)

	if e.CheckTimeout(1000 + IdleTimeoutMs) {
		t.Fatalf("expected no timeout exactly at the boundary")
	}
	if !e.CheckTimeout(1000 + IdleTimeoutMs + 1) {
		t.Fatalf("expected timeout reset past the idle deadline")
	}
	if e.Active() {
		t.Fatalf("expected reception to be idle after timeout reset")
	}
}

func TestAbortAllCancelsActiveReception(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	sender := bus.Open()
	defer sender.Close()
	drain := bus.Open()
	defer drain.Close()
	go func() {
		for {
			if _, err := drain.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	e := NewEngine(nil, StoredKeys{})
	chunk := protocol.Web4KeyChunk{KeyType: protocol.Web4KeyPackDevice, ChunkNum: 0}
	_ = e.HandleChunk(context.Background(), sender, chunk, 0)
	if !e.Active() {
		t.Fatalf("expected an in-progress reception before AbortAll")
	}

	e.AbortAll()

	if e.Active() {
		t.Fatalf("expected AbortAll to cancel the in-progress reception")
	}
}
