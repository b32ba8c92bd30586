package engine

import (
	"context"
	"log/slog"
	"testing"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/debuglog"
	"github.com/modbatt/packctl/pkg/protocol"
	"github.com/modbatt/packctl/pkg/sdxfer"
	"github.com/modbatt/packctl/pkg/web4"
)

type discardStore struct{}

func (discardStore) SaveKeys(ctx context.Context, keys web4.StoredKeys) error { return nil }

func newTestController(t *testing.T) (*Controller, canbus.Bus, canbus.Bus) {
	t.Helper()
	log := debuglog.New(slog.New(slog.NewTextHandler(discardWriter{}, nil)), debuglog.DefaultMessageDefs())
	c := NewController(log, fixedClock{}, discardStore{}, web4.StoredKeys{})

	bus := canbus.NewLoopbackBus()
	t.Cleanup(func() { bus.Close() })
	moduleSide := bus.Open()
	t.Cleanup(func() { moduleSide.Close() })
	controllerSide := bus.Open()
	t.Cleanup(func() { controllerSide.Close() })
	return c, moduleSide, controllerSide
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDispatchAnnouncementRegistersModule(t *testing.T) {
	c, _, controllerSide := newTestController(t)

	f, _ := protocol.Announcement{Module: protocol.Unregistered, UniqueID: 0x1001}.MarshalCANFrame()
	if err := c.Dispatch(context.Background(), controllerSide, f, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(c.Registry.Registered()) != 0 {
		t.Fatalf("module should be Discovering, not yet Registered, until confirmed")
	}
	id, ok := c.Registry.FindByUnique(0x1001)
	if !ok {
		t.Fatalf("module not found in registry after announcement")
	}
	if c.Registry.Slot(id).State != Discovering {
		t.Fatalf("state = %v, want Discovering", c.Registry.Slot(id).State)
	}
	if len(c.Queue.registrationAcks) != 1 {
		t.Fatalf("expected a registration ack latched")
	}
}

func TestDispatchStatus1UpdatesRegistrySlot(t *testing.T) {
	c, _, _ := newTestController(t)
	id, _ := c.Registry.Register(1)
	c.Registry.Slot(id).State = Registered

	f, _ := protocol.Status1{Module: id, SOC: 160, CellCount: 4}.MarshalCANFrame()
	if err := c.Dispatch(context.Background(), nil, f, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	slot := c.Registry.Slot(id)
	if slot.SOC != 80 {
		t.Fatalf("SOC = %v, want 80", slot.SOC)
	}
	if len(slot.CellVoltages) != 4 {
		t.Fatalf("CellVoltages len = %d, want 4", len(slot.CellVoltages))
	}
}

func TestDispatchUnknownBaseIDIsLoggedAndDropped(t *testing.T) {
	c, _, _ := newTestController(t)
	f := canbus.Frame{ID: protocol.EncodeExtID(0x000, 0), Extended: true, Len: 8}
	if err := c.Dispatch(context.Background(), nil, f, 0); err != nil {
		t.Fatalf("Dispatch should not error on unknown base id, got %v", err)
	}
}

func TestDispatchVCURangeCallsHook(t *testing.T) {
	c, _, _ := newTestController(t)

	called := false
	c.VCU = func(f canbus.Frame) bool {
		called = true
		return true
	}
	f := canbus.Frame{ID: protocol.EncodeExtID(0x300, 0), Extended: true, Len: 8}
	if err := c.Dispatch(context.Background(), nil, f, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !called {
		t.Fatalf("VCU hook was not invoked for a frame in its range")
	}
}

func TestDispatchWeb4ChunkRoutesToWeb4Engine(t *testing.T) {
	c, _, controllerSide := newTestController(t)

	chunk := protocol.Web4KeyChunk{KeyType: protocol.Web4KeyPackDevice, ChunkNum: 0, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
	f, _ := chunk.MarshalCANFrame()
	if err := c.Dispatch(context.Background(), controllerSide, f, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !c.Web4.Active() {
		t.Fatalf("web4 engine did not register the chunk as an active reception")
	}
}

func TestLinkDownResetsQueueAndInFlightGates(t *testing.T) {
	c, _, _ := newTestController(t)
	id, _ := c.Registry.Register(1)
	c.Registry.Slot(id).State = Registered
	c.Registry.Slot(id).AwaitingStatusReply = true
	c.Queue.LatchAnnounceRequest()

	c.LinkDown()

	if c.Queue.announceReqSet {
		t.Fatalf("queue not reset on link down")
	}
	if c.Registry.Slot(id).AwaitingStatusReply {
		t.Fatalf("in-flight gate not cleared on link down")
	}
}

// TestControllerTickSendsSDWindowAckOnFullWindow pins §4.6 step 3/4's
// live wiring at the Controller level: Controller.Tick alone (not a test
// calling EvaluateWindow/AdvanceWindowOrRetry or SDXfer.TickWindows by hand)
// must transmit a Window ACK once a window fills, the same path
// cmd/packctl's connect/discover loops drive.
func TestControllerTickSendsSDWindowAckOnFullWindow(t *testing.T) {
	c, moduleSide, controllerSide := newTestController(t)
	id, _ := c.Registry.Register(1)
	c.Registry.Slot(id).State = Registered

	if err := c.SDXfer.StartTransfer(context.Background(), controllerSide, id, 0, 1, 0); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	if _, err := moduleSide.Receive(context.Background()); err != nil {
		t.Fatalf("receive request: %v", err)
	}

	for ch := 0; ch < sdxfer.SectorGeometry.ChunksPerWindow; ch++ {
		chunk := protocol.SDDataChunk{
			Subfields: protocol.SDDataSubfields{Module: id, WindowID: 0, ChunkNum: uint8(ch)},
			Data:      [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
			Len:       8,
		}
		if err := c.SDXfer.HandleDataChunk(chunk); err != nil {
			t.Fatalf("handle chunk: %v", err)
		}
	}

	if err := c.Tick(context.Background(), controllerSide, 0); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	f, err := moduleSide.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	var ack protocol.SDWindowAck
	if err := ack.UnmarshalCANFrame(f); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != protocol.SDWindowOK {
		t.Fatalf("unexpected ack status: %+v", ack)
	}
	tr, _ := c.SDXfer.Transfer(id)
	if tr.CurrentWindow() != 1 {
		t.Fatalf("current window = %d, want 1 after Controller.Tick", tr.CurrentWindow())
	}
}

// TestLinkDownAbortsActiveTransfers pins spec scenario 6: bus-off with an
// active SectorTransfer in Receiving must move the transfer to Error with
// a link-down reason, not leave it stuck in Receiving forever.
func TestLinkDownAbortsActiveTransfers(t *testing.T) {
	c, _, controllerSide := newTestController(t)
	id, _ := c.Registry.Register(1)
	c.Registry.Slot(id).State = Registered

	if err := c.SDXfer.StartTransfer(context.Background(), controllerSide, id, 1, 0, 0); err != nil {
		t.Fatalf("StartTransfer (sdxfer): %v", err)
	}
	if err := c.FrameXfer.StartTransfer(context.Background(), controllerSide, id, 1, 0, 0); err != nil {
		t.Fatalf("StartTransfer (framexfer): %v", err)
	}

	c.LinkDown()

	sd, _ := c.SDXfer.Transfer(id)
	if sd.State() != sdxfer.Error || sd.Reason() != "link-down" {
		t.Fatalf("sdxfer transfer state = %v reason = %q, want Error/link-down", sd.State(), sd.Reason())
	}
	fx, _ := c.FrameXfer.Transfer(id)
	if fx.State() != sdxfer.Error || fx.Reason() != "link-down" {
		t.Fatalf("framexfer transfer state = %v reason = %q, want Error/link-down", fx.State(), fx.Reason())
	}
}
