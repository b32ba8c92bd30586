package sdxfer

import (
	"context"
	"testing"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/protocol"
)

func TestEngineStartTransferSendsRequest(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	pack := bus.Open()
	module := bus.Open()
	defer pack.Close()
	defer module.Close()

	e := NewEngine(DefaultMaxRetries, DefaultWindowDeadlineMs, DefaultOverallDeadlineMs)
	ctx := context.Background()

	if err := e.StartTransfer(ctx, pack, protocol.ModuleID(5), 0, 42, 0); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}

	f, err := module.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var req protocol.SDRequest
	if err := req.UnmarshalCANFrame(f); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Module != 5 || req.SectorNum != 42 {
		t.Fatalf("unexpected request: %+v", req)
	}

	tr, ok := e.Transfer(protocol.ModuleID(5))
	if !ok || tr.State() != Requesting {
		t.Fatalf("expected tracked transfer in Requesting state")
	}
}

func TestEngineAbortAllOnlyTouchesActiveTransfers(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	pack := bus.Open()
	module := bus.Open()
	defer pack.Close()
	defer module.Close()

	e := NewEngine(DefaultMaxRetries, DefaultWindowDeadlineMs, DefaultOverallDeadlineMs)
	ctx := context.Background()

	if err := e.StartTransfer(ctx, pack, protocol.ModuleID(5), 0, 42, 0); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	active, _ := e.Transfer(protocol.ModuleID(5))

	if err := e.StartTransfer(ctx, pack, protocol.ModuleID(6), 0, 7, 0); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	idle, _ := e.Transfer(protocol.ModuleID(6))
	idle.Reset()

	e.AbortAll("link-down")

	if active.State() != Error || active.Reason() != "link-down" {
		t.Fatalf("active transfer state = %v reason = %q, want Error/link-down", active.State(), active.Reason())
	}
	if idle.State() != Idle {
		t.Fatalf("idle transfer state = %v, AbortAll should leave it alone", idle.State())
	}
}

func TestEngineRejectsStartWhileActive(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	pack := bus.Open()
	defer pack.Close()
	go func() {
		ep := bus.Open()
		defer ep.Close()
		for {
			if _, err := ep.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	e := NewEngine(DefaultMaxRetries, DefaultWindowDeadlineMs, DefaultOverallDeadlineMs)
	ctx := context.Background()
	if err := e.StartTransfer(ctx, pack, protocol.ModuleID(5), 0, 1, 0); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := e.StartTransfer(ctx, pack, protocol.ModuleID(5), 1, 2, 0); err == nil {
		t.Fatalf("expected second start for same module to be rejected")
	}
}

// TestTickWindowsSendsAckAndAdvancesOnFullWindow pins §4.6 step 3/4's live
// wiring: filling a window must produce a transmitted Window ACK and move
// the transfer to the next window, driven purely by TickWindows the way
// Controller.Tick calls it, not by a test calling EvaluateWindow/
// AdvanceWindowOrRetry directly.
func TestTickWindowsSendsAckAndAdvancesOnFullWindow(t *testing.T) {
	e := NewEngine(DefaultMaxRetries, DefaultWindowDeadlineMs, DefaultOverallDeadlineMs)
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	pack := bus.Open()
	defer pack.Close()
	module := bus.Open()
	defer module.Close()

	ctx := context.Background()
	mod := protocol.ModuleID(4)
	if err := e.StartTransfer(ctx, pack, mod, 0, 1, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := module.Receive(ctx); err != nil {
		t.Fatalf("receive request: %v", err)
	}

	for c := 0; c < SectorGeometry.ChunksPerWindow; c++ {
		chunk := protocol.SDDataChunk{
			Subfields: protocol.SDDataSubfields{Module: mod, WindowID: 0, ChunkNum: uint8(c)},
			Data:      [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
			Len:       8,
		}
		if err := e.HandleDataChunk(chunk); err != nil {
			t.Fatalf("handle chunk: %v", err)
		}
	}

	if err := e.TickWindows(ctx, pack, 0); err != nil {
		t.Fatalf("TickWindows: %v", err)
	}

	f, err := module.Receive(ctx)
	if err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	var ack protocol.SDWindowAck
	if err := ack.UnmarshalCANFrame(f); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != protocol.SDWindowOK || ack.WindowID != 0 {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	tr, _ := e.Transfer(mod)
	if tr.CurrentWindow() != 1 {
		t.Fatalf("current window = %d, want 1 (TickWindows should have advanced it)", tr.CurrentWindow())
	}
}

func TestEngineFullWindowFlowToComplete(t *testing.T) {
	e := NewEngine(DefaultMaxRetries, DefaultWindowDeadlineMs, DefaultOverallDeadlineMs)
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	pack := bus.Open()
	defer pack.Close()
	drain := bus.Open()
	defer drain.Close()
	go func() {
		for {
			if _, err := drain.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	ctx := context.Background()
	module := protocol.ModuleID(7)
	if err := e.StartTransfer(ctx, pack, module, 0, 1, 0); err != nil {
		t.Fatalf("start: %v", err)
	}

	for w := 0; w < SectorGeometry.Windows; w++ {
		for c := 0; c < SectorGeometry.ChunksPerWindow; c++ {
			chunk := protocol.SDDataChunk{
				Subfields: protocol.SDDataSubfields{Module: module, WindowID: uint8(w), ChunkNum: uint8(c)},
				Data:      [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
				Len:       8,
			}
			if err := e.HandleDataChunk(chunk); err != nil {
				t.Fatalf("handle chunk: %v", err)
			}
		}
		ack, ready := e.EvaluateWindow(module, 0)
		if !ready || ack.Status != protocol.SDWindowOK {
			t.Fatalf("expected window %d ready with OK status, got ready=%v ack=%+v", w, ready, ack)
		}
		e.AdvanceWindowOrRetry(module, ack.Status, 0)
	}

	tr, _ := e.Transfer(module)
	status := protocol.SDStatus{Module: module, StatusCode: protocol.SDStatusComplete, WindowsDone: uint8(SectorGeometry.Windows), FinalCRC: tr.RunningCRC()}
	if err := e.HandleStatus(status); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if tr.State() != Complete {
		t.Fatalf("expected Complete, got %s", tr.State())
	}
}
