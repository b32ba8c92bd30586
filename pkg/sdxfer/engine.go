package sdxfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/protocol"
)

// Default tuning per §4.6.
const (
	DefaultMaxRetries        = 3
	DefaultWindowDeadlineMs  = 200
	DefaultOverallDeadlineMs = 2000
)

// Engine implements the Sector Transfer Engine (C6): at most one active
// SectorTransfer per module, windowed ARQ with bitmap NAK/ACK, and a
// running CRC-16 verified against the module's final Transfer Status.
type Engine struct {
	mu sync.Mutex

	maxRetries        int
	windowDeadlineMs  uint32
	overallDeadlineMs uint32

	transfers map[protocol.ModuleID]*Transfer
}

// NewEngine constructs a Sector Transfer Engine with the given retry and
// deadline policy.
func NewEngine(maxRetries int, windowDeadlineMs, overallDeadlineMs uint32) *Engine {
	return &Engine{
		maxRetries:        maxRetries,
		windowDeadlineMs:  windowDeadlineMs,
		overallDeadlineMs: overallDeadlineMs,
		transfers:         make(map[protocol.ModuleID]*Transfer),
	}
}

// Transfer returns the transfer tracked for a module, if any.
func (e *Engine) Transfer(module protocol.ModuleID) (*Transfer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[module]
	return t, ok
}

// StartTransfer requests sector sectorNum from module, rejecting the
// request if a non-Idle transfer is already tracked for that module (§5's
// single-active-transfer-per-module invariant).
func (e *Engine) StartTransfer(ctx context.Context, bus canbus.Bus, module protocol.ModuleID, transferID uint8, sectorNum uint32, nowTick uint32) error {
	e.mu.Lock()
	t, ok := e.transfers[module]
	if !ok {
		t = NewTransfer(SectorGeometry)
		e.transfers[module] = t
	}
	if err := t.Start(transferID, sectorNum, nowTick, e.windowDeadlineMs); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	req := protocol.SDRequest{Module: module, TransferID: transferID, SectorNum: sectorNum}
	f, err := req.MarshalCANFrame()
	if err != nil {
		return err
	}
	return bus.Send(ctx, f)
}

// HandleDataChunk applies a received SD data chunk to the owning module's
// transfer. It is a no-op (not an error) if no transfer is tracked for the
// chunk's module, since a stray or late chunk after abort is expected.
func (e *Engine) HandleDataChunk(chunk protocol.SDDataChunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[chunk.Subfields.Module]
	if !ok || t.State() != Requesting && t.State() != Receiving {
		return nil
	}
	return t.HandleChunk(chunk.Subfields.WindowID, chunk.Subfields.ChunkNum, chunk.Data[:chunk.Len])
}

// EvaluateWindow checks whether the current window is ready for an ACK —
// full, or its deadline has elapsed — and if so returns the ack to send.
// The caller is responsible for transmitting it and for calling
// AdvanceWindowOrRetry afterwards.
func (e *Engine) EvaluateWindow(module protocol.ModuleID, nowTick uint32) (protocol.SDWindowAck, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[module]
	if !ok || t.State() != Receiving {
		return protocol.SDWindowAck{}, false
	}
	win := uint8(t.CurrentWindow())
	full := t.WindowComplete(win)
	if !full && !t.WindowTimedOut(nowTick) {
		return protocol.SDWindowAck{}, false
	}

	status := protocol.SDWindowOK
	if !full {
		status = protocol.SDWindowRetry
		if t.RetryCount() >= e.maxRetries {
			status = protocol.SDWindowAbort
		}
	}
	ack := protocol.SDWindowAck{
		Module:     module,
		TransferID: t.TransferID,
		WindowID:   win,
		Bitmap:     t.WindowBitmap(win),
		Status:     status,
		RunningCRC: t.RunningCRC(),
	}
	return ack, true
}

// AdvanceWindowOrRetry applies the consequence of a Window ACK just sent:
// on OK it advances to the next window (after the last window it changes
// nothing; the transfer ends with the module's Transfer Status), on
// Retry it increments the retry counter and resets the window deadline, and
// on Abort it aborts the transfer to Error.
func (e *Engine) AdvanceWindowOrRetry(module protocol.ModuleID, status protocol.SDWindowStatus, nowTick uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[module]
	if !ok {
		return
	}
	switch status {
	case protocol.SDWindowOK:
		t.AdvanceWindow(nowTick, e.windowDeadlineMs)
	case protocol.SDWindowRetry:
		t.IncRetry()
		t.ResetWindowDeadline(nowTick, e.windowDeadlineMs)
	case protocol.SDWindowAbort:
		t.Abort()
	}
}

// HandleStatus finalizes a transfer on receipt of the module's Transfer
// Status frame, verifying the final CRC against the engine's running CRC.
func (e *Engine) HandleStatus(st protocol.SDStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[st.Module]
	if !ok {
		return fmt.Errorf("sdxfer: status for unknown transfer on module 0x%02X", st.Module)
	}
	return t.Complete(st.FinalCRC)
}

// Tick runs the timeout sweep for every tracked transfer, per §4.9: any
// transfer whose overall deadline has elapsed is marked Timeout.
func (e *Engine) Tick(nowTick uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.transfers {
		if t.State() == Requesting || t.State() == Receiving {
			if t.OverallTimedOut(nowTick, e.overallDeadlineMs) {
				t.MarkTimeout()
			}
		}
	}
}

// TickWindows drives §4.6 step 3/4's per-window ARQ: for every tracked
// transfer whose current window is either full or past its window deadline,
// it sends the resulting Window ACK and applies its consequence
// (advance/retry/abort). Without a caller invoking this every tick, a module
// never hears back and keeps resending the same window forever.
func (e *Engine) TickWindows(ctx context.Context, bus canbus.Bus, nowTick uint32) error {
	e.mu.Lock()
	modules := make([]protocol.ModuleID, 0, len(e.transfers))
	for m := range e.transfers {
		modules = append(modules, m)
	}
	e.mu.Unlock()

	for _, m := range modules {
		ack, ready := e.EvaluateWindow(m, nowTick)
		if !ready {
			continue
		}
		f, err := ack.MarshalCANFrame()
		if err != nil {
			return err
		}
		if err := bus.Send(ctx, f); err != nil {
			return err
		}
		e.AdvanceWindowOrRetry(m, ack.Status, nowTick)
	}
	return nil
}

// Release returns a module's transfer to Idle so a new StartTransfer can
// begin. Callers do this after reading out a Complete/Error/Timeout result.
func (e *Engine) Release(module protocol.ModuleID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.transfers[module]; ok {
		t.Reset()
	}
}

// AbortAll aborts every Requesting or Receiving transfer to Error with the
// given reason, per §5's cancellation rule (e.g. on link-down). Transfers
// already Complete/Error/Timeout/Idle are left alone.
func (e *Engine) AbortAll(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.transfers {
		if t.State() == Requesting || t.State() == Receiving {
			t.AbortWithReason(reason)
		}
	}
}
