package framexfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/protocol"
	"github.com/modbatt/packctl/pkg/sdxfer"
)

// Default tuning, shared with the sector transfer engine's defaults since
// the wire geometry's per-window chunk count is identical (only the window
// count differs).
const (
	DefaultMaxRetries        = sdxfer.DefaultMaxRetries
	DefaultWindowDeadlineMs  = sdxfer.DefaultWindowDeadlineMs
	DefaultOverallDeadlineMs = sdxfer.DefaultOverallDeadlineMs
)

// Engine drives EEPROM frame transfers: at most one active transfer per
// module, reusing pkg/sdxfer's Transfer state machine with this package's
// Geometry, but tracked in a table independent of the sector transfer
// engine's so a module can have a sector transfer and a frame transfer
// outstanding at once without either seeing the other's bitmap state.
type Engine struct {
	mu sync.Mutex

	maxRetries        int
	windowDeadlineMs  uint32
	overallDeadlineMs uint32

	transfers map[protocol.ModuleID]*sdxfer.Transfer
}

// NewEngine constructs a frame transfer engine with the given retry and
// deadline policy.
func NewEngine(maxRetries int, windowDeadlineMs, overallDeadlineMs uint32) *Engine {
	return &Engine{
		maxRetries:        maxRetries,
		windowDeadlineMs:  windowDeadlineMs,
		overallDeadlineMs: overallDeadlineMs,
		transfers:         make(map[protocol.ModuleID]*sdxfer.Transfer),
	}
}

// Transfer returns the transfer tracked for a module, if any.
func (e *Engine) Transfer(module protocol.ModuleID) (*sdxfer.Transfer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[module]
	return t, ok
}

// RequestInfo asks a module for its current frame position (FRAME_CMD_GET_INFO).
func (e *Engine) RequestInfo(ctx context.Context, bus canbus.Bus, module protocol.ModuleID) error {
	req := protocol.FrameInfoRequest{Module: module}
	f, err := req.MarshalCANFrame()
	if err != nil {
		return err
	}
	return bus.Send(ctx, f)
}

// StartTransfer requests frameNumber from module, rejecting the request if
// a non-Idle frame transfer is already tracked for that module.
func (e *Engine) StartTransfer(ctx context.Context, bus canbus.Bus, module protocol.ModuleID, transferID uint8, frameNumber uint32, nowTick uint32) error {
	e.mu.Lock()
	t, ok := e.transfers[module]
	if !ok {
		t = sdxfer.NewTransfer(Geometry)
		e.transfers[module] = t
	}
	if err := t.Start(transferID, frameNumber, nowTick, e.windowDeadlineMs); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	req := protocol.FrameRequest{Module: module, Command: protocol.FrameCmdGetFrame, FrameNumber: frameNumber, TransferID: transferID}
	f, err := req.MarshalCANFrame()
	if err != nil {
		return err
	}
	return bus.Send(ctx, f)
}

// StopTransfer tells a module to abandon its current transfer and marks
// the locally tracked transfer aborted.
func (e *Engine) StopTransfer(ctx context.Context, bus canbus.Bus, module protocol.ModuleID, transferID uint8) error {
	e.mu.Lock()
	if t, ok := e.transfers[module]; ok {
		t.Abort()
	}
	e.mu.Unlock()

	req := protocol.FrameRequest{Module: module, Command: protocol.FrameCmdStopTransfer, TransferID: transferID}
	f, err := req.MarshalCANFrame()
	if err != nil {
		return err
	}
	return bus.Send(ctx, f)
}

// HandleDataChunk applies a received frame data chunk to the owning
// module's transfer. It is a no-op if no transfer is tracked for the
// chunk's module, since a stray or late chunk after abort is expected.
func (e *Engine) HandleDataChunk(chunk protocol.FrameDataChunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[chunk.Subfields.Module]
	if !ok || t.State() != sdxfer.Requesting && t.State() != sdxfer.Receiving {
		return nil
	}
	return t.HandleChunk(chunk.Subfields.WindowID, chunk.Subfields.ChunkNum, chunk.Data[:chunk.Len])
}

// EvaluateWindow checks whether the current window is ready for an ACK —
// full, or its deadline has elapsed — and if so returns the ack to send.
// The caller is responsible for transmitting it and for calling
// AdvanceWindowOrRetry afterwards.
func (e *Engine) EvaluateWindow(module protocol.ModuleID, nowTick uint32) (protocol.FrameWindowAck, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[module]
	if !ok || t.State() != sdxfer.Receiving {
		return protocol.FrameWindowAck{}, false
	}
	win := uint8(t.CurrentWindow())
	full := t.WindowComplete(win)
	if !full && !t.WindowTimedOut(nowTick) {
		return protocol.FrameWindowAck{}, false
	}

	status := protocol.SDWindowOK
	if !full {
		status = protocol.SDWindowRetry
		if t.RetryCount() >= e.maxRetries {
			status = protocol.SDWindowAbort
		}
	}
	ack := protocol.FrameWindowAck{
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
// on OK it advances to the next window, on Retry it increments the retry
// counter and resets the window deadline, and on Abort it aborts the
// transfer.
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

// HandleStatus finalizes a transfer on receipt of the module's Frame
// Status frame, verifying the final CRC against the engine's running CRC.
func (e *Engine) HandleStatus(st protocol.FrameStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transfers[st.Module]
	if !ok {
		return fmt.Errorf("framexfer: status for unknown transfer on module 0x%02X", st.Module)
	}
	if st.StatusCode != protocol.FrameXferOK {
		t.Abort()
		return fmt.Errorf("framexfer: module 0x%02X reported transfer status 0x%02X", st.Module, st.StatusCode)
	}
	return t.Complete(st.FinalCRC)
}

// Tick runs the timeout sweep for every tracked transfer: any transfer
// whose overall deadline has elapsed is marked Timeout.
func (e *Engine) Tick(nowTick uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.transfers {
		if t.State() == sdxfer.Requesting || t.State() == sdxfer.Receiving {
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
// given reason, per §5's cancellation rule (e.g. on link-down).
func (e *Engine) AbortAll(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.transfers {
		if t.State() == sdxfer.Requesting || t.State() == sdxfer.Receiving {
			t.AbortWithReason(reason)
		}
	}
}
