package sdxfer

import "fmt"

// State is a transfer's position in the Idle/Requesting/Receiving/
// Complete/Error/Timeout state machine, §3 and §4.6.
type State uint8

const (
	Idle State = iota
	Requesting
	Receiving
	Complete
	Error
	Timeout
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Receiving:
		return "receiving"
	case Complete:
		return "complete"
	case Error:
		return "error"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Transfer is one windowed bulk transfer in progress, generalized over
// Geometry so both the sector-transfer engine (4×16×8) and the EEPROM
// frame-transfer engine (8×16×8) share this state machine.
type Transfer struct {
	Geometry   Geometry
	TransferID uint8
	UnitNum    uint32 // sector_num for sdxfer, frame_num for framexfer

	state         State
	buffer        []byte
	chunkBitmap   []uint16
	currentWindow int

	crc        *CRC16
	expectedCRC uint16

	startTick         uint32
	windowDeadlineTick uint32
	retryCount        int

	reason string
}

// NewTransfer allocates an idle transfer with the given geometry.
func NewTransfer(geom Geometry) *Transfer {
	return &Transfer{
		Geometry:    geom,
		buffer:      make([]byte, geom.BufferSize()),
		chunkBitmap: make([]uint16, geom.Windows),
		crc:         NewCRC16(),
	}
}

// Start begins a new transfer. It fails if a transfer is already active,
// enforcing the single-active-transfer-per-module invariant (§5) at the
// transfer level; the engine additionally enforces it across modules.
func (t *Transfer) Start(transferID uint8, unitNum uint32, nowTick, windowDeadlineMs uint32) error {
	if t.state != Idle && t.state != Complete && t.state != Error && t.state != Timeout {
		return fmt.Errorf("sdxfer: transfer already active (state=%s)", t.state)
	}
	t.TransferID = transferID
	t.UnitNum = unitNum
	t.state = Requesting
	t.currentWindow = 0
	t.retryCount = 0
	t.startTick = nowTick
	t.windowDeadlineTick = nowTick + windowDeadlineMs
	t.crc.Reset()
	for i := range t.chunkBitmap {
		t.chunkBitmap[i] = 0
	}
	for i := range t.buffer {
		t.buffer[i] = 0
	}
	return nil
}

// HandleChunk records one received chunk's data, feeds it into the running
// CRC, and sets its bitmap bit. Re-delivery of an already-set bit is
// tolerated (the module may retransmit); the CRC is fed only once per
// chunk to avoid double-counting a retransmission.
func (t *Transfer) HandleChunk(windowID, chunkNum uint8, data []byte) error {
	if int(windowID) >= t.Geometry.Windows {
		return fmt.Errorf("sdxfer: window %d out of range (max %d)", windowID, t.Geometry.Windows-1)
	}
	if int(chunkNum) >= t.Geometry.ChunksPerWindow {
		return fmt.Errorf("sdxfer: chunk %d out of range (max %d)", chunkNum, t.Geometry.ChunksPerWindow-1)
	}
	if t.state == Requesting {
		t.state = Receiving
	}
	bit := uint16(1) << chunkNum
	alreadySeen := t.chunkBitmap[windowID]&bit != 0
	offset := (int(windowID)*t.Geometry.ChunksPerWindow + int(chunkNum)) * t.Geometry.ChunkSize
	n := t.Geometry.ChunkSize
	if len(data) < n {
		n = len(data)
	}
	copy(t.buffer[offset:offset+n], data[:n])
	if !alreadySeen {
		t.chunkBitmap[windowID] |= bit
		t.crc.Write(t.buffer[offset : offset+t.Geometry.ChunkSize])
	}
	return nil
}

// WindowBitmap returns the current chunk bitmap for a window.
func (t *Transfer) WindowBitmap(windowID uint8) uint16 { return t.chunkBitmap[windowID] }

// WindowComplement returns the bits still missing from a window's bitmap;
// a Window ACK with status Retry carries this to tell the module which
// chunks to resend.
func (t *Transfer) WindowComplement(windowID uint8) uint16 {
	return t.Geometry.fullBitmap() &^ t.chunkBitmap[windowID]
}

// WindowComplete reports whether every chunk in a window has been seen.
func (t *Transfer) WindowComplete(windowID uint8) bool {
	return t.chunkBitmap[windowID] == t.Geometry.fullBitmap()
}

// AdvanceWindow moves to the next window, resetting the per-window retry
// count and deadline. It returns false if the current window was the last.
func (t *Transfer) AdvanceWindow(nowTick, windowDeadlineMs uint32) bool {
	if t.currentWindow >= t.Geometry.Windows-1 {
		return false
	}
	t.currentWindow++
	t.retryCount = 0
	t.windowDeadlineTick = nowTick + windowDeadlineMs
	return true
}

// CurrentWindow returns the window the engine is currently servicing.
func (t *Transfer) CurrentWindow() int { return t.currentWindow }

// AllWindowsComplete reports whether every window's bitmap is full.
func (t *Transfer) AllWindowsComplete() bool {
	for i := range t.chunkBitmap {
		if t.chunkBitmap[i] != t.Geometry.fullBitmap() {
			return false
		}
	}
	return true
}

// RunningCRC returns the CRC accumulated so far over received chunk data.
func (t *Transfer) RunningCRC() uint16 { return t.crc.Sum16() }

// Buffer returns the assembled payload so far. Callers must not mutate it.
func (t *Transfer) Buffer() []byte { return t.buffer }

// RetryCount returns the number of retries issued for the current window.
func (t *Transfer) RetryCount() int { return t.retryCount }

// IncRetry increments the current window's retry count.
func (t *Transfer) IncRetry() { t.retryCount++ }

// ResetWindowDeadline pushes the current window's deadline out from
// nowTick, used when retrying a window rather than advancing past it.
func (t *Transfer) ResetWindowDeadline(nowTick, windowDeadlineMs uint32) {
	t.windowDeadlineTick = nowTick + windowDeadlineMs
}

// tickAtOrAfter reports whether tick a is at or after tick b, tolerating a
// single 32-bit millisecond-counter wraparound (the comparison is only
// meaningful for deadlines within half the counter's range of "now").
func tickAtOrAfter(a, b uint32) bool { return int32(a-b) >= 0 }

// WindowTimedOut reports whether the current window's deadline has passed.
func (t *Transfer) WindowTimedOut(nowTick uint32) bool {
	return tickAtOrAfter(nowTick, t.windowDeadlineTick)
}

// OverallTimedOut reports whether the transfer has exceeded its overall
// deadline since Start.
func (t *Transfer) OverallTimedOut(nowTick, overallDeadlineMs uint32) bool {
	return tickAtOrAfter(nowTick, t.startTick+overallDeadlineMs)
}

// Complete finalizes the transfer: it compares finalCRC against the
// running CRC and transitions to Complete or Error(CRC mismatch). It
// returns an error describing the mismatch, if any; the caller (the
// engine) is responsible for surfacing SD_STATUS_CRC_ERROR.
func (t *Transfer) Complete(finalCRC uint16) error {
	t.expectedCRC = finalCRC
	if t.crc.Sum16() != finalCRC {
		t.state = Error
		return fmt.Errorf("sdxfer: crc mismatch: running=0x%04X final=0x%04X", t.crc.Sum16(), finalCRC)
	}
	t.state = Complete
	return nil
}

// Abort transitions the transfer to Error without a CRC check, e.g. on
// retry exhaustion or an explicit Abort window status.
func (t *Transfer) Abort() { t.state = Error }

// AbortWithReason is Abort plus a reason string recorded for diagnostics,
// e.g. "link-down" when the bus goes down mid-transfer (§5).
func (t *Transfer) AbortWithReason(reason string) {
	t.state = Error
	t.reason = reason
}

// Reason returns the reason recorded by AbortWithReason, empty otherwise.
func (t *Transfer) Reason() string { return t.reason }

// MarkTimeout transitions the transfer to Timeout.
func (t *Transfer) MarkTimeout() { t.state = Timeout }

// Reset returns the transfer to Idle, ready for reuse.
func (t *Transfer) Reset() {
	t.state = Idle
	t.reason = ""
}

// State returns the transfer's current state.
func (t *Transfer) State() State { return t.state }
