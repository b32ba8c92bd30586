package engine

import (
	"context"
	"sync"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/protocol"
)

// registrationAck is one pending Registration frame to transmit.
type registrationAck struct {
	AssignedID protocol.ModuleID
	MfgID      uint8
	PartID     uint8
	UniqueID   uint32
}

// CommandQueue arbitrates the seven priority classes of §4.5. Each class
// is a latched boolean (plus parameters) rather than a FIFO: repeated
// sets before service coalesce into one pending request. Tick transmits
// at most one frame per call, in strict priority order, so a single
// invocation never floods the transceiver.
type CommandQueue struct {
	mu sync.Mutex

	stateChangeSet    bool
	stateChangeModule protocol.ModuleID
	stateChangeState  protocol.ModuleState

	heartbeatSet bool
	maxState     protocol.ModuleState

	cellDetailSet    bool
	cellDetailModule protocol.ModuleID
	cellDetailCell   uint8

	statusReqSet    bool
	statusReqModule protocol.ModuleID

	registrationAcks []registrationAck

	timeSyncSet  bool
	timeSyncYear, timeSyncMonth, timeSyncDay, timeSyncHour, timeSyncMinute uint8

	announceReqSet bool

	// OnRegistrationAckSent, if set, is called with a module's assigned id
	// immediately after its Registration ack frame is transmitted
	// successfully. Controller wires this to RegistrationHandler.
	// ConfirmRegistered, completing §4.3 transition 2 (Discovering ->
	// Registered) at the point the ack is known to be on the wire rather
	// than merely latched.
	OnRegistrationAckSent func(protocol.ModuleID)
}

// NewCommandQueue constructs an empty queue.
func NewCommandQueue() *CommandQueue { return &CommandQueue{} }

// LatchStateChange sets priority 1, the safety-critical state command.
func (q *CommandQueue) LatchStateChange(module protocol.ModuleID, state protocol.ModuleState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stateChangeSet = true
	q.stateChangeModule = module
	q.stateChangeState = state
}

// LatchHeartbeat sets priority 2, the MaxState broadcast.
func (q *CommandQueue) LatchHeartbeat(maxState protocol.ModuleState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heartbeatSet = true
	q.maxState = maxState
}

// LatchCellDetail sets priority 3, a single-cell Detail Request.
func (q *CommandQueue) LatchCellDetail(module protocol.ModuleID, cell uint8) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cellDetailSet = true
	q.cellDetailModule = module
	q.cellDetailCell = cell
}

// LatchStatusRequest sets priority 4, a single-module Status Request.
func (q *CommandQueue) LatchStatusRequest(module protocol.ModuleID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statusReqSet = true
	q.statusReqModule = module
}

// LatchRegistrationAck enqueues priority 5, a Registration frame. Unlike
// the other classes this is a small FIFO rather than a single latch,
// since distinct modules may announce in the same tick window and each
// must eventually get its own ack. mfgID/partID are carried straight
// through from the Announcement that triggered this ack (§6.1.3's payload
// echoes both back to the module).
func (q *CommandQueue) LatchRegistrationAck(assignedID protocol.ModuleID, mfgID, partID uint8, uniqueID uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registrationAcks = append(q.registrationAcks, registrationAck{AssignedID: assignedID, MfgID: mfgID, PartID: partID, UniqueID: uniqueID})
}

// LatchTimeSync sets priority 6, a SetTime broadcast (BCD form).
func (q *CommandQueue) LatchTimeSync(year, month, day, hour, minute uint8) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.timeSyncSet = true
	q.timeSyncYear, q.timeSyncMonth, q.timeSyncDay, q.timeSyncHour, q.timeSyncMinute = year, month, day, hour, minute
}

// LatchAnnounceRequest sets priority 7, the broadcast announce-request.
func (q *CommandQueue) LatchAnnounceRequest() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.announceReqSet = true
}

// Reset clears every latch, used on link-down (§5 Cancellation). The
// OnRegistrationAckSent wiring survives the reset: it is a collaborator hook
// set up once at construction, not a pending command.
func (q *CommandQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stateChangeSet = false
	q.heartbeatSet = false
	q.cellDetailSet = false
	q.statusReqSet = false
	q.registrationAcks = nil
	q.timeSyncSet = false
	q.announceReqSet = false
}

// Tick transmits at most one frame, the highest-priority class currently
// latched, and reports which class (if any) it serviced. On send failure
// the latch is re-asserted for retry next tick, except for the one-shot
// classes (registration ack, announce request), which are logged and
// dropped per §4.5.
func (q *CommandQueue) Tick(ctx context.Context, bus canbus.Bus) (serviced bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stateChangeSet {
		f, merr := protocol.StateChange{Module: q.stateChangeModule, State: q.stateChangeState}.MarshalCANFrame()
		if merr != nil {
			return false, merr
		}
		if sendErr := bus.Send(ctx, f); sendErr != nil {
			return true, sendErr // flag stays latched for retry
		}
		q.stateChangeSet = false
		return true, nil
	}

	if q.heartbeatSet {
		f, merr := protocol.MaxState{MaxStateAllowed: q.maxState}.MarshalCANFrame()
		if merr != nil {
			return false, merr
		}
		if sendErr := bus.Send(ctx, f); sendErr != nil {
			return true, sendErr
		}
		q.heartbeatSet = false
		return true, nil
	}

	if q.cellDetailSet {
		f, merr := protocol.DetailReq{Module: q.cellDetailModule, CellID: q.cellDetailCell}.MarshalCANFrame()
		if merr != nil {
			return false, merr
		}
		if sendErr := bus.Send(ctx, f); sendErr != nil {
			return true, sendErr
		}
		q.cellDetailSet = false
		return true, nil
	}

	if q.statusReqSet {
		f, merr := protocol.StatusReq{Module: q.statusReqModule, Want: 0x01}.MarshalCANFrame()
		if merr != nil {
			return false, merr
		}
		if sendErr := bus.Send(ctx, f); sendErr != nil {
			return true, sendErr
		}
		q.statusReqSet = false
		return true, nil
	}

	if len(q.registrationAcks) > 0 {
		ack := q.registrationAcks[0]
		f, merr := protocol.Registration{AssignedID: ack.AssignedID, ControllerID: 0x01, MfgID: ack.MfgID, PartID: ack.PartID, UniqueID: ack.UniqueID}.MarshalCANFrame()
		if merr != nil {
			return false, merr
		}
		q.registrationAcks = q.registrationAcks[1:]
		if sendErr := bus.Send(ctx, f); sendErr != nil {
			return true, sendErr // one-shot: logged by caller, not re-latched
		}
		if q.OnRegistrationAckSent != nil {
			q.OnRegistrationAckSent(ack.AssignedID)
		}
		return true, nil
	}

	if q.timeSyncSet {
		f, merr := protocol.SetTime{
			YearBCD: q.timeSyncYear, MonthBCD: q.timeSyncMonth, DayBCD: q.timeSyncDay,
			HourBCD: q.timeSyncHour, MinuteBCD: q.timeSyncMinute,
		}.MarshalCANFrame()
		if merr != nil {
			return false, merr
		}
		if sendErr := bus.Send(ctx, f); sendErr != nil {
			return true, sendErr // flag stays latched for retry
		}
		q.timeSyncSet = false
		return true, nil
	}

	if q.announceReqSet {
		f, merr := protocol.AnnounceReq{}.MarshalCANFrame()
		if merr != nil {
			return false, merr
		}
		q.announceReqSet = false
		if sendErr := bus.Send(ctx, f); sendErr != nil {
			return true, sendErr // one-shot: logged by caller, not re-latched
		}
		return true, nil
	}

	return false, nil
}
