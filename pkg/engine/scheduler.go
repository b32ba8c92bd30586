package engine

import (
	"time"

	"github.com/modbatt/packctl/pkg/protocol"
)

// Scheduler tuning defaults, per §4.4 (ms).
const (
	DefaultHeartbeatPeriodMs     = 200
	DefaultTimeSyncPeriodMs      = 5000
	DefaultAnnounceReqPeriodMs   = 7000
	DefaultStatusPollPeriodMs    = 100
	DefaultCellDetailDeadlineMs  = 200
)

// WallClock supplies the BCD time fields a time-sync frame carries. It is
// the real-time-clock collaborator named out of scope in §1.
type WallClock interface {
	NowBCD() (year, month, day, hour, minute uint8)
}

// SystemClock reads the host's local time and encodes it in the 2-digit
// BCD form 0x516's fields carry (§6.1). cmd/packctl's connect command
// injects this into NewController for live bus sessions; tests use a
// fixed fake instead.
type SystemClock struct{}

func (SystemClock) NowBCD() (year, month, day, hour, minute uint8) {
	now := time.Now()
	return toBCD(uint8(now.Year() % 100)), toBCD(uint8(now.Month())), toBCD(uint8(now.Day())),
		toBCD(uint8(now.Hour())), toBCD(uint8(now.Minute()))
}

func toBCD(v uint8) uint8 {
	return (v/10)<<4 | (v % 10)
}

// Scheduler drives the three periodic timers and the two round-robin
// pollers of §4.4, latching requests into a CommandQueue rather than
// sending frames itself.
type Scheduler struct {
	registry *Registry
	queue    *CommandQueue
	clock    WallClock

	heartbeatPeriodMs   uint32
	timeSyncPeriodMs    uint32
	announceReqPeriodMs uint32
	statusPollPeriodMs  uint32

	lastHeartbeatTick   uint32
	lastTimeSyncTick    uint32
	lastAnnounceReqTick uint32
	lastStatusPollTick  uint32

	nextModuleToPoll protocol.ModuleID

	cellDetailModule protocol.ModuleID
	cellDetailActive bool
	nextCell         uint8
	cellCount        uint8
}

// NewScheduler constructs a Scheduler with the default periods.
func NewScheduler(registry *Registry, queue *CommandQueue, clock WallClock) *Scheduler {
	return &Scheduler{
		registry:            registry,
		queue:               queue,
		clock:               clock,
		heartbeatPeriodMs:   DefaultHeartbeatPeriodMs,
		timeSyncPeriodMs:    DefaultTimeSyncPeriodMs,
		announceReqPeriodMs: DefaultAnnounceReqPeriodMs,
		statusPollPeriodMs:  DefaultStatusPollPeriodMs,
		nextModuleToPoll:    1,
	}
}

// Tick runs every periodic timer and poller whose period has elapsed,
// latching into the CommandQueue. It is cheap to call every host tick;
// each timer no-ops until its own period elapses.
func (s *Scheduler) Tick(nowTick uint32) {
	if nowTick-s.lastHeartbeatTick >= s.heartbeatPeriodMs {
		s.lastHeartbeatTick = nowTick
		s.tickHeartbeat()
	}
	if nowTick-s.lastTimeSyncTick >= s.timeSyncPeriodMs {
		s.lastTimeSyncTick = nowTick
		s.tickTimeSync()
	}
	if nowTick-s.lastAnnounceReqTick >= s.announceReqPeriodMs {
		s.lastAnnounceReqTick = nowTick
		s.queue.LatchAnnounceRequest()
	}
	if nowTick-s.lastStatusPollTick >= s.statusPollPeriodMs {
		s.lastStatusPollTick = nowTick
		s.tickStatusPoll(nowTick)
	}
}

// tickHeartbeat queues a MaxState broadcast whose payload is the maximum
// commanded_state across all slots. No frame is queued if no slot is
// registered.
func (s *Scheduler) tickHeartbeat() {
	ids := s.registry.Registered()
	if len(ids) == 0 {
		return
	}
	max := protocol.StateOff
	for _, id := range ids {
		slot := s.registry.Slot(id)
		if slot.CommandedState > max {
			max = slot.CommandedState
		}
	}
	s.queue.LatchHeartbeat(max)
}

func (s *Scheduler) tickTimeSync() {
	if s.clock == nil {
		return
	}
	year, month, day, hour, minute := s.clock.NowBCD()
	s.queue.LatchTimeSync(year, month, day, hour, minute)
}

// tickStatusPoll advances the round-robin pointer over registered ids and
// latches a Status Request for the next module whose reply gate is clear.
func (s *Scheduler) tickStatusPoll(nowTick uint32) {
	ids := s.registry.Registered()
	if len(ids) == 0 {
		return
	}
	start := s.nextModuleToPoll
	for i := 0; i < len(ids); i++ {
		candidate := nextWrapping(start, i)
		slot := s.registry.Slot(candidate)
		if slot == nil || !slot.registered() {
			continue
		}
		if slot.AwaitingStatusReply {
			continue
		}
		slot.AwaitingStatusReply = true
		slot.StatusRequestTick = nowTick
		s.queue.LatchStatusRequest(candidate)
		s.nextModuleToPoll = wrapID(candidate + 1)
		return
	}
}

// StartCellDetailPoll begins polling a module cell-by-cell, used when the
// operator is viewing the Cells surface for that module (§4.4).
func (s *Scheduler) StartCellDetailPoll(module protocol.ModuleID, cellCount uint8) {
	s.cellDetailModule = module
	s.cellDetailActive = cellCount > 0
	s.nextCell = 0
	s.cellCount = cellCount
}

// StopCellDetailPoll disables the cell-detail poller.
func (s *Scheduler) StopCellDetailPoll() {
	s.cellDetailActive = false
}

// TickCellDetail latches the next cell's Detail Request, gated by the
// module's awaiting_cell_reply flag. It does not advance next_cell:
// AdvanceCellDetail does that once the Detail reply arrives, so a
// request latched again before any reply targets the same cell index.
func (s *Scheduler) TickCellDetail(nowTick uint32) {
	if !s.cellDetailActive {
		return
	}
	slot := s.registry.Slot(s.cellDetailModule)
	if slot == nil || !slot.registered() {
		s.cellDetailActive = false
		return
	}
	if slot.AwaitingCellReply {
		return
	}
	slot.AwaitingCellReply = true
	slot.CellRequestTick = nowTick
	s.queue.LatchCellDetail(s.cellDetailModule, s.nextCell)
}

// AdvanceCellDetail moves to the next cell after a successful Detail
// reply, wrapping at cellCount.
func (s *Scheduler) AdvanceCellDetail() {
	if !s.cellDetailActive {
		return
	}
	s.nextCell++
	if s.nextCell >= s.cellCount {
		s.nextCell = 0
	}
}

// CancelAll resets in-flight polling state on link-down (§5).
func (s *Scheduler) CancelAll() {
	s.cellDetailActive = false
}

func nextWrapping(start protocol.ModuleID, offset int) protocol.ModuleID {
	return wrapID(protocol.ModuleID(int(start) + offset))
}

func wrapID(id protocol.ModuleID) protocol.ModuleID {
	if id < 1 {
		return MaxModules
	}
	if int(id) > MaxModules {
		return 1
	}
	return id
}
