package engine

import (
	"context"
	"fmt"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/debuglog"
	"github.com/modbatt/packctl/pkg/framexfer"
	"github.com/modbatt/packctl/pkg/protocol"
	"github.com/modbatt/packctl/pkg/sdxfer"
	"github.com/modbatt/packctl/pkg/web4"
)

// VCU diagnostic range carved out of scope by §1, minus the WEB4 and
// EEPROM-frame sub-ranges that fall inside it and are handled by this
// package's own collaborators rather than forwarded to the hook.
const (
	vcuRangeLow  = 0x220
	vcuRangeHigh = 0x44F
)

// VCUHook is the single seam into VCU-facing logic this package does not
// implement (§12). Returning false leaves the frame unconsumed.
type VCUHook func(canbus.Frame) bool

// Controller ties the Module Registry (C2), Registration State Machine
// (C3), Scheduler (C4), Command Queue (C5), Timeout Monitor (C9), and the
// three bulk transfer engines into one dispatch surface.
type Controller struct {
	Registry     *Registry
	Queue        *CommandQueue
	Scheduler    *Scheduler
	Registration *RegistrationHandler
	Timeouts     *TimeoutMonitor

	SDXfer   *sdxfer.Engine
	FrameXfer *framexfer.Engine
	Web4     *web4.Engine

	Log *debuglog.Logger

	VCU VCUHook
}

// NewController wires up every collaborator with default tuning. Callers
// may replace any exported field before first use to override tuning or
// inject a VCU hook.
func NewController(log *debuglog.Logger, clock WallClock, web4Store web4.Store, initialKeys web4.StoredKeys) *Controller {
	registry := NewRegistry()
	queue := NewCommandQueue()
	registration := NewRegistrationHandler(registry, queue)
	queue.OnRegistrationAckSent = registration.ConfirmRegistered
	return &Controller{
		Registry:     registry,
		Queue:        queue,
		Scheduler:    NewScheduler(registry, queue, clock),
		Registration: registration,
		Timeouts:     NewTimeoutMonitor(registry, registration, TStatusHardMs, DefaultCellDetailDeadlineMs),
		SDXfer:       sdxfer.NewEngine(sdxfer.DefaultMaxRetries, sdxfer.DefaultWindowDeadlineMs, sdxfer.DefaultOverallDeadlineMs),
		FrameXfer:    framexfer.NewEngine(framexfer.DefaultMaxRetries, framexfer.DefaultWindowDeadlineMs, framexfer.DefaultOverallDeadlineMs),
		Web4:         web4.NewEngine(web4Store, initialKeys),
		Log:          log,
	}
}

// Dispatch is the single inbound entry point (§12): every frame read off
// the bus is routed here by base-id range. Frames the dispatcher does not
// recognize at all — base-id 0x000 included, per the Open Question
// decision not to tolerate it as a disguised Announcement — are logged
// and dropped rather than guessed at.
func (c *Controller) Dispatch(ctx context.Context, bus canbus.Bus, f canbus.Frame, nowTick uint32) error {
	if !f.Extended {
		return c.unknown(f)
	}
	base, _ := protocol.DecodeExtID(f.ID)

	switch {
	case base >= 0x500 && base <= 0x51F:
		return c.dispatchModuleProtocol(base, f)
	case base >= 0x3F0 && base <= 0x3F3:
		return c.dispatchSDXfer(ctx, bus, base, f)
	case base >= 0x3E0 && base <= 0x3E5:
		return c.dispatchFrameXfer(ctx, bus, base, f)
	case base == protocol.BaseWeb4PackDevice, base == protocol.BaseWeb4AppDevice, base == protocol.BaseWeb4ComponentIds:
		return c.dispatchWeb4Chunk(ctx, bus, f, nowTick)
	case base == protocol.BaseWeb4AckPackDevice, base == protocol.BaseWeb4AckAppDevice, base == protocol.BaseWeb4AckComponentIds:
		// Acks in this direction are module-originated on the real bus
		// protocol; the controller only ever sends them, never receives
		// them. Treated as unknown rather than silently accepted.
		return c.unknown(f)
	case uint32(base) >= vcuRangeLow && uint32(base) <= vcuRangeHigh:
		if c.VCU != nil && c.VCU(f) {
			return nil
		}
		return c.unknown(f)
	default:
		return c.unknown(f)
	}
}

func (c *Controller) unknown(f canbus.Frame) error {
	if c.Log != nil {
		c.Log.Show(context.Background(), debuglog.MsgUnknownCANID, f.ID)
	}
	return nil
}

func (c *Controller) dispatchModuleProtocol(base protocol.BaseID, f canbus.Frame) error {
	switch base {
	case protocol.BaseAnnouncement:
		var msg protocol.Announcement
		if err := msg.UnmarshalCANFrame(f); err != nil {
			return err
		}
		_, err := c.Registration.HandleAnnouncement(msg)
		return err
	case protocol.BaseHardware:
		var msg protocol.Hardware
		if err := msg.UnmarshalCANFrame(f); err != nil {
			return err
		}
		c.Registry.UpdateHardware(msg)
	case protocol.BaseStatus1:
		var msg protocol.Status1
		if err := msg.UnmarshalCANFrame(f); err != nil {
			return err
		}
		c.Registry.UpdateStatus1(msg)
	case protocol.BaseStatus2:
		var msg protocol.Status2
		if err := msg.UnmarshalCANFrame(f); err != nil {
			return err
		}
		c.Registry.UpdateStatus2(msg)
	case protocol.BaseStatus3:
		var msg protocol.Status3
		if err := msg.UnmarshalCANFrame(f); err != nil {
			return err
		}
		c.Registry.UpdateStatus3(msg)
	case protocol.BaseDetail:
		var msg protocol.Detail
		if err := msg.UnmarshalCANFrame(f); err != nil {
			return err
		}
		c.Registry.UpdateDetail(msg)
		c.Scheduler.AdvanceCellDetail()
	case protocol.BaseCellCommStatus1:
		var msg protocol.CellCommStatus1
		if err := msg.UnmarshalCANFrame(f); err != nil {
			return err
		}
		c.Registry.UpdateCellComm(msg)
	case protocol.BaseTimeRequest:
		// Accepted without decoding and not acted on: time sync goes out
		// on the scheduler's periodic timer, not in reply to a request.
	case protocol.BaseDeregister:
		var msg protocol.Deregister
		if err := msg.UnmarshalCANFrame(f); err != nil {
			return err
		}
		c.Registration.HandleDeregister(msg.Module)
	case protocol.BaseAllDeregister:
		c.Registration.HandleAllDeregister()
	default:
		return c.unknown(f)
	}
	return nil
}

func (c *Controller) dispatchSDXfer(ctx context.Context, bus canbus.Bus, base protocol.BaseID, f canbus.Frame) error {
	switch base {
	case protocol.BaseSDData:
		var chunk protocol.SDDataChunk
		if err := chunk.UnmarshalCANFrame(f); err != nil {
			return err
		}
		return c.SDXfer.HandleDataChunk(chunk)
	case protocol.BaseSDStatus:
		var st protocol.SDStatus
		if err := st.UnmarshalCANFrame(f); err != nil {
			return err
		}
		return c.SDXfer.HandleStatus(st)
	default:
		return c.unknown(f)
	}
}

func (c *Controller) dispatchFrameXfer(ctx context.Context, bus canbus.Bus, base protocol.BaseID, f canbus.Frame) error {
	switch base {
	case protocol.BaseFrameInfoResponse:
		// Decoded by the caller of RequestInfo; the engine tracks no
		// state for it beyond the frame-transfer sequence it precedes.
		return nil
	case protocol.BaseFrameData:
		var chunk protocol.FrameDataChunk
		if err := chunk.UnmarshalCANFrame(f); err != nil {
			return err
		}
		return c.FrameXfer.HandleDataChunk(chunk)
	case protocol.BaseFrameStatus:
		var st protocol.FrameStatus
		if err := st.UnmarshalCANFrame(f); err != nil {
			return err
		}
		return c.FrameXfer.HandleStatus(st)
	default:
		return c.unknown(f)
	}
}

func (c *Controller) dispatchWeb4Chunk(ctx context.Context, bus canbus.Bus, f canbus.Frame, nowTick uint32) error {
	var chunk protocol.Web4KeyChunk
	if err := chunk.UnmarshalCANFrame(f); err != nil {
		// Undecodable chunk (e.g. bad length): dropped with no ACK and
		// nothing logged.
		return nil
	}
	return c.Web4.HandleChunk(ctx, bus, chunk, nowTick)
}

// Tick advances every time-driven collaborator by one step: the command
// queue (at most one frame sent), the scheduler's periodic timers, the
// cell-detail poller, the bulk transfer engines' overall-deadline sweeps,
// and their per-window ACK/retry/abort evaluation (§4.6 step 3/4) — without
// the latter a module never hears a Window ACK and keeps resending the same
// window forever. It does not run the 1Hz timeout monitor sweep — callers
// invoke Timeouts.Sweep on their own slower cadence.
func (c *Controller) Tick(ctx context.Context, bus canbus.Bus, nowTick uint32) error {
	c.Scheduler.Tick(nowTick)
	c.Scheduler.TickCellDetail(nowTick)
	c.SDXfer.Tick(nowTick)
	c.FrameXfer.Tick(nowTick)
	c.Web4.CheckTimeout(nowTick)
	if err := c.SDXfer.TickWindows(ctx, bus, nowTick); err != nil {
		return err
	}
	if err := c.FrameXfer.TickWindows(ctx, bus, nowTick); err != nil {
		return err
	}
	_, err := c.Queue.Tick(ctx, bus)
	return err
}

// DistributeKeys records the currently-held WEB4 key material (received
// from the VCU over 0x407-0x409, see pkg/web4) as delivered to the named
// module slot. There is no module-addressed field in the WEB4 wire
// format (§6.1.4: it is a single VCU<->pack-controller channel), so this
// is bookkeeping on the slot rather than a frame transmission — it
// answers "has this module received its keys yet", matching
// ModuleSlot's KeyHalves/ComponentID fields ("present once distributed,
// absent until then"). Provisioning the physical module with that
// material over its own side channel is outside this package's scope.
func (c *Controller) DistributeKeys(id protocol.ModuleID) error {
	slot := c.Registry.Slot(id)
	if slot == nil {
		return fmt.Errorf("engine: no such module slot %d", id)
	}
	keys := c.Web4.Keys()
	if !keys.AllValid() {
		return fmt.Errorf("engine: key material is not fully received yet")
	}
	packHalf := append([]byte(nil), keys.PackDevice[:]...)
	appHalf := append([]byte(nil), keys.AppDevice[:]...)
	slot.KeyHalves = [][]byte{packHalf, appHalf}
	slot.ComponentID = append(append([]byte(nil), keys.PackComponentID[:]...), keys.AppComponentID[:]...)
	return nil
}

// linkDownReason is recorded on every transfer this package aborts when
// the bus goes down (§5, spec scenario 6).
const linkDownReason = "link-down"

// LinkDown cancels all in-flight requests per §5's cancellation rule,
// called when the underlying bus reports a persistent transport failure:
// the command queue and scheduler are reset, every slot's in-flight gates
// are cleared, and every active sector/frame/key transfer is aborted to
// Error with a link-down reason.
func (c *Controller) LinkDown() {
	c.Queue.Reset()
	c.Scheduler.CancelAll()
	for _, id := range c.Registry.Registered() {
		if slot := c.Registry.Slot(id); slot != nil {
			slot.clearInFlight()
		}
	}
	c.SDXfer.AbortAll(linkDownReason)
	c.FrameXfer.AbortAll(linkDownReason)
	c.Web4.AbortAll()
}
