package engine

import "github.com/modbatt/packctl/pkg/protocol"

// RegistrationHandler drives the four numbered transitions of §4.3 on top
// of a Registry and CommandQueue. It holds no state of its own beyond its
// two collaborators, mirroring the emulator's ModuleManager methods it is
// grounded on.
type RegistrationHandler struct {
	registry *Registry
	queue    *CommandQueue
}

// NewRegistrationHandler constructs a handler over the given registry and
// command queue.
func NewRegistrationHandler(registry *Registry, queue *CommandQueue) *RegistrationHandler {
	return &RegistrationHandler{registry: registry, queue: queue}
}

// HandleAnnouncement implements transition 1 (Any -> Discovering): an
// announcing module either reclaims its existing slot or is assigned the
// smallest free one, then a Registration ack is latched. The slot stays
// Discovering until the ack is sent and ConfirmRegistered applies
// transition 2 (Discovering -> Registered). Re-announcement by an already-registered
// module is idempotent: it gets re-acked on the same slot, not duplicated.
func (h *RegistrationHandler) HandleAnnouncement(msg protocol.Announcement) (protocol.ModuleID, error) {
	id, err := h.registry.Register(msg.UniqueID)
	if err != nil {
		return 0, err
	}
	slot := h.registry.Slot(id)
	if slot != nil {
		slot.State = Discovering
		slot.Responding = true
	}
	h.queue.LatchRegistrationAck(id, msg.MfgID, msg.PartID, msg.UniqueID)
	return id, nil
}

// ConfirmRegistered moves a slot from Discovering to Registered (transition
// 2's completion), called once the ack above is known to have been
// transmitted. Modules that re-announce while already Registered pass
// through here harmlessly, re-confirming the same state.
func (h *RegistrationHandler) ConfirmRegistered(id protocol.ModuleID) {
	slot := h.registry.Slot(id)
	if slot == nil {
		return
	}
	if slot.State == Discovering || slot.State == Registered {
		slot.State = Registered
	}
}

// HandleDeregister implements transition 3 (Registered -> Deregistering ->
// Absent) for a single module, in response to a Deregister frame or an
// operator-issued deregister command.
func (h *RegistrationHandler) HandleDeregister(id protocol.ModuleID) {
	slot := h.registry.Slot(id)
	if slot != nil {
		slot.State = Deregistering
	}
	h.registry.Deregister(id)
}

// HandleAllDeregister implements transition 3 as a broadcast, clearing
// every slot at once.
func (h *RegistrationHandler) HandleAllDeregister() {
	h.registry.DeregisterAll()
}

// HandleTimeout implements transition 4 (Registered -> Absent) when the
// Timeout & Failure Monitor (C9) has declared a module lost. The slot
// falls straight to Absent without passing through Deregistering, since
// the module is presumed gone rather than cooperatively leaving.
func (h *RegistrationHandler) HandleTimeout(id protocol.ModuleID) {
	h.registry.Deregister(id)
}
