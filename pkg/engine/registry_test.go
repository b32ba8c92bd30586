package engine

import (
	"testing"

	"github.com/modbatt/packctl/pkg/protocol"
)

func TestRegisterAssignsSmallestFreeSlot(t *testing.T) {
	r := NewRegistry()
	id, err := r.Register(0xAAAA)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}
}

func TestRegisterIsIdempotentForSameUniqueID(t *testing.T) {
	r := NewRegistry()
	id1, _ := r.Register(0x1234)
	id2, _ := r.Register(0x1234)
	if id1 != id2 {
		t.Fatalf("re-registering the same unique id gave different slots: %d vs %d", id1, id2)
	}
}

func Test31stModuleRegistersAnd32ndFails(t *testing.T) {
	r := NewRegistry()
	for i := uint32(1); i <= MaxModules; i++ {
		if _, err := r.Register(i); err != nil {
			t.Fatalf("Register module %d: %v", i, err)
		}
	}
	if _, err := r.Register(9999); err != ErrRegistryFull {
		t.Fatalf("32nd Register error = %v, want ErrRegistryFull", err)
	}
}

func TestDeregisterKeepsUniqueIDForReattachment(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Register(0x5555)
	r.slot(id).State = Registered
	r.Deregister(id)

	if r.slots[id].UniqueID != 0x5555 {
		t.Fatalf("UniqueID lost after deregister")
	}
	again, _ := r.Register(0x5555)
	if again != id {
		t.Fatalf("re-announcement got slot %d, want original slot %d", again, id)
	}
}

func TestUpdateStatus1ZeroCellCountLeavesEmptyArray(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Register(1)
	r.UpdateStatus1(protocol.Status1{Module: id, CellCount: 0})
	slot := r.Slot(id)
	if len(slot.CellVoltages) != 0 {
		t.Fatalf("CellVoltages = %v, want empty", slot.CellVoltages)
	}
	if slot.CellCountExpected != 0 {
		t.Fatalf("CellCountExpected = %d, want 0 until a nonzero count arrives", slot.CellCountExpected)
	}
}

func TestCellCountExpectedLatchesOnFirstNonzeroReport(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Register(1)
	r.UpdateStatus1(protocol.Status1{Module: id, CellCount: 12})
	r.UpdateStatus1(protocol.Status1{Module: id, CellCount: 0})
	slot := r.Slot(id)
	if slot.CellCountExpected != 12 {
		t.Fatalf("CellCountExpected = %d, want latched 12", slot.CellCountExpected)
	}
}

func TestPackAggregatesExcludeOffModules(t *testing.T) {
	r := NewRegistry()
	idA, _ := r.Register(1)
	idB, _ := r.Register(2)
	r.slot(idA).State = Registered
	r.slot(idB).State = Registered
	r.slot(idA).ObservedState = protocol.StateOn
	r.slot(idB).ObservedState = protocol.StateOff
	r.slot(idA).Voltage = 48.0
	r.slot(idB).Voltage = 48.0
	r.slot(idA).Current = 5.0
	r.slot(idB).Current = -20.0

	if v := r.PackVoltage(); v != 48.0 {
		t.Fatalf("PackVoltage = %v, want 48 (Off module excluded)", v)
	}
	if c := r.PackCurrent(); c != 5.0 {
		t.Fatalf("PackCurrent = %v, want 5 (Off module excluded)", c)
	}
}

func TestPackCurrentPicksLargestMagnitude(t *testing.T) {
	r := NewRegistry()
	idA, _ := r.Register(1)
	idB, _ := r.Register(2)
	r.slot(idA).State = Registered
	r.slot(idB).State = Registered
	r.slot(idA).ObservedState = protocol.StateOn
	r.slot(idB).ObservedState = protocol.StateOn
	r.slot(idA).Current = 5.0
	r.slot(idB).Current = -30.0

	if c := r.PackCurrent(); c != -30.0 {
		t.Fatalf("PackCurrent = %v, want -30 (largest magnitude)", c)
	}
}

func TestPackSOCIsMeanOverRegisteredSlots(t *testing.T) {
	r := NewRegistry()
	idA, _ := r.Register(1)
	idB, _ := r.Register(2)
	r.slot(idA).State = Registered
	r.slot(idB).State = Registered
	r.slot(idA).SOC = 80
	r.slot(idB).SOC = 60

	if soc := r.PackSOC(); soc != 70 {
		t.Fatalf("PackSOC = %v, want 70", soc)
	}
}
