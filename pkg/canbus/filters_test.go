package canbus

import "testing"

func TestFiltersBasics(t *testing.T) {
	f1 := MustFrame(0x100, []byte{1})
	f2 := MustFrame(0x101, []byte{2})
	f3 := Frame{ID: 0x1ABCDEFF, Extended: true, Len: 0}

	if !ByID(0x100)(f1) || ByID(0x100)(f2) {
		t.Fatalf("ByID failure")
	}
	if !ByIDs(0x100, 0x102)(f1) || ByIDs(0x100, 0x102)(f2) {
		t.Fatalf("ByIDs failure")
	}
	if !ByRange(0x100, 0x1FF)(f2) || ByRange(0x200, 0x2FF)(f2) {
		t.Fatalf("ByRange failure")
	}
	if !ByMask(0x100, 0x7FF)(f1) || ByMask(0x100, 0x7FF)(f2) {
		t.Fatalf("ByMask failure")
	}
	if !StandardOnly()(f1) || StandardOnly()(f3) {
		t.Fatalf("StandardOnly failure")
	}
	if !ExtendedOnly()(f3) || ExtendedOnly()(f1) {
		t.Fatalf("ExtendedOnly failure")
	}

	data := f1
	data.RTR = false
	if !DataOnly()(data) {
		t.Fatalf("DataOnly failure")
	}
	rtr := f1
	rtr.RTR = true
	if !RTROnly()(rtr) {
		t.Fatalf("RTROnly failure")
	}
	if !And(ByID(0x100), DataOnly())(data) || And(ByID(0x100), DataOnly())(rtr) {
		t.Fatalf("And failure")
	}
	if !Or(ByID(0x100), ByID(0x999))(f1) || Or(ByID(0x999), ByID(0x998))(f1) {
		t.Fatalf("Or failure")
	}
	if Not(ByID(0x100))(f1) || !Not(ByID(0x999))(f1) {
		t.Fatalf("Not failure")
	}
}

func TestByMaskExtendedSubfield(t *testing.T) {
	// Module ID lives in the low byte of the sector-transfer extended ID
	// scheme (spec §6.1.6); ByMask should isolate it independent of the
	// base ID bits above it.
	a := Frame{ID: 0x3E300_05, Extended: true}
	b := Frame{ID: 0x3E300_07, Extended: true}
	if !ByMask(0x05, 0xFF)(a) {
		t.Fatalf("expected module 0x05 to match")
	}
	if ByMask(0x05, 0xFF)(b) {
		t.Fatalf("module 0x07 should not match mask for 0x05")
	}
}
