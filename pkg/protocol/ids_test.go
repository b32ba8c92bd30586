package protocol

import "testing"

func TestEncodeDecodeExtID(t *testing.T) {
	cases := []struct {
		base   BaseID
		module ModuleID
		want   uint32
	}{
		{BaseAnnouncement, Unregistered, 0x140000FF},
		{BaseRegistration, ModuleID(1), 0x14400001},
		{BaseSDRequest, ModuleID(0x05), 0x0FC00005},
	}
	for _, tc := range cases {
		got := EncodeExtID(tc.base, tc.module)
		if got != tc.want {
			t.Fatalf("EncodeExtID(0x%X, 0x%X) = 0x%X, want 0x%X", tc.base, tc.module, got, tc.want)
		}
		base, module := DecodeExtID(got)
		if base != tc.base || module != tc.module {
			t.Fatalf("DecodeExtID(0x%X) = (0x%X, 0x%X), want (0x%X, 0x%X)", got, base, module, tc.base, tc.module)
		}
	}
}

func TestModuleIDValidate(t *testing.T) {
	valid := []ModuleID{Broadcast, Unregistered, 0x01, 0x1F, 0x10}
	for _, id := range valid {
		if err := id.Validate(); err != nil {
			t.Fatalf("expected 0x%02X valid, got %v", id, err)
		}
	}
	invalid := []ModuleID{0x20, 0x7F, 0xFE}
	for _, id := range invalid {
		if err := id.Validate(); err == nil {
			t.Fatalf("expected 0x%02X invalid", id)
		}
	}
}

func TestInModuleProtocolSet(t *testing.T) {
	if !inModuleProtocolSet(BaseAnnouncement) || !inModuleProtocolSet(BaseAllIsolate) {
		t.Fatalf("expected 0x500-0x51F in set")
	}
	if !inModuleProtocolSet(BaseSDRequest) || !inModuleProtocolSet(BaseSDStatus) {
		t.Fatalf("expected 0x3F0-0x3F3 in set")
	}
	if inModuleProtocolSet(BaseID(0x220)) {
		t.Fatalf("VCU range must not be in the module-protocol set")
	}
}
