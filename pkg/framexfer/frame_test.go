package framexfer

import "testing"

func TestCalculateGranularity(t *testing.T) {
	// 14 cells * 4 bytes/reading = 56 bytes/reading; 992/56 = 17.
	g, err := CalculateGranularity(14)
	if err != nil {
		t.Fatalf("CalculateGranularity: %v", err)
	}
	if g != 17 {
		t.Fatalf("granularity = %d, want 17", g)
	}
}

func TestCalculateGranularityRejectsOutOfRange(t *testing.T) {
	if _, err := CalculateGranularity(0); err == nil {
		t.Fatalf("expected error for 0 cells")
	}
	if _, err := CalculateGranularity(MaxCellsPerModule + 1); err == nil {
		t.Fatalf("expected error for cells exceeding MaxCellsPerModule")
	}
}

func TestReadingOffset(t *testing.T) {
	if got := ReadingOffset(3, 14); got != 3*14*4 {
		t.Fatalf("ReadingOffset = %d, want %d", got, 3*14*4)
	}
}

func TestFrameToSector(t *testing.T) {
	if got := FrameToSector(100); got != 200 {
		t.Fatalf("FrameToSector(100) = %d, want 200", got)
	}
}

func TestFrameCRCRoundtrip(t *testing.T) {
	var f StoredFrame
	f.FrameNumber = 42
	f.Timestamp = 1000
	f.Granularity = 17
	f.CurrentIndex = 5
	f.CellsExpected = 14
	f.ModuleID = 3
	f.StatusFlags = FrameFlagValid
	for i := range f.Data {
		f.Data[i] = byte(i)
	}

	f.FrameCRC = f.CalculateCRC()
	if !f.ValidateCRC() {
		t.Fatalf("expected freshly computed CRC to validate")
	}

	f.Data[0] ^= 0xFF
	if f.ValidateCRC() {
		t.Fatalf("expected corrupted data to fail CRC validation")
	}
}

func TestFrameHasFlag(t *testing.T) {
	f := StoredFrame{StatusFlags: FrameFlagValid | FrameFlagPartial}
	if !f.HasFlag(FrameFlagValid) || !f.HasFlag(FrameFlagPartial) {
		t.Fatalf("expected both flags set")
	}
	if f.HasFlag(FrameFlagCorrupt) {
		t.Fatalf("did not expect FrameFlagCorrupt set")
	}
}

func TestFrameClear(t *testing.T) {
	f := StoredFrame{FrameNumber: 7, StatusFlags: FrameFlagWriting}
	f.Clear()
	if f.FrameNumber != 0 || f.StatusFlags != 0 {
		t.Fatalf("expected Clear to zero the frame")
	}
}
