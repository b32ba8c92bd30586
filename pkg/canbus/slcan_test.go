package canbus

import "testing"

func TestSlcanEncodeDecodeRoundtrip(t *testing.T) {
	cases := []Frame{
		MustFrame(0x123, []byte{0xDE, 0xAD, 0xBE, 0xEF}),
		{ID: 0x1ABCDEF0, Extended: true, Len: 0},
		{ID: 0x321, RTR: true, Len: 3},
	}
	for _, f := range cases {
		line := encodeSlcanLine(f)
		got, ok := decodeSlcanLine(line)
		if !ok {
			t.Fatalf("decodeSlcanLine(%q) failed", line)
		}
		if got != f {
			t.Fatalf("roundtrip mismatch for %+v: got %+v (line %q)", f, got, line)
		}
	}
}

func TestSlcanDecodeRejectsGarbage(t *testing.T) {
	bad := []string{"", "x123", "t12", "t1235", "T1234"}
	for _, line := range bad {
		if _, ok := decodeSlcanLine(line); ok {
			t.Fatalf("expected decode failure for %q", line)
		}
	}
}
