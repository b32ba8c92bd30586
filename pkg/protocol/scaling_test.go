package protocol

import "testing"

func approxEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestScalingRoundtrips(t *testing.T) {
	if v := DecodeModuleVoltage(1000); !approxEqual(v, 15.0, 1e-9) {
		t.Fatalf("DecodeModuleVoltage(1000) = %v, want 15.0", v)
	}
	if raw := EncodeModuleVoltage(15.0); raw != 1000 {
		t.Fatalf("EncodeModuleVoltage(15.0) = %d, want 1000", raw)
	}

	if a := DecodeModuleCurrent(0); !approxEqual(a, -655.36, 1e-9) {
		t.Fatalf("DecodeModuleCurrent(0) = %v, want -655.36", a)
	}
	if a := DecodeModuleCurrent(32768); !approxEqual(a, -655.36+32768*0.02, 1e-9) {
		t.Fatalf("DecodeModuleCurrent(32768) unexpected: %v", a)
	}

	if v := DecodeCellVoltage(3300); !approxEqual(v, 3.3, 1e-9) {
		t.Fatalf("DecodeCellVoltage(3300) = %v, want 3.3", v)
	}
	if v := DecodeCellTotalVoltage(1000); !approxEqual(v, 15.0, 1e-9) {
		t.Fatalf("DecodeCellTotalVoltage(1000) = %v, want 15.0", v)
	}

	if c := DecodeTemperature(5535); !approxEqual(c, 0.0, 1e-9) {
		t.Fatalf("DecodeTemperature(5535) = %v, want 0.0", c)
	}

	if p := DecodePercent(100); !approxEqual(p, 50.0, 1e-9) {
		t.Fatalf("DecodePercent(100) = %v, want 50.0", p)
	}
	if raw := EncodePercent(50.0); raw != 100 {
		t.Fatalf("EncodePercent(50.0) = %d, want 100", raw)
	}
}
