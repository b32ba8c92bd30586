package protocol

// Numeric scaling constants from §4.1. Every encode/decode pair below is
// exact for the constants named in the spec; callers should not round-trip
// through the float form more than once to avoid compounding error.

// DecodeModuleVoltage converts a raw module-voltage field to volts.
func DecodeModuleVoltage(raw uint16) float64 { return float64(raw) * 0.015 }

// EncodeModuleVoltage converts volts to the raw module-voltage field.
func EncodeModuleVoltage(volts float64) uint16 { return uint16(volts / 0.015) }

// DecodeModuleCurrent converts a raw module-current field to amps (signed
// via the offset, not via two's complement).
func DecodeModuleCurrent(raw uint16) float64 { return -655.36 + float64(raw)*0.02 }

// EncodeModuleCurrent converts amps to the raw module-current field.
func EncodeModuleCurrent(amps float64) uint16 { return uint16((amps + 655.36) / 0.02) }

// DecodeCellVoltage converts a raw per-cell voltage field to volts.
func DecodeCellVoltage(raw uint16) float64 { return float64(raw) * 0.001 }

// EncodeCellVoltage converts volts to the raw per-cell voltage field.
func EncodeCellVoltage(volts float64) uint16 { return uint16(volts / 0.001) }

// DecodeCellTotalVoltage converts a raw cell-total-voltage field to volts.
func DecodeCellTotalVoltage(raw uint16) float64 { return float64(raw) * 0.015 }

// EncodeCellTotalVoltage converts volts to the raw cell-total-voltage field.
func EncodeCellTotalVoltage(volts float64) uint16 { return uint16(volts / 0.015) }

// DecodeTemperature converts a raw temperature field to degrees Celsius.
func DecodeTemperature(raw uint16) float64 { return float64(raw)*0.01 - 55.35 }

// EncodeTemperature converts degrees Celsius to the raw temperature field.
func EncodeTemperature(celsius float64) uint16 { return uint16((celsius + 55.35) / 0.01) }

// DecodePercent converts a raw SOC/SOH byte to a percentage.
func DecodePercent(raw uint8) float64 { return float64(raw) * 0.5 }

// EncodePercent converts a percentage to the raw SOC/SOH byte.
func EncodePercent(percent float64) uint8 { return uint8(percent / 0.5) }
