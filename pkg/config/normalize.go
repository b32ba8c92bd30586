package config

// Default thresholds, per §4.9 and §4.3's recommended values.
const (
	DefaultModuleHardTimeoutMs    = 5000
	DefaultStatusRequestTimeoutMs = 500
	DefaultCellDetailTimeoutMs    = 200
	DefaultBaudRate               = Baud500k
)

// Normalize applies post-parse defaults. It is allowed to mutate
// configuration. It MUST be called only before Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.CAN.BaudRate == 0 {
		cfg.CAN.BaudRate = DefaultBaudRate
	}

	if cfg.Timeout.ModuleHardTimeoutMs == 0 {
		cfg.Timeout.ModuleHardTimeoutMs = DefaultModuleHardTimeoutMs
	}
	if cfg.Timeout.StatusRequestTimeoutMs == 0 {
		cfg.Timeout.StatusRequestTimeoutMs = DefaultStatusRequestTimeoutMs
	}
	if cfg.Timeout.CellDetailTimeoutMs == 0 {
		cfg.Timeout.CellDetailTimeoutMs = DefaultCellDetailTimeoutMs
	}
}
