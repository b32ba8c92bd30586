package config

import "fmt"

// Validate checks configuration correctness. It performs declarative
// validation only; it MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	switch cfg.CAN.BaudRate {
	case Baud125k, Baud250k, Baud500k, Baud1M:
	default:
		return fmt.Errorf("can.baud_rate: %d is not one of 125000/250000/500000/1000000", cfg.CAN.BaudRate)
	}

	if cfg.CAN.Channel < 0 {
		return fmt.Errorf("can.channel: %d must be >= 0", cfg.CAN.Channel)
	}

	if cfg.Timeout.ModuleHardTimeoutMs <= 0 {
		return fmt.Errorf("timeout.module_hard_timeout_ms: must be > 0")
	}
	if cfg.Timeout.StatusRequestTimeoutMs <= 0 {
		return fmt.Errorf("timeout.status_request_timeout_ms: must be > 0")
	}
	if cfg.Timeout.CellDetailTimeoutMs <= 0 {
		return fmt.Errorf("timeout.cell_detail_timeout_ms: must be > 0")
	}
	if cfg.Timeout.StatusRequestTimeoutMs >= cfg.Timeout.ModuleHardTimeoutMs {
		return fmt.Errorf("timeout.status_request_timeout_ms (%d) must be less than module_hard_timeout_ms (%d)",
			cfg.Timeout.StatusRequestTimeoutMs, cfg.Timeout.ModuleHardTimeoutMs)
	}

	return nil
}
