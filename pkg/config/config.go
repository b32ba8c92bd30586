// Package config loads the environment/configuration surface of §6.3:
// CAN channel selection, debug sink tuning, and the timeout thresholds
// the Timeout & Failure Monitor and transfer engines use. Split into
// config.go/normalize.go/validate.go, mirroring the
// internal/config package's layout and load-then-normalize-then-validate
// discipline.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BaudRate is the CAN bus bit rate, one of the four the hardware driver
// supports. There is no dynamic bit-rate discovery (§1 Non-goals); this
// is configured externally and taken as given.
type BaudRate int

const (
	Baud125k BaudRate = 125000
	Baud250k BaudRate = 250000
	Baud500k BaudRate = 500000
	Baud1M   BaudRate = 1000000
)

// Config is the top-level configuration document.
type Config struct {
	CAN     CANConfig     `yaml:"can"`
	Debug   DebugConfig   `yaml:"debug"`
	Timeout TimeoutConfig `yaml:"timeout"`
}

// CANConfig selects the physical bus to connect to.
type CANConfig struct {
	BaudRate BaudRate `yaml:"baud_rate"`
	Channel  int      `yaml:"channel"`
}

// DebugConfig tunes the C8 debug sink.
type DebugConfig struct {
	Minimal      bool   `yaml:"minimal"`
	LevelMask    uint8  `yaml:"level_mask"`
	FlagMask     uint32 `yaml:"flag_mask"`
	OnceOnlyMask uint32 `yaml:"once_only_mask"`
}

// TimeoutConfig holds the three configurable deadlines named in §6.3.
type TimeoutConfig struct {
	ModuleHardTimeoutMs    int `yaml:"module_hard_timeout_ms"`
	StatusRequestTimeoutMs int `yaml:"status_request_timeout_ms"`
	CellDetailTimeoutMs    int `yaml:"cell_detail_timeout_ms"`
}

// Load reads a YAML config file, applies defaults, and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}
