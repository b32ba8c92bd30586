package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/modbatt/packctl/pkg/canbus"
	"github.com/modbatt/packctl/pkg/config"
	"github.com/modbatt/packctl/pkg/debuglog"
	"github.com/modbatt/packctl/pkg/engine"
	"github.com/modbatt/packctl/pkg/nvstore"
)

// loadConfig builds a Config from --config (if given) or from defaults,
// then applies the --channel/--baud overrides on top. Normalize/Validate
// run after the overrides, same as config.Load's own discipline.
func loadConfig() (*config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if channelFlag >= 0 {
		cfg.CAN.Channel = channelFlag
	}
	if baudFlag != "" {
		baud, err := parseBaud(baudFlag)
		if err != nil {
			return nil, err
		}
		cfg.CAN.BaudRate = baud
	}

	config.Normalize(&cfg)
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseBaud(s string) (config.BaudRate, error) {
	switch s {
	case "125k":
		return config.Baud125k, nil
	case "250k":
		return config.Baud250k, nil
	case "500k":
		return config.Baud500k, nil
	case "1m":
		return config.Baud1M, nil
	default:
		return 0, fmt.Errorf("--baud: %q is not one of 125k|250k|500k|1m", s)
	}
}

func ifaceName(cfg *config.Config) string {
	return fmt.Sprintf("can%d", cfg.CAN.Channel)
}

// dialBus brings the configured Linux CAN interface up at the configured
// bit rate, then dials it. Bitrate changes require the interface to be
// down first, so this always cycles it down, configures, then up.
func dialBus(cfg *config.Config) (canbus.Bus, error) {
	name := ifaceName(cfg)
	bitrate := uint32(cfg.CAN.BaudRate)

	if err := canbus.SetInterfaceDown(name); err != nil {
		return nil, canbus.RequireRootOrCapNetAdmin(fmt.Errorf("bring down %s: %w", name, err))
	}
	if err := canbus.ConfigureLinuxCANInterface(name, canbus.LinuxCANInterfaceOptions{Bitrate: &bitrate}); err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	if err := canbus.SetInterfaceUp(name); err != nil {
		return nil, canbus.RequireRootOrCapNetAdmin(fmt.Errorf("bring up %s: %w", name, err))
	}

	bus, err := canbus.DialSocketCAN(name)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", name, err)
	}
	return bus, nil
}

// newLogger builds the debuglog sink every command shares, writing
// through a plain text slog handler to stderr.
func newLogger() *debuglog.Logger {
	h := slog.NewTextHandler(os.Stderr, nil)
	return debuglog.New(slog.New(h), debuglog.DefaultMessageDefs())
}

// openKeyStore opens (or creates) the nvstore record backing WEB4 keys
// and the framexfer counter. It does not read the keys; newController
// loads the persisted key material from the returned store.
func openKeyStore() (*nvstore.FileStore, error) {
	store, err := nvstore.NewFileStore(keysPath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// newController builds an engine.Controller wired to a real wall clock
// and the on-disk key store, the shape every live-bus command shares.
func newController() (*engine.Controller, error) {
	store, err := openKeyStore()
	if err != nil {
		return nil, err
	}
	keys, err := store.LoadKeys(context.Background())
	if err != nil {
		return nil, err
	}
	return engine.NewController(newLogger(), engine.SystemClock{}, store, keys), nil
}
