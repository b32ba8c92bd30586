package main

import (
	"testing"

	"github.com/modbatt/packctl/pkg/config"
	"github.com/modbatt/packctl/pkg/protocol"
)

func TestParseModuleID(t *testing.T) {
	if id, err := parseModuleID("5"); err != nil || id != 5 {
		t.Fatalf("parseModuleID(5) = %d, %v", id, err)
	}
	if id, err := parseModuleID("0x0A"); err != nil || id != 10 {
		t.Fatalf("parseModuleID(0x0A) = %d, %v", id, err)
	}
	if _, err := parseModuleID("notanumber"); err == nil {
		t.Fatal("expected error for non-numeric module id")
	}
	if _, err := parseModuleID("255"); err == nil {
		t.Fatal("expected parseModuleID to reject the Unregistered sentinel 0xFF")
	}
}

func TestParseModuleState(t *testing.T) {
	cases := map[string]protocol.ModuleState{
		"off":       protocol.StateOff,
		"STANDBY":   protocol.StateStandby,
		"Precharge": protocol.StatePrecharge,
		"on":        protocol.StateOn,
	}
	for in, want := range cases {
		got, err := parseModuleState(in)
		if err != nil || got != want {
			t.Fatalf("parseModuleState(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseModuleState("bogus"); err == nil {
		t.Fatal("expected error for unrecognized state")
	}
}

func TestParseBaud(t *testing.T) {
	cases := map[string]config.BaudRate{
		"125k": config.Baud125k,
		"250k": config.Baud250k,
		"500k": config.Baud500k,
		"1m":   config.Baud1M,
	}
	for in, want := range cases {
		got, err := parseBaud(in)
		if err != nil || got != want {
			t.Fatalf("parseBaud(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseBaud("2m"); err == nil {
		t.Fatal("expected error for unrecognized baud rate")
	}
}
