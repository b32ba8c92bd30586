package nvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/modbatt/packctl/pkg/web4"
)

func TestSaveLoadKeysRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "nvstore.bin"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	var keys web4.StoredKeys
	for i := range keys.PackDevice {
		keys.PackDevice[i] = byte(i)
	}
	for i := range keys.AppDevice {
		keys.AppDevice[i] = byte(i + 1)
	}
	for i := range keys.PackComponentID {
		keys.PackComponentID[i] = byte(i + 2)
	}
	for i := range keys.AppComponentID {
		keys.AppComponentID[i] = byte(i + 3)
	}
	keys.PackDeviceValid = true
	keys.AppDeviceValid = true
	keys.ComponentValid = true

	if err := store.SaveKeys(context.Background(), keys); err != nil {
		t.Fatalf("SaveKeys: %v", err)
	}

	got, err := store.LoadKeys(context.Background())
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	if got != keys {
		t.Fatalf("loaded keys do not match saved keys")
	}
}

func TestLoadKeysBeforeSaveIsZeroAndInvalid(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "nvstore.bin"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	got, err := store.LoadKeys(context.Background())
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	if got.AllValid() || got.PackDeviceValid || got.AppDeviceValid || got.ComponentValid {
		t.Fatalf("expected no valid keys before any save")
	}
}

func TestPartialValiditySlotsKeptIndependentlyRecoverable(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "nvstore.bin"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	var keys web4.StoredKeys
	keys.PackDevice[0] = 0xAB
	keys.PackDeviceValid = true
	// AppDevice and ComponentIds remain invalid.

	if err := store.SaveKeys(context.Background(), keys); err != nil {
		t.Fatalf("SaveKeys: %v", err)
	}

	got, err := store.LoadKeys(context.Background())
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	if !got.PackDeviceValid || got.PackDevice[0] != 0xAB {
		t.Fatalf("expected pack device key recoverable independently")
	}
	if got.AppDeviceValid || got.ComponentValid {
		t.Fatalf("expected other slots to remain invalid")
	}
}

func TestFrameCounterRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "nvstore.bin"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	n, err := store.FrameCounter(context.Background())
	if err != nil {
		t.Fatalf("FrameCounter before set: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 before any SetFrameCounter, got %d", n)
	}

	if err := store.SetFrameCounter(context.Background(), 123456); err != nil {
		t.Fatalf("SetFrameCounter: %v", err)
	}
	n, err = store.FrameCounter(context.Background())
	if err != nil {
		t.Fatalf("FrameCounter after set: %v", err)
	}
	if n != 123456 {
		t.Fatalf("FrameCounter = %d, want 123456", n)
	}
}

func TestReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nvstore.bin")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.SetFrameCounter(context.Background(), 42); err != nil {
		t.Fatalf("SetFrameCounter: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen NewFileStore: %v", err)
	}
	n, err := reopened.FrameCounter(context.Background())
	if err != nil {
		t.Fatalf("FrameCounter: %v", err)
	}
	if n != 42 {
		t.Fatalf("FrameCounter after reopen = %d, want 42", n)
	}
}
