// Package nvstore implements the byte-addressable nonvolatile store
// abstraction of §6.4: persisted WEB4 key material and the EEPROM frame
// sequence counter, with a file-backed implementation standing in for the
// real embedded EEPROM/flash driver (an out-of-scope collaborator).
//
// Writes are ordered so a power-loss mid-write never presents a
// corrupted validity flag: payload bytes are written and fsynced before
// the single commit/validity byte that makes them visible, mirroring the
// source's sd_frame_update_counter_bytewise discipline.
package nvstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/modbatt/packctl/pkg/web4"
)

// Store is the nonvolatile store interface the rest of the system depends
// on. It satisfies web4.Store.
type Store interface {
	SaveKeys(ctx context.Context, keys web4.StoredKeys) error
	LoadKeys(ctx context.Context) (web4.StoredKeys, error)

	FrameCounter(ctx context.Context) (uint32, error)
	SetFrameCounter(ctx context.Context, n uint32) error
}

// Record layout, fixed offsets so a partial write never shifts later
// fields: [0:64) PackDevice, [64:128) AppDevice, [128:160) PackComponentID,
// [160:192) AppComponentID, [192] keysValid commit byte (bit0 pack valid,
// bit1 app valid, bit2 component valid),
// [193:197) frame counter (LE uint32), [197] counter commit byte.
const (
	offPackDevice      = 0
	offAppDevice       = 64
	offPackComponentID = 128
	offAppComponentID  = 160
	offKeysCommit      = 192
	offFrameCounter    = 193
	offCounterCommit   = 197
	recordSize         = 198

	commitPackValid      = 1 << 0
	commitAppValid       = 1 << 1
	commitComponentValid = 1 << 2
)

// FileStore is a file-backed Store for desktop/host builds.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens (creating if absent) a fixed-size record file at path.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("nvstore: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("nvstore: stat %s: %w", path, err)
	}
	if info.Size() < recordSize {
		if err := f.Truncate(recordSize); err != nil {
			return nil, fmt.Errorf("nvstore: truncate %s: %w", path, err)
		}
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) readAt(off int64, buf []byte) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (s *FileStore) writeAtSync(off int64, buf []byte) error {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteAt(buf, off); err != nil {
		return err
	}
	return f.Sync()
}

// SaveKeys writes the three key slots, then a single commit byte encoding
// which slots are valid. Payload bytes land before the commit byte so a
// crash mid-write leaves the prior commit byte (and therefore the prior,
// still-consistent validity state) in place.
func (s *FileStore) SaveKeys(ctx context.Context, keys web4.StoredKeys) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeAtSync(offPackDevice, keys.PackDevice[:]); err != nil {
		return fmt.Errorf("nvstore: write pack device key: %w", err)
	}
	if err := s.writeAtSync(offAppDevice, keys.AppDevice[:]); err != nil {
		return fmt.Errorf("nvstore: write app device key: %w", err)
	}
	if err := s.writeAtSync(offPackComponentID, keys.PackComponentID[:]); err != nil {
		return fmt.Errorf("nvstore: write pack component id: %w", err)
	}
	if err := s.writeAtSync(offAppComponentID, keys.AppComponentID[:]); err != nil {
		return fmt.Errorf("nvstore: write app component id: %w", err)
	}

	var commit byte
	if keys.PackDeviceValid {
		commit |= commitPackValid
	}
	if keys.AppDeviceValid {
		commit |= commitAppValid
	}
	if keys.ComponentValid {
		commit |= commitComponentValid
	}
	return s.writeAtSync(offKeysCommit, []byte{commit})
}

// LoadKeys reads the persisted key record, consulting the commit byte to
// decide which slots are valid. A slot whose validity bit is clear is
// returned zeroed even if stale bytes remain on disk.
func (s *FileStore) LoadKeys(ctx context.Context) (web4.StoredKeys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys web4.StoredKeys
	if err := s.readAt(offPackDevice, keys.PackDevice[:]); err != nil {
		return keys, err
	}
	if err := s.readAt(offAppDevice, keys.AppDevice[:]); err != nil {
		return keys, err
	}
	if err := s.readAt(offPackComponentID, keys.PackComponentID[:]); err != nil {
		return keys, err
	}
	if err := s.readAt(offAppComponentID, keys.AppComponentID[:]); err != nil {
		return keys, err
	}

	var commitBuf [1]byte
	if err := s.readAt(offKeysCommit, commitBuf[:]); err != nil {
		return keys, err
	}
	commit := commitBuf[0]
	keys.PackDeviceValid = commit&commitPackValid != 0
	keys.AppDeviceValid = commit&commitAppValid != 0
	keys.ComponentValid = commit&commitComponentValid != 0

	if !keys.PackDeviceValid {
		keys.PackDevice = [web4.KeySize]byte{}
	}
	if !keys.AppDeviceValid {
		keys.AppDevice = [web4.KeySize]byte{}
	}
	if !keys.ComponentValid {
		keys.PackComponentID = [web4.ComponentHalfSize]byte{}
		keys.AppComponentID = [web4.ComponentHalfSize]byte{}
	}
	return keys, nil
}

// FrameCounter returns the last persisted EEPROM frame sequence number, or
// 0 if the counter commit byte has never been written.
func (s *FileStore) FrameCounter(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var commitBuf [1]byte
	if err := s.readAt(offCounterCommit, commitBuf[:]); err != nil {
		return 0, err
	}
	if commitBuf[0] == 0 {
		return 0, nil
	}
	var buf [4]byte
	if err := s.readAt(offFrameCounter, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// SetFrameCounter writes n, then a commit byte, in that order.
func (s *FileStore) SetFrameCounter(ctx context.Context, n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	if err := s.writeAtSync(offFrameCounter, buf[:]); err != nil {
		return fmt.Errorf("nvstore: write frame counter: %w", err)
	}
	return s.writeAtSync(offCounterCommit, []byte{0x01})
}
