package protocol

import "fmt"

// DecodeErrorKind classifies a DecodeError.
type DecodeErrorKind uint8

const (
	// Truncated means the frame's payload is shorter than the message
	// layout requires.
	Truncated DecodeErrorKind = iota
	// UnknownID means the base id is not in the module-protocol set
	// (0x500-0x51F, 0x3F0-0x3F3, 0x3E0-0x3E5). Callers choose whether to log or drop;
	// this is distinct from a base id that is recognized but out of this
	// package's scope (the VCU diagnostic range, see pkg/engine's
	// Controller.Dispatch).
	UnknownID
	// BadChecksum means a payload-embedded checksum did not match.
	BadChecksum
	// BadCRC means a payload-embedded CRC did not match.
	BadCRC
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case UnknownID:
		return "unknown_id"
	case BadChecksum:
		return "bad_checksum"
	case BadCRC:
		return "bad_crc"
	default:
		return "unknown"
	}
}

// DecodeError is returned by message codecs when a frame cannot be decoded.
type DecodeError struct {
	Kind  DecodeErrorKind
	ExtID uint32
	Msg   string
}

func (e *DecodeError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("protocol: %s (id=0x%X): %s", e.Kind, e.ExtID, e.Msg)
	}
	return fmt.Sprintf("protocol: %s (id=0x%X)", e.Kind, e.ExtID)
}

func truncatedErr(extID uint32, need, got int) error {
	return &DecodeError{Kind: Truncated, ExtID: extID, Msg: fmt.Sprintf("need %d bytes, got %d", need, got)}
}

func unknownIDErr(extID uint32) error {
	return &DecodeError{Kind: UnknownID, ExtID: extID}
}
