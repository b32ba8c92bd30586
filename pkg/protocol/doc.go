// Package protocol implements the Pack Controller's module-protocol wire
// format on top of pkg/canbus: extended-ID encoding, per-message payload
// codecs, the numeric scaling conventions, and the typed errors a decoder can
// raise. It knows nothing about registries, schedulers, or transfer engines —
// those live in pkg/engine, pkg/sdxfer, pkg/framexfer, and pkg/web4, all of
// which consume this package's types.
package protocol

import "github.com/modbatt/packctl/pkg/canbus"

// FrameMarshaler encodes a typed protocol message into a CAN frame.
type FrameMarshaler interface {
	MarshalCANFrame() (canbus.Frame, error)
}

// FrameUnmarshaler decodes a typed protocol message from a CAN frame.
type FrameUnmarshaler interface {
	UnmarshalCANFrame(canbus.Frame) error
}

// FrameCodec combines marshaling and unmarshaling of CAN frames.
type FrameCodec interface {
	FrameMarshaler
	FrameUnmarshaler
}
