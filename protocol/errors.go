package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownPacket is returned when a name or buffer cannot be matched to
// any Definition this Protocol knows about.
var ErrUnknownPacket = errors.New("unknown packet")

// ErrBadPacket is returned when a buffer structurally matches a Definition
// but its field values fail validation.
var ErrBadPacket = errors.New("bad packet")

// mapCodecErr annotates a codec-layer error (already tagged with one of the
// codec sentinel errors) with packet context, preserving errors.Is
// compatibility with both the codec sentinel and ErrBadPacket so callers
// can test at whichever granularity they need.
func mapCodecErr(packetName string, err error) error {
	return WrapBadPacket(packetName, err)
}

// WrapBadPacket annotates err (typically a codec sentinel error) with
// packet context and ErrBadPacket compatibility. Supplied protocols with a
// custom UnpackPacket use this to keep their errors consistent with the
// default identify-then-unpack path.
func WrapBadPacket(packetName string, err error) error {
	wrapped := fmt.Errorf("packet %q: %w", packetName, err)
	return &badPacketError{packet: packetName, inner: wrapped}
}

type badPacketError struct {
	packet string
	inner  error
}

func (e *badPacketError) Error() string { return e.inner.Error() }
func (e *badPacketError) Unwrap() error { return e.inner }
func (e *badPacketError) Is(target error) bool {
	return target == ErrBadPacket
}
