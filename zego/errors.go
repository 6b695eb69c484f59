package zego

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed means a response did not carry the start marker or
	// the fixed device address.
	ErrMalformed = errors.New("malformed frame")

	// ErrChecksum means a response frame failed checksum verification.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrNoResponse means the read deadline elapsed with zero bytes of
	// a frame candidate received.
	ErrNoResponse = errors.New("no response from sensor")

	// ErrInvalidState means a command is not legal in the last state
	// the sensor reported. No frame is sent in that case.
	ErrInvalidState = errors.New("command not allowed in current sensor state")

	// ErrOutOfRange means a blow time outside 1-10 seconds was
	// requested. No frame is sent in that case.
	ErrOutOfRange = errors.New("blow time out of range (1-10 seconds)")
)

// PartialError reports a response read that timed out mid-frame. The
// bytes received so far are kept for diagnostics of wiring or timing
// problems.
type PartialError struct {
	Received []byte
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial response: %d of %d bytes (% x)", len(e.Received), FrameSize, e.Received)
}

// UnexpectedOpcodeError reports a validated response whose opcode does
// not echo the request.
type UnexpectedOpcodeError struct {
	Want, Got byte
}

func (e *UnexpectedOpcodeError) Error() string {
	return fmt.Sprintf("unexpected response opcode 0x%02x, expected 0x%02x", e.Got, e.Want)
}
