// Package zego drives a Winsen ZE29A-C2H5OH ethanol sensor over its
// 9600 baud UART command/response protocol.
package zego

import "fmt"

// Frame layout constants for the ZE29A UART protocol. Every command and
// every response is exactly 9 bytes: start marker, device address,
// opcode, 5 payload bytes, checksum.
const (
	FrameSize        = 9
	StartMarker byte = 0xFF
	DeviceAddr  byte = 0x01
)

// Opcodes per the Winsen manual. Responses echo the request opcode.
const (
	OpQueryState      byte = 0x85
	OpReadResult      byte = 0x86
	OpChangeState     byte = 0x87
	OpReadBlowTime    byte = 0x88
	OpWriteBlowTime   byte = 0x89
	OpQueryThresholds byte = 0x90
)

// Frame is a single decoded command or response telegram.
type Frame struct {
	Opcode byte
	Data   [5]byte
}

// checksum computes the check byte over the wire bytes 1..7 (address
// through last payload byte): (0 - sum) mod 256. The manual spells the
// same formula as "negative sum plus one" with a bitwise NOT.
func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return -sum
}

// Bytes serializes the frame, filling in the start marker, the fixed
// device address and the checksum.
func (f Frame) Bytes() []byte {
	b := make([]byte, FrameSize)
	b[0] = StartMarker
	b[1] = DeviceAddr
	b[2] = f.Opcode
	copy(b[3:8], f.Data[:])
	b[8] = checksum(b[1:8])
	return b
}

// ParseFrame validates a 9-byte candidate and decodes it. The checksum
// is verified before the address so that an arithmetic corruption
// anywhere in bytes 1..8 surfaces as ErrChecksum.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, expected %d", ErrMalformed, len(b), FrameSize)
	}
	if b[0] != StartMarker {
		return Frame{}, fmt.Errorf("%w: start byte 0x%02x, expected 0x%02x", ErrMalformed, b[0], StartMarker)
	}
	if c := checksum(b[1:8]); c != b[8] {
		return Frame{}, fmt.Errorf("%w: calculated 0x%02x, received 0x%02x", ErrChecksum, c, b[8])
	}
	if b[1] != DeviceAddr {
		return Frame{}, fmt.Errorf("%w: address byte 0x%02x, expected 0x%02x", ErrMalformed, b[1], DeviceAddr)
	}
	f := Frame{Opcode: b[2]}
	copy(f.Data[:], b[3:8])
	return f, nil
}
