package container

import (
	"encoding/binary"
)

// Opus timestamps in Ogg and RTP run at 48 kHz regardless of the input
// sample rate.
const opusClockRate = 48000

// opusHead builds an RFC 7845 identification header for mapping family 0.
func opusHead(channels int, preSkip uint16, inputRate uint32) []byte {
	if channels <= 0 {
		channels = 2
	}
	if inputRate == 0 {
		inputRate = opusClockRate
	}
	b := make([]byte, 19)
	copy(b, "OpusHead")
	b[8] = 1
	b[9] = byte(channels)
	binary.LittleEndian.PutUint16(b[10:], preSkip)
	binary.LittleEndian.PutUint32(b[12:], inputRate)
	// Output gain and mapping family stay 0.
	return b
}
