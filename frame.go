package transcode

import "strings"

// BufferFlags describes a sample or codec buffer. Values match the flag
// bits used by platform codec APIs.
type BufferFlags uint32

const (
	FlagKeyFrame    BufferFlags = 1 << iota // Sync sample
	FlagCodecConfig                         // Initialization data, not media
	FlagEndOfStream                         // No further buffers follow
	FlagPartialFrame                        // Buffer holds part of a frame
)

// Has returns true if all specified flags are set.
func (f BufferFlags) Has(flag BufferFlags) bool { return f&flag == flag }

func (f BufferFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f.Has(FlagKeyFrame) {
		parts = append(parts, "key")
	}
	if f.Has(FlagCodecConfig) {
		parts = append(parts, "config")
	}
	if f.Has(FlagEndOfStream) {
		parts = append(parts, "eos")
	}
	if f.Has(FlagPartialFrame) {
		parts = append(parts, "partial")
	}
	return strings.Join(parts, "|")
}

// BufferInfo locates valid data inside a codec slot.
type BufferInfo struct {
	Offset             int         // Start of valid data in the slot
	Size               int         // Length of valid data, may be 0
	PresentationTimeUs int64       // Presentation timestamp in microseconds
	Flags              BufferFlags // Buffer flags
}

// EndOfStream reports whether the buffer carries the end-of-stream flag.
func (i BufferInfo) EndOfStream() bool { return i.Flags.Has(FlagEndOfStream) }

// CodecConfig reports whether the buffer carries codec initialization data.
func (i BufferInfo) CodecConfig() bool { return i.Flags.Has(FlagCodecConfig) }
