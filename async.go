package transcode

import "fmt"

// EventKind tags a CodecEvent.
type EventKind int

const (
	EventInputAvailable  EventKind = iota // Input slot Index is free for writing
	EventOutputAvailable                  // Output slot Index holds Info
	EventFormatChanged                    // Output format is now Format
	EventError                            // Codec failed with Err
)

func (k EventKind) String() string {
	switch k {
	case EventInputAvailable:
		return "input-available"
	case EventOutputAvailable:
		return "output-available"
	case EventFormatChanged:
		return "format-changed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// CodecEvent is a notification emitted by a Codec.
type CodecEvent struct {
	Kind   EventKind
	Index  int        // Slot index for input/output events
	Info   BufferInfo // Output events only
	Format Format     // Format events only
	Err    error      // Error events only
}

func (e CodecEvent) String() string {
	switch e.Kind {
	case EventInputAvailable:
		return fmt.Sprintf("%s[%d]", e.Kind, e.Index)
	case EventOutputAvailable:
		return fmt.Sprintf("%s[%d] size=%d pts=%d flags=%s", e.Kind, e.Index, e.Info.Size, e.Info.PresentationTimeUs, e.Info.Flags)
	case EventFormatChanged:
		return fmt.Sprintf("%s %s", e.Kind, e.Format)
	default:
		return fmt.Sprintf("%s %v", e.Kind, e.Err)
	}
}

// Codec is an asynchronous, slot-based decoder or encoder.
//
// The codec lends input slots to the caller through EventInputAvailable;
// the caller fills InputBuffer(index) and hands it back with
// QueueInputBuffer. Results arrive through EventOutputAvailable and stay
// owned by the caller until ReleaseOutputBuffer. Events are delivered on
// the channel returned by Events, which is closed by Release.
//
// The synchronous methods must be safe for concurrent use.
type Codec interface {
	// Events returns the codec's notification channel.
	Events() <-chan CodecEvent

	// Start begins processing. Input slots are announced after Start.
	Start() error

	// InputBuffer returns the writable buffer of a lent input slot.
	InputBuffer(index int) ([]byte, error)

	// OutputBuffer returns the buffer of a lent output slot.
	OutputBuffer(index int) ([]byte, error)

	// QueueInputBuffer returns input slot index to the codec with size
	// bytes of data starting at offset.
	QueueInputBuffer(index, offset, size int, ptsUs int64, flags BufferFlags) error

	// ReleaseOutputBuffer returns output slot index to the codec.
	ReleaseOutputBuffer(index int) error

	// OutputFormat returns the most recent output format.
	OutputFormat() Format

	// Stop halts processing. Slots must not be used afterwards.
	Stop() error

	// Release frees the codec and closes its event channel.
	Release() error
}
