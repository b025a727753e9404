package transcode

import "sync/atomic"

// DecodedItem is a decoder output waiting for a free encoder input slot.
type DecodedItem struct {
	Index int // Decoder output slot
	Info  BufferInfo
}

// StreamState tracks the progress of one stream.
//
// The pending queues are owned by the stream's coordinator goroutine.
// Flags and counters are atomics: EncodeFinished and Encoded are written by
// the MuxerGate, which may run on the other stream's goroutine while
// flushing buffered writes, and Stats reads everything concurrently.
type StreamState struct {
	Kind StreamKind

	sourceExhausted atomic.Bool
	decodeFinished  atomic.Bool
	encodeFinished  atomic.Bool

	extracted atomic.Int64
	decoded   atomic.Int64
	encoded   atomic.Int64
	dropped   atomic.Int64

	track   atomic.Int32
	pending atomic.Int32 // len(pendingDecoded), readable from any goroutine

	pendingDecoded []DecodedItem
	pendingSlots   []int
}

// NewStreamState creates the state of a freshly configured stream.
func NewStreamState(kind StreamKind) *StreamState {
	s := &StreamState{Kind: kind}
	s.track.Store(-1)
	return s
}

func (s *StreamState) SourceExhausted() bool { return s.sourceExhausted.Load() }
func (s *StreamState) DecodeFinished() bool  { return s.decodeFinished.Load() }
func (s *StreamState) EncodeFinished() bool  { return s.encodeFinished.Load() }
func (s *StreamState) Track() int            { return int(s.track.Load()) }

// markSourceExhausted flips the flag and reports whether this call did.
func (s *StreamState) markSourceExhausted() bool { return s.sourceExhausted.CompareAndSwap(false, true) }
func (s *StreamState) markDecodeFinished() bool  { return s.decodeFinished.CompareAndSwap(false, true) }
func (s *StreamState) markEncodeFinished() bool  { return s.encodeFinished.CompareAndSwap(false, true) }

func (s *StreamState) setTrack(id int) { s.track.Store(int32(id)) }

func (s *StreamState) pushDecoded(item DecodedItem) {
	s.pendingDecoded = append(s.pendingDecoded, item)
	s.pending.Store(int32(len(s.pendingDecoded)))
}

func (s *StreamState) popDecoded() DecodedItem {
	item := s.pendingDecoded[0]
	s.pendingDecoded = s.pendingDecoded[1:]
	s.pending.Store(int32(len(s.pendingDecoded)))
	return item
}

func (s *StreamState) pushSlot(index int) {
	s.pendingSlots = append(s.pendingSlots, index)
}

func (s *StreamState) popSlot() int {
	index := s.pendingSlots[0]
	s.pendingSlots = s.pendingSlots[1:]
	return index
}

// StreamStats is a snapshot of a stream's progress.
type StreamStats struct {
	Kind            StreamKind
	Extracted       int64 // Samples submitted to the decoder
	Decoded         int64 // Decoded items carrying payload
	Encoded         int64 // Encoded samples written to the sink
	Dropped         int64 // Invalid decoded items discarded
	PendingDecoded  int   // Decoded items still waiting for an encoder slot
	SourceExhausted bool
	DecodeFinished  bool
	EncodeFinished  bool
	Track           int // Sink track id, -1 until registered
}

// Stats returns a snapshot of the stream's progress.
func (s *StreamState) Stats() StreamStats {
	// Downstream counters first, so a snapshot taken while running never
	// shows a stage ahead of its input.
	encoded := s.encoded.Load()
	decoded := s.decoded.Load()
	extracted := s.extracted.Load()
	return StreamStats{
		Kind:            s.Kind,
		Extracted:       extracted,
		Decoded:         decoded,
		Encoded:         encoded,
		Dropped:         s.dropped.Load(),
		PendingDecoded:  int(s.pending.Load()),
		SourceExhausted: s.sourceExhausted.Load(),
		DecodeFinished:  s.decodeFinished.Load(),
		EncodeFinished:  s.encodeFinished.Load(),
		Track:           int(s.track.Load()),
	}
}
