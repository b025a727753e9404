package transcode

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// Sink and Gate
// =============================================================================

// Muxer writes encoded samples of one or more tracks into a container.
// Tracks must be added before Start; samples are written after it.
type Muxer interface {
	// AddTrack registers a track and returns its id.
	AddTrack(format Format) (int, error)

	// Start begins writing the container.
	Start() error

	// WriteSampleData writes one sample of track. Only data is written;
	// info carries its timestamp and flags. data is only valid during the
	// call: the caller reuses it once WriteSampleData returns.
	WriteSampleData(track int, data []byte, info BufferInfo) error

	// Stop finalizes the container. Only valid after Start.
	Stop() error

	// Close frees the muxer and its output.
	Close() error
}

// pendingWrite is an encoder output that arrived before the gate opened.
type pendingWrite struct {
	kind  StreamKind
	index int
	info  BufferInfo
}

type gateTrack struct {
	state   *StreamState
	encoder Codec
	format  *Format
}

// MuxerGate owns the sink of a run. It defers sink startup until every
// active stream's encoder announced its output format, buffers encoder
// output that arrives earlier and replays it in arrival order once open.
//
// All sink access is serialized by the gate's mutex.
type MuxerGate struct {
	muxer   Muxer
	barrier *CompletionBarrier
	log     logrus.FieldLogger

	mu       sync.Mutex
	tracks   map[StreamKind]*gateTrack
	opened   bool
	started  bool
	buffered []pendingWrite
	starts   int
}

// NewMuxerGate creates a closed gate in front of m. Encoder EOS is reported
// to barrier.
func NewMuxerGate(m Muxer, barrier *CompletionBarrier, log logrus.FieldLogger) *MuxerGate {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MuxerGate{
		muxer:   m,
		barrier: barrier,
		log:     log,
		tracks:  make(map[StreamKind]*gateTrack),
	}
}

// Attach makes a stream active. All streams must be attached before any
// encoder is started.
func (g *MuxerGate) Attach(state *StreamState, encoder Codec) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tracks[state.Kind] = &gateTrack{state: state, encoder: encoder}
}

// RegisterFormat records the output format announced by kind's encoder and
// opens the gate once every active stream has one.
func (g *MuxerGate) RegisterFormat(kind StreamKind, format Format) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tr, ok := g.tracks[kind]
	if !ok {
		return newStreamError(kind, StageMux, ErrProtocolViolation, errors.New("format for inactive stream"))
	}
	if tr.format != nil {
		return newStreamError(kind, StageEncode, ErrProtocolViolation, fmt.Errorf("encoder changed its output format again (was %s, now %s)", *tr.format, format))
	}
	f := format
	tr.format = &f

	g.log.WithFields(logrus.Fields{
		"stream": kind,
		"format": format.String(),
	}).Info("Encoder output format changed")

	if g.opened || !g.allFormatsKnown() {
		return nil
	}
	return g.openLocked(kind)
}

func (g *MuxerGate) allFormatsKnown() bool {
	for _, tr := range g.tracks {
		if tr.format == nil {
			return false
		}
	}
	return true
}

// openLocked adds one track per active stream, video first, starts the sink
// and replays buffered writes. A failing start is reported against trigger,
// the stream whose format opened the gate.
func (g *MuxerGate) openLocked(trigger StreamKind) error {
	for _, kind := range []StreamKind{StreamVideo, StreamAudio} {
		tr, ok := g.tracks[kind]
		if !ok {
			continue
		}
		id, err := g.muxer.AddTrack(*tr.format)
		if err != nil {
			return newStreamError(kind, StageMux, ErrIO, fmt.Errorf("adding track: %w", err))
		}
		tr.state.setTrack(id)
		g.log.WithFields(logrus.Fields{"stream": kind, "track": id}).Info("Muxer track added")
	}

	if err := g.muxer.Start(); err != nil {
		return newStreamError(trigger, StageMux, ErrIO, fmt.Errorf("starting muxer: %w", err))
	}
	g.started = true
	g.opened = true
	g.starts++

	pending := g.buffered
	g.buffered = nil
	g.log.WithFields(logrus.Fields{"buffered": len(pending)}).Info("Muxer started")

	for _, w := range pending {
		if err := g.writeLocked(w); err != nil {
			return err
		}
	}
	return nil
}

// WriteSample hands encoder output slot index of kind to the sink, or
// buffers it while the gate is closed.
func (g *MuxerGate) WriteSample(kind StreamKind, index int, info BufferInfo) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.tracks[kind]; !ok {
		return newStreamError(kind, StageMux, ErrProtocolViolation, errors.New("output for inactive stream"))
	}
	w := pendingWrite{kind: kind, index: index, info: info}
	if !g.opened {
		g.buffered = append(g.buffered, w)
		g.log.WithFields(logrus.Fields{
			"stream":   kind,
			"index":    index,
			"buffered": len(g.buffered),
		}).Debug("Muxer not started, buffering output")
		return nil
	}
	return g.writeLocked(w)
}

func (g *MuxerGate) writeLocked(w pendingWrite) error {
	tr := g.tracks[w.kind]

	if w.info.CodecConfig() {
		g.log.WithFields(logrus.Fields{"stream": w.kind, "index": w.index}).Debug("Discarding codec config buffer")
		if err := tr.encoder.ReleaseOutputBuffer(w.index); err != nil {
			return newStreamError(w.kind, StageEncode, ErrCodec, err)
		}
		return nil
	}

	if w.info.Size > 0 {
		buf, err := tr.encoder.OutputBuffer(w.index)
		if err != nil {
			return newStreamError(w.kind, StageEncode, ErrCodec, err)
		}
		end := w.info.Offset + w.info.Size
		if w.info.Offset < 0 || end > len(buf) {
			return newStreamError(w.kind, StageEncode, ErrProtocolViolation,
				fmt.Errorf("output range [%d:%d] exceeds slot of %d bytes", w.info.Offset, end, len(buf)))
		}
		if err := g.muxer.WriteSampleData(tr.state.Track(), buf[w.info.Offset:end], w.info); err != nil {
			return newStreamError(w.kind, StageMux, ErrIO, err)
		}
		tr.state.encoded.Add(1)
	}

	if err := tr.encoder.ReleaseOutputBuffer(w.index); err != nil {
		return newStreamError(w.kind, StageEncode, ErrCodec, err)
	}

	if w.info.EndOfStream() && tr.state.markEncodeFinished() {
		g.log.WithFields(logrus.Fields{"stream": w.kind}).Info("Encoder reached end of stream")
		if g.barrier != nil {
			g.barrier.Done(w.kind)
		}
	}
	return nil
}

// Opened reports whether the sink was started.
func (g *MuxerGate) Opened() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened
}

// Started reports whether Muxer.Start succeeded, i.e. whether the sink
// needs Stop at teardown.
func (g *MuxerGate) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// Buffered returns the number of writes waiting for the gate to open.
func (g *MuxerGate) Buffered() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buffered)
}

// Tracks returns the number of active streams.
func (g *MuxerGate) Tracks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tracks)
}
