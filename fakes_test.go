package transcode

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func nullLogger() (logrus.FieldLogger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

// =============================================================================
// scriptedCodec
// =============================================================================

type queuedInput struct {
	index int
	data  []byte
	pts   int64
	flags BufferFlags
}

// scriptedCodec records synchronous calls. Tests drive events by calling
// the runner directly.
type scriptedCodec struct {
	mu       sync.Mutex
	events   chan CodecEvent
	in       [][]byte
	out      [][]byte
	queued   []queuedInput
	released []int

	starts, stops, releases int

	queueErr   error
	stopErr    error
	releaseErr error
}

func newScriptedCodec(slots, size int) *scriptedCodec {
	c := &scriptedCodec{events: make(chan CodecEvent, 16)}
	for i := 0; i < slots; i++ {
		c.in = append(c.in, make([]byte, size))
		c.out = append(c.out, make([]byte, size))
	}
	return c
}

// setOutput fills output slot index with data.
func (c *scriptedCodec) setOutput(index int, data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.out[index], data)
}

func (c *scriptedCodec) Events() <-chan CodecEvent { return c.events }

func (c *scriptedCodec) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return nil
}

func (c *scriptedCodec) InputBuffer(index int) ([]byte, error) {
	if index < 0 || index >= len(c.in) {
		return nil, fmt.Errorf("no input slot %d", index)
	}
	return c.in[index], nil
}

func (c *scriptedCodec) OutputBuffer(index int) ([]byte, error) {
	if index < 0 || index >= len(c.out) {
		return nil, fmt.Errorf("no output slot %d", index)
	}
	return c.out[index], nil
}

func (c *scriptedCodec) QueueInputBuffer(index, offset, size int, ptsUs int64, flags BufferFlags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queueErr != nil {
		return c.queueErr
	}
	data := append([]byte(nil), c.in[index][offset:offset+size]...)
	c.queued = append(c.queued, queuedInput{index: index, data: data, pts: ptsUs, flags: flags})
	return nil
}

func (c *scriptedCodec) ReleaseOutputBuffer(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, index)
	return nil
}

func (c *scriptedCodec) OutputFormat() Format { return Format{} }

func (c *scriptedCodec) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return c.stopErr
}

func (c *scriptedCodec) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases++
	if c.releases == 1 {
		close(c.events)
	}
	return c.releaseErr
}

func (c *scriptedCodec) queuedInputs() []queuedInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]queuedInput(nil), c.queued...)
}

func (c *scriptedCodec) releasedOutputs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.released...)
}

// =============================================================================
// memExtractor
// =============================================================================

type memSample struct {
	data  string
	pts   int64
	flags BufferFlags
}

type memExtractor struct {
	formats  []Format
	samples  []memSample
	pos      int
	selected int
	readErr  error
	errAt    int // Sample index failing with readErr, -1 for none
	closes   int
}

func newMemExtractor(format Format, samples ...memSample) *memExtractor {
	return &memExtractor{formats: []Format{format}, samples: samples, selected: -1, errAt: -1}
}

func videoSamples(n int) []memSample {
	out := make([]memSample, n)
	for i := range out {
		out[i] = memSample{data: fmt.Sprintf("frame-%d", i), pts: int64(i) * 40_000}
	}
	out[0].flags = FlagKeyFrame
	return out
}

func (e *memExtractor) TrackCount() int { return len(e.formats) }

func (e *memExtractor) TrackFormat(i int) (Format, error) {
	if i < 0 || i >= len(e.formats) {
		return Format{}, ErrTrackNotFound
	}
	return e.formats[i], nil
}

func (e *memExtractor) SelectTrack(i int) error {
	e.selected = i
	return nil
}

func (e *memExtractor) ReadSampleData(buf []byte) (int, error) {
	if e.pos == e.errAt {
		return 0, e.readErr
	}
	if e.pos >= len(e.samples) {
		return -1, nil
	}
	return copy(buf, e.samples[e.pos].data), nil
}

func (e *memExtractor) SampleTime() int64 {
	if e.pos >= len(e.samples) {
		return -1
	}
	return e.samples[e.pos].pts
}

func (e *memExtractor) SampleFlags() BufferFlags {
	if e.pos >= len(e.samples) {
		return 0
	}
	return e.samples[e.pos].flags
}

func (e *memExtractor) Advance() bool {
	if e.pos < len(e.samples) {
		e.pos++
	}
	return e.pos < len(e.samples)
}

func (e *memExtractor) Close() error {
	e.closes++
	return nil
}

// =============================================================================
// recordingMuxer
// =============================================================================

type muxWrite struct {
	track int
	data  string
	info  BufferInfo
}

type recordingMuxer struct {
	mu     sync.Mutex
	tracks []Format
	writes []muxWrite

	starts, stops, closes int

	startErr error
	writeErr error
	stopErr  error
	closeErr error
}

func (m *recordingMuxer) AddTrack(format Format) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, format)
	return len(m.tracks) - 1, nil
}

func (m *recordingMuxer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return m.startErr
}

func (m *recordingMuxer) WriteSampleData(track int, data []byte, info BufferInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, muxWrite{track: track, data: string(data), info: info})
	return nil
}

func (m *recordingMuxer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return m.stopErr
}

func (m *recordingMuxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return m.closeErr
}

func (m *recordingMuxer) written() []muxWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]muxWrite(nil), m.writes...)
}

// newTestRunner builds a runner for kind over scripted codecs with four
// slots of 64 bytes.
func newTestRunner(kind StreamKind, ex Extractor) (*streamRunner, *scriptedCodec, *scriptedCodec, *test.Hook) {
	log, hook := nullLogger()
	r := newStreamRunner(NewStreamState(kind), 8, log)
	r.extractor = ex
	r.decoder = newScriptedCodec(4, 64)
	r.encoder = newScriptedCodec(4, 64)
	return r, r.decoder.(*scriptedCodec), r.encoder.(*scriptedCodec), hook
}
