package container

import (
	"errors"
	"fmt"
	"io"

	"github.com/thesyncim/transcode"
)

// sample is one compressed access unit read from a file.
type sample struct {
	data  []byte
	pts   int64 // Microseconds
	flags transcode.BufferFlags
}

// sampleReader returns successive samples of a single-track file and
// io.EOF after the last one.
type sampleReader interface {
	next() (sample, error)
}

type sampleReaderFunc func() (sample, error)

func (f sampleReaderFunc) next() (sample, error) { return f() }

// trackExtractor implements transcode.Extractor over a single-track file
// by keeping one sample of lookahead.
type trackExtractor struct {
	closer io.Closer
	format transcode.Format
	reader sampleReader

	selected bool
	cur      sample
	done     bool
	err      error // Read failure, reported by the next ReadSampleData
}

func newTrackExtractor(c io.Closer, format transcode.Format, r sampleReader) *trackExtractor {
	return &trackExtractor{closer: c, format: format, reader: r}
}

func (e *trackExtractor) TrackCount() int { return 1 }

func (e *trackExtractor) TrackFormat(i int) (transcode.Format, error) {
	if i != 0 {
		return transcode.Format{}, fmt.Errorf("%w: %d", transcode.ErrTrackNotFound, i)
	}
	return e.format, nil
}

func (e *trackExtractor) SelectTrack(i int) error {
	if i != 0 {
		return fmt.Errorf("%w: %d", transcode.ErrTrackNotFound, i)
	}
	if !e.selected {
		e.selected = true
		e.load()
	}
	return nil
}

func (e *trackExtractor) load() {
	s, err := e.reader.next()
	switch {
	case errors.Is(err, io.EOF):
		e.done = true
		e.cur = sample{}
	case err != nil:
		e.err = err
	default:
		e.cur = s
	}
}

func (e *trackExtractor) ReadSampleData(buf []byte) (int, error) {
	switch {
	case !e.selected:
		return 0, transcode.ErrNoTrackSelected
	case e.err != nil:
		return 0, e.err
	case e.done:
		return -1, nil
	case len(buf) < len(e.cur.data):
		return 0, fmt.Errorf("%w: sample of %d bytes, buffer of %d", transcode.ErrBufferTooSmall, len(e.cur.data), len(buf))
	}
	return copy(buf, e.cur.data), nil
}

func (e *trackExtractor) SampleTime() int64 {
	if e.done || !e.selected {
		return -1
	}
	return e.cur.pts
}

func (e *trackExtractor) SampleFlags() transcode.BufferFlags {
	return e.cur.flags
}

func (e *trackExtractor) Advance() bool {
	if !e.selected || e.done || e.err != nil {
		return false
	}
	e.load()
	return !e.done
}

func (e *trackExtractor) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}
