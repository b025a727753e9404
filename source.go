package transcode

import (
	"fmt"
	"io"
	"strings"
)

// Extractor pulls compressed samples of one selected track out of a
// container, one sample at a time.
type Extractor interface {
	io.Closer

	// TrackCount returns the number of tracks in the container.
	TrackCount() int

	// TrackFormat returns the format of track i.
	TrackFormat(i int) (Format, error)

	// SelectTrack selects the track subsequent reads return samples of.
	SelectTrack(i int) error

	// ReadSampleData copies the current sample into buf and returns its
	// size. A negative size means the track is exhausted.
	// Returns ErrBufferTooSmall if buf cannot hold the sample.
	ReadSampleData(buf []byte) (int, error)

	// SampleTime returns the current sample's presentation time in
	// microseconds, or -1 once exhausted.
	SampleTime() int64

	// SampleFlags returns the current sample's flags.
	SampleFlags() BufferFlags

	// Advance moves to the next sample. It returns false once no sample
	// is left.
	Advance() bool
}

// Source opens independent extractors over the same input. Each stream of
// a run opens its own extractor.
type Source interface {
	Open() (Extractor, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() (Extractor, error)

// Open calls f.
func (f SourceFunc) Open() (Extractor, error) { return f() }

// selectTrack selects the first track whose MIME type belongs to kind and
// returns its index and format.
func selectTrack(ex Extractor, kind StreamKind) (int, Format, error) {
	for i := 0; i < ex.TrackCount(); i++ {
		format, err := ex.TrackFormat(i)
		if err != nil {
			return -1, Format{}, err
		}
		if !strings.HasPrefix(strings.ToLower(format.MimeType), kind.MimePrefix()) {
			continue
		}
		if err := ex.SelectTrack(i); err != nil {
			return -1, Format{}, err
		}
		return i, format, nil
	}
	return -1, Format{}, fmt.Errorf("%w: no %s track", ErrTrackNotFound, kind)
}
