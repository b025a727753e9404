// Package container reads and writes the media files a transcode runs
// between: IVF, Ogg/Opus and Annex-B H.264 sources, and WebM, Ogg/Opus and
// fragmented MP4 sinks.
package container

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thesyncim/transcode"
)

// ErrUnsupported is returned for file types and codecs a container cannot
// carry.
var ErrUnsupported = errors.New("container: unsupported")

func kindFromExt(ext string) Kind {
	switch strings.ToLower(ext) {
	case ".ivf":
		return KindIVF
	case ".ogg", ".opus":
		return KindOgg
	case ".h264", ".264":
		return KindH264
	case ".webm", ".mkv":
		return KindMatroska
	default:
		return KindUnknown
	}
}

// Open opens path as an extractor. The container is chosen by extension,
// or by content when the extension is not recognized.
func Open(path string) (transcode.Extractor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	kind := kindFromExt(filepath.Ext(path))
	if kind == KindUnknown {
		kind, err = detectReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
	}

	var ex transcode.Extractor
	switch kind {
	case KindIVF:
		ex, err = newIVFExtractor(f)
	case KindOgg:
		ex, err = newOggExtractor(f)
	case KindH264:
		ex, err = newH264Extractor(f)
	default:
		err = fmt.Errorf("%w: %s input", ErrUnsupported, kind)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return ex, nil
}

// NewMuxer creates the sink for path, choosing the container by extension.
func NewMuxer(path string) (transcode.Muxer, error) {
	var newMuxer func(*os.File) transcode.Muxer
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".webm":
		newMuxer = func(f *os.File) transcode.Muxer { return newWebMMuxer(f) }
	case ".mkv":
		newMuxer = func(f *os.File) transcode.Muxer { return newMatroskaMuxer(f) }
	case ".ogg", ".opus":
		newMuxer = func(f *os.File) transcode.Muxer { return newOggMuxer(f) }
	case ".mp4", ".m4a":
		newMuxer = func(f *os.File) transcode.Muxer { return newMP4Muxer(f) }
	default:
		return nil, fmt.Errorf("%w: output extension %q", ErrUnsupported, ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return newMuxer(f), nil
}

// FileSource returns a source whose extractors expose the tracks of every
// path, in order. Each Open opens the files anew.
func FileSource(paths ...string) transcode.Source {
	return transcode.SourceFunc(func() (transcode.Extractor, error) {
		if len(paths) == 1 {
			return Open(paths[0])
		}
		m := &multiExtractor{selected: -1}
		for _, p := range paths {
			ex, err := Open(p)
			if err != nil {
				m.Close()
				return nil, err
			}
			m.parts = append(m.parts, ex)
		}
		return m, nil
	})
}

// multiExtractor concatenates the track lists of several extractors.
type multiExtractor struct {
	parts    []transcode.Extractor
	selected int // Index into parts
}

func (m *multiExtractor) locate(track int) (transcode.Extractor, int, int, error) {
	for i, p := range m.parts {
		if track < p.TrackCount() {
			return p, i, track, nil
		}
		track -= p.TrackCount()
	}
	return nil, -1, -1, fmt.Errorf("%w: %d", transcode.ErrTrackNotFound, track)
}

func (m *multiExtractor) TrackCount() int {
	n := 0
	for _, p := range m.parts {
		n += p.TrackCount()
	}
	return n
}

func (m *multiExtractor) TrackFormat(i int) (transcode.Format, error) {
	p, _, local, err := m.locate(i)
	if err != nil {
		return transcode.Format{}, err
	}
	return p.TrackFormat(local)
}

func (m *multiExtractor) SelectTrack(i int) error {
	p, part, local, err := m.locate(i)
	if err != nil {
		return err
	}
	if err := p.SelectTrack(local); err != nil {
		return err
	}
	m.selected = part
	return nil
}

func (m *multiExtractor) current() transcode.Extractor {
	if m.selected < 0 {
		return nil
	}
	return m.parts[m.selected]
}

func (m *multiExtractor) ReadSampleData(buf []byte) (int, error) {
	ex := m.current()
	if ex == nil {
		return 0, transcode.ErrNoTrackSelected
	}
	return ex.ReadSampleData(buf)
}

func (m *multiExtractor) SampleTime() int64 {
	if ex := m.current(); ex != nil {
		return ex.SampleTime()
	}
	return -1
}

func (m *multiExtractor) SampleFlags() transcode.BufferFlags {
	if ex := m.current(); ex != nil {
		return ex.SampleFlags()
	}
	return 0
}

func (m *multiExtractor) Advance() bool {
	if ex := m.current(); ex != nil {
		return ex.Advance()
	}
	return false
}

func (m *multiExtractor) Close() error {
	var errs []error
	for _, p := range m.parts {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
