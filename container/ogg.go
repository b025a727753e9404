package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/thesyncim/transcode"
)

// newOggExtractor reads an Ogg/Opus file. Every page after the headers is
// returned as one sample.
func newOggExtractor(r io.ReadCloser) (transcode.Extractor, error) {
	reader, header, err := oggreader.NewWith(r)
	if err != nil {
		return nil, err
	}

	format := transcode.Format{
		MimeType:     transcode.AudioCodecOpus.MimeType(),
		SampleRate:   int(header.SampleRate),
		Channels:     int(header.Channels),
		CodecPrivate: opusHead(int(header.Channels), header.PreSkip, header.SampleRate),
	}

	var granule uint64
	next := func() (sample, error) {
		for {
			payload, page, err := reader.ParseNextPage()
			if err != nil {
				return sample{}, err
			}
			if bytes.HasPrefix(payload, []byte("OpusTags")) {
				continue
			}
			if len(payload) == 0 {
				granule = page.GranulePosition
				continue
			}
			s := sample{
				data:  payload,
				pts:   int64(granule) * 1_000_000 / opusClockRate,
				flags: transcode.FlagKeyFrame,
			}
			granule = page.GranulePosition
			return s, nil
		}
	}
	return newTrackExtractor(r, format, sampleReaderFunc(next)), nil
}

// writerOnly hides Close so oggwriter leaves the file to the muxer.
type writerOnly struct{ io.Writer }

// oggMuxer writes a single Opus track into an Ogg file.
type oggMuxer struct {
	file io.WriteCloser

	format  *transcode.Format
	writer  *oggwriter.OggWriter
	seq     rtp.Sequencer
	ssrc    uint32
	started bool
}

func newOggMuxer(f io.WriteCloser) *oggMuxer {
	return &oggMuxer{file: f, seq: rtp.NewRandomSequencer(), ssrc: rand.Uint32()}
}

func (m *oggMuxer) AddTrack(format transcode.Format) (int, error) {
	if m.started {
		return -1, errors.New("ogg: track added after start")
	}
	if m.format != nil {
		return -1, fmt.Errorf("%w: ogg carries a single track", ErrUnsupported)
	}
	if transcode.AudioCodecFromMime(format.MimeType) != transcode.AudioCodecOpus {
		return -1, fmt.Errorf("%w: %s in ogg", ErrUnsupported, format.MimeType)
	}
	f := format
	m.format = &f
	return 0, nil
}

func (m *oggMuxer) Start() error {
	if m.format == nil {
		return errors.New("ogg: no track")
	}
	channels := m.format.Channels
	if channels <= 0 {
		channels = 2
	}
	w, err := oggwriter.NewWith(writerOnly{m.file}, opusClockRate, uint16(channels))
	if err != nil {
		return err
	}
	m.writer = w
	m.started = true
	return nil
}

func (m *oggMuxer) WriteSampleData(track int, data []byte, info transcode.BufferInfo) error {
	if !m.started {
		return errors.New("ogg: write before start")
	}
	if track != 0 {
		return fmt.Errorf("%w: %d", transcode.ErrTrackNotFound, track)
	}
	if len(data) == 0 {
		return nil
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: m.seq.NextSequenceNumber(),
			Timestamp:      uint32(info.PresentationTimeUs * opusClockRate / 1_000_000),
			SSRC:           m.ssrc,
		},
		Payload: data,
	}
	return m.writer.WriteRTP(pkt)
}

func (m *oggMuxer) Stop() error {
	if m.writer == nil {
		return nil
	}
	err := m.writer.Close()
	m.writer = nil
	return err
}

func (m *oggMuxer) Close() error {
	return m.file.Close()
}
