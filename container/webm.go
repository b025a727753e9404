package container

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/thesyncim/transcode"
)

const (
	webmTrackVideo = 1
	webmTrackAudio = 2
)

// nopCloser keeps the block writers from closing the file; the muxer
// closes it in Close.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// webmMuxer writes video and audio tracks into a WebM or Matroska file.
// Timestamps are written in milliseconds, the default timecode scale. An
// H.264 track without parameter sets in its format takes them from the
// first samples; the file header and everything written before it wait
// until every track is ready.
type webmMuxer struct {
	file     io.WriteCloser
	matroska bool

	tracks  []webm.TrackEntry
	h264    []bool
	writers []webm.BlockWriteCloser
	pending []webmPending
	started bool

	mu    sync.Mutex
	fatal error
}

type webmPending struct {
	track int
	data  []byte
	info  transcode.BufferInfo
}

func newWebMMuxer(f io.WriteCloser) *webmMuxer {
	return &webmMuxer{file: f}
}

func newMatroskaMuxer(f io.WriteCloser) *webmMuxer {
	return &webmMuxer{file: f, matroska: true}
}

// webmCodecID returns the Matroska codec ID of mimeType. WebM only carries
// VP8, VP9, AV1 and Opus.
func webmCodecID(mimeType string, matroska bool) (string, bool) {
	switch transcode.VideoCodecFromMime(mimeType) {
	case transcode.VideoCodecVP8:
		return "V_VP8", true
	case transcode.VideoCodecVP9:
		return "V_VP9", true
	case transcode.VideoCodecAV1:
		return "V_AV1", true
	case transcode.VideoCodecH264:
		return "V_MPEG4/ISO/AVC", matroska
	}
	switch transcode.AudioCodecFromMime(mimeType) {
	case transcode.AudioCodecOpus:
		return "A_OPUS", true
	case transcode.AudioCodecAAC:
		return "A_AAC", matroska
	}
	return "", false
}

func (m *webmMuxer) docType() string {
	if m.matroska {
		return "matroska"
	}
	return "webm"
}

// aacConfig returns the AudioSpecificConfig of an AAC format.
func aacConfig(format transcode.Format) ([]byte, error) {
	profile := format.AACProfile
	if profile == 0 {
		profile = int(mpeg4audio.ObjectTypeAACLC)
	}
	conf := mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectType(profile),
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
	}
	return conf.Marshal()
}

func (m *webmMuxer) AddTrack(format transcode.Format) (int, error) {
	if m.started {
		return -1, errors.New("webm: track added after start")
	}
	codecID, ok := webmCodecID(format.MimeType, m.matroska)
	if !ok {
		return -1, fmt.Errorf("%w: %s in %s", ErrUnsupported, format.MimeType, m.docType())
	}

	number := uint64(len(m.tracks) + 1)
	entry := webm.TrackEntry{
		TrackNumber:  number,
		TrackUID:     number,
		CodecID:      codecID,
		CodecPrivate: format.CodecPrivate,
	}
	isH264 := codecID == "V_MPEG4/ISO/AVC"
	if isH264 {
		entry.CodecPrivate = nil
		if sps, pps := parameterSets(format.CodecPrivate); sps != nil && pps != nil {
			rec, err := avcConfig(sps, pps)
			if err != nil {
				return -1, fmt.Errorf("matroska: %w", err)
			}
			entry.CodecPrivate = rec
		}
	}

	switch {
	case format.IsVideo():
		entry.Name = "Video"
		entry.TrackType = webmTrackVideo
		entry.Video = &webm.Video{
			PixelWidth:  uint64(format.Width),
			PixelHeight: uint64(format.Height),
		}
		if format.FrameRate > 0 {
			entry.DefaultDuration = uint64(1_000_000_000 / format.FrameRate)
		}
	default:
		entry.Name = "Audio"
		entry.TrackType = webmTrackAudio
		rate := format.SampleRate
		channels := format.Channels
		if channels <= 0 {
			channels = 2
		}
		switch codecID {
		case "A_OPUS":
			rate = opusClockRate
			if len(entry.CodecPrivate) == 0 {
				entry.CodecPrivate = opusHead(channels, 0, uint32(format.SampleRate))
			}
		case "A_AAC":
			if len(entry.CodecPrivate) == 0 {
				conf, err := aacConfig(format)
				if err != nil {
					return -1, fmt.Errorf("webm: AAC config: %w", err)
				}
				entry.CodecPrivate = conf
			}
		}
		entry.Audio = &webm.Audio{
			SamplingFrequency: float64(rate),
			Channels:          uint64(channels),
		}
	}

	m.tracks = append(m.tracks, entry)
	m.h264 = append(m.h264, isH264)
	return len(m.tracks) - 1, nil
}

func (m *webmMuxer) Start() error {
	if len(m.tracks) == 0 {
		return errors.New("webm: no tracks")
	}
	m.started = true
	return m.maybeOpen()
}

func (m *webmMuxer) ready() bool {
	for i, t := range m.tracks {
		if m.h264[i] && len(t.CodecPrivate) == 0 {
			return false
		}
	}
	return true
}

// maybeOpen writes the file header once every track is ready and replays
// the samples written before.
func (m *webmMuxer) maybeOpen() error {
	if m.writers != nil || !m.ready() {
		return nil
	}
	opts := []mkvcore.BlockWriterOption{
		mkvcore.WithOnFatalHandler(func(err error) {
			m.mu.Lock()
			if m.fatal == nil {
				m.fatal = err
			}
			m.mu.Unlock()
		}),
	}
	if m.matroska {
		header := *webm.DefaultEBMLHeader
		header.DocType = "matroska"
		opts = append(opts, mkvcore.WithEBMLHeader(&header))
	}
	writers, err := webm.NewSimpleBlockWriter(nopCloser{m.file}, m.tracks, opts...)
	if err != nil {
		return err
	}
	m.writers = writers

	pending := m.pending
	m.pending = nil
	for _, p := range pending {
		if err := m.write(p.track, p.data, p.info); err != nil {
			return err
		}
	}
	return nil
}

// WriteSampleData queues a copy of data: the block writer marshals blocks
// on its own goroutine after the call returns.
func (m *webmMuxer) WriteSampleData(track int, data []byte, info transcode.BufferInfo) error {
	if !m.started {
		return errors.New("webm: write before start")
	}
	if track < 0 || track >= len(m.tracks) {
		return fmt.Errorf("%w: %d", transcode.ErrTrackNotFound, track)
	}

	var payload []byte
	if m.h264[track] {
		if len(m.tracks[track].CodecPrivate) == 0 {
			if sps, pps := parameterSets(data); sps != nil && pps != nil {
				rec, err := avcConfig(sps, pps)
				if err != nil {
					return fmt.Errorf("matroska: %w", err)
				}
				m.tracks[track].CodecPrivate = rec
			}
		}
		avcc, err := annexBToAVCC(data)
		if err != nil {
			return fmt.Errorf("matroska: h264 sample: %w", err)
		}
		payload = avcc
	} else {
		payload = append([]byte(nil), data...)
	}

	if m.writers == nil {
		m.pending = append(m.pending, webmPending{track: track, data: payload, info: info})
		return m.maybeOpen()
	}
	return m.write(track, payload, info)
}

func (m *webmMuxer) write(track int, payload []byte, info transcode.BufferInfo) error {
	m.mu.Lock()
	fatal := m.fatal
	m.mu.Unlock()
	if fatal != nil {
		return fatal
	}

	keyframe := info.Flags.Has(transcode.FlagKeyFrame) || m.tracks[track].TrackType == webmTrackAudio
	_, err := m.writers[track].Write(keyframe, info.PresentationTimeUs/1000, payload)
	return err
}

func (m *webmMuxer) Stop() error {
	if m.writers == nil {
		return fmt.Errorf("%s: stopped before parameter sets of every track were known", m.docType())
	}
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.writers = nil
	if len(errs) > 0 {
		return errs[0]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

func (m *webmMuxer) Close() error {
	return m.file.Close()
}
