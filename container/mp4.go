package container

import (
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/thesyncim/transcode"
)

const mp4VideoTimeScale = 90000

type mp4Track struct {
	id              int
	format          transcode.Format
	codec           mp4.Codec
	timeScale       uint32
	defaultDuration uint32
	lastDTS         int64
	written         bool
}

type mp4Pending struct {
	track int
	data  []byte
	info  transcode.BufferInfo
}

// mp4Muxer writes a fragmented MP4 file, one fragment per sample. An H.264
// track without parameter sets in its format takes them from the first
// samples; the init segment and everything written before it wait until
// every track is ready.
type mp4Muxer struct {
	file io.WriteCloser

	tracks   []*mp4Track
	started  bool
	initDone bool
	pending  []mp4Pending
	sequence uint32
}

func newMP4Muxer(f io.WriteCloser) *mp4Muxer {
	return &mp4Muxer{file: f, sequence: 1}
}

// parameterSets returns the SPS and PPS found in an Annex-B buffer.
func parameterSets(annexB []byte) (sps, pps []byte) {
	var nalus h264.AnnexB
	if err := nalus.Unmarshal(annexB); err != nil {
		return nil, nil
	}
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch naluType(n) {
		case h264.NALUTypeSPS:
			sps = n
		case h264.NALUTypePPS:
			pps = n
		}
	}
	return sps, pps
}

func (m *mp4Muxer) AddTrack(format transcode.Format) (int, error) {
	if m.started {
		return -1, errors.New("mp4: track added after start")
	}
	t := &mp4Track{id: len(m.tracks) + 1, format: format}

	switch {
	case transcode.VideoCodecFromMime(format.MimeType) == transcode.VideoCodecH264:
		t.timeScale = mp4VideoTimeScale
		fps := format.FrameRate
		if fps <= 0 {
			fps = 25
		}
		t.defaultDuration = uint32(mp4VideoTimeScale / fps)
		if sps, pps := parameterSets(format.CodecPrivate); sps != nil && pps != nil {
			t.codec = &mp4.CodecH264{SPS: sps, PPS: pps}
		}
	case transcode.AudioCodecFromMime(format.MimeType) == transcode.AudioCodecOpus:
		channels := format.Channels
		if channels <= 0 {
			channels = 2
		}
		t.timeScale = opusClockRate
		t.defaultDuration = opusClockRate / 50
		t.codec = &mp4.CodecOpus{ChannelCount: channels}
	case transcode.AudioCodecFromMime(format.MimeType) == transcode.AudioCodecAAC:
		profile := format.AACProfile
		if profile == 0 {
			profile = int(mpeg4audio.ObjectTypeAACLC)
		}
		if format.SampleRate <= 0 {
			return -1, errors.New("mp4: AAC track without sample rate")
		}
		t.timeScale = uint32(format.SampleRate)
		t.defaultDuration = 1024
		t.codec = &mp4.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectType(profile),
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
		}}
	default:
		return -1, fmt.Errorf("%w: %s in mp4", ErrUnsupported, format.MimeType)
	}

	m.tracks = append(m.tracks, t)
	return len(m.tracks) - 1, nil
}

func (m *mp4Muxer) Start() error {
	if len(m.tracks) == 0 {
		return errors.New("mp4: no tracks")
	}
	m.started = true
	return m.maybeWriteInit()
}

func (m *mp4Muxer) ready() bool {
	for _, t := range m.tracks {
		if t.codec == nil {
			return false
		}
	}
	return true
}

func (m *mp4Muxer) maybeWriteInit() error {
	if m.initDone || !m.ready() {
		return nil
	}
	init := &fmp4.Init{}
	for _, t := range m.tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     t.codec,
		})
	}
	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("mp4: init segment: %w", err)
	}
	if _, err := m.file.Write(buf.Bytes()); err != nil {
		return err
	}
	m.initDone = true

	pending := m.pending
	m.pending = nil
	for _, p := range pending {
		if err := m.writeFragment(p.track, p.data, p.info); err != nil {
			return err
		}
	}
	return nil
}

func (m *mp4Muxer) WriteSampleData(track int, data []byte, info transcode.BufferInfo) error {
	if !m.started {
		return errors.New("mp4: write before start")
	}
	if track < 0 || track >= len(m.tracks) {
		return fmt.Errorf("%w: %d", transcode.ErrTrackNotFound, track)
	}
	if len(data) == 0 {
		return nil
	}

	t := m.tracks[track]
	if t.codec == nil {
		if sps, pps := parameterSets(data); sps != nil && pps != nil {
			t.codec = &mp4.CodecH264{SPS: sps, PPS: pps}
		}
	}
	if !m.initDone {
		// data belongs to the caller once we return.
		m.pending = append(m.pending, mp4Pending{track: track, data: append([]byte(nil), data...), info: info})
		return m.maybeWriteInit()
	}
	return m.writeFragment(track, data, info)
}

func (m *mp4Muxer) writeFragment(track int, data []byte, info transcode.BufferInfo) error {
	t := m.tracks[track]

	payload := data
	if _, isH264 := t.codec.(*mp4.CodecH264); isH264 {
		avcc, err := annexBToAVCC(data)
		if err != nil {
			return fmt.Errorf("mp4: h264 sample: %w", err)
		}
		payload = avcc
	}

	dts := info.PresentationTimeUs * int64(t.timeScale) / 1_000_000
	if dts < 0 {
		dts = 0
	}
	duration := t.defaultDuration
	if t.written && dts > t.lastDTS {
		duration = uint32(dts - t.lastDTS)
	}

	part := &fmp4.Part{
		SequenceNumber: m.sequence,
		Tracks: []*fmp4.PartTrack{{
			ID:       t.id,
			BaseTime: uint64(dts),
			Samples: []*fmp4.Sample{{
				Duration:        duration,
				IsNonSyncSample: t.format.IsVideo() && !info.Flags.Has(transcode.FlagKeyFrame),
				Payload:         payload,
			}},
		}},
	}
	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("mp4: fragment: %w", err)
	}
	if _, err := m.file.Write(buf.Bytes()); err != nil {
		return err
	}

	m.sequence++
	t.lastDTS = dts
	t.written = true
	return nil
}

func (m *mp4Muxer) Stop() error {
	if !m.initDone {
		return errors.New("mp4: stopped before parameter sets of every track were known")
	}
	return nil
}

func (m *mp4Muxer) Close() error {
	return m.file.Close()
}
