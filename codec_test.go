package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamKind_String(t *testing.T) {
	tests := []struct {
		kind StreamKind
		want string
	}{
		{StreamVideo, "video"},
		{StreamAudio, "audio"},
		{StreamKind(7), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
	assert.Equal(t, "audio/", StreamAudio.MimePrefix())
}

func TestVideoCodec_MimeType(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
	}{
		{VideoCodecVP8, "video/VP8"},
		{VideoCodecVP9, "video/VP9"},
		{VideoCodecH264, "video/H264"},
		{VideoCodecH265, "video/H265"},
		{VideoCodecAV1, "video/AV1"},
		{VideoCodecUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.codec.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.codec.MimeType())
			if tt.codec != VideoCodecUnknown {
				assert.Equal(t, tt.codec, VideoCodecFromMime(tt.want))
			}
		})
	}
}

func TestVideoCodecFromMime_Aliases(t *testing.T) {
	tests := []struct {
		mime string
		want VideoCodec
	}{
		{"video/avc", VideoCodecH264},
		{"video/hevc", VideoCodecH265},
		{"video/x-vnd.on2.vp8", VideoCodecVP8},
		{"VIDEO/vp9", VideoCodecVP9},
		{"video/av01", VideoCodecAV1},
		{"video/mpeg2", VideoCodecUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.want, VideoCodecFromMime(tt.mime))
		})
	}
}

func TestAudioCodec_MimeType(t *testing.T) {
	tests := []struct {
		codec AudioCodec
		want  string
	}{
		{AudioCodecOpus, "audio/opus"},
		{AudioCodecG711A, "audio/PCMA"},
		{AudioCodecG711U, "audio/PCMU"},
		{AudioCodecAAC, "audio/mp4a-latm"},
	}

	for _, tt := range tests {
		t.Run(tt.codec.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.codec.MimeType())
			assert.Equal(t, tt.codec, AudioCodecFromMime(tt.want))
		})
	}
	assert.Equal(t, AudioCodecAAC, AudioCodecFromMime("audio/aac"))
	assert.Equal(t, AudioCodecUnknown, AudioCodecFromMime("audio/flac"))
	assert.Equal(t, "Unknown", AudioCodec(99).String())
}

func TestFormat_Kind(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		kind   StreamKind
		ok     bool
	}{
		{"video", Format{MimeType: "video/VP8"}, StreamVideo, true},
		{"upper case", Format{MimeType: "Audio/Opus"}, StreamAudio, true},
		{"other", Format{MimeType: "text/vtt"}, 0, false},
		{"empty", Format{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := tt.format.Kind()
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.kind, kind)
			}
		})
	}
}

func TestFormat_String(t *testing.T) {
	v := Format{MimeType: "video/VP8", Width: 1920, Height: 1080, FrameRate: 25, BitrateBps: 2_000_000}
	assert.Equal(t, "video/VP8 1920x1080@25 2000000bps", v.String())

	a := Format{MimeType: "audio/opus", SampleRate: 48000, Channels: 2, BitrateBps: 131072}
	assert.Equal(t, "audio/opus 48000Hz/2ch 131072bps", a.String())

	assert.Equal(t, "text/vtt", Format{MimeType: "text/vtt"}.String())
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "input-available", EventInputAvailable.String())
	assert.Equal(t, "format-changed", EventFormatChanged.String())
	assert.Equal(t, "unknown", EventKind(9).String())

	ev := CodecEvent{Kind: EventOutputAvailable, Index: 3, Info: BufferInfo{Size: 10, PresentationTimeUs: 40, Flags: FlagKeyFrame}}
	assert.Equal(t, "output-available[3] size=10 pts=40 flags=key", ev.String())
}
