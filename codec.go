package transcode

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// StreamKind identifies one of the parallel streams of a transcode run.
type StreamKind int

const (
	StreamVideo StreamKind = iota
	StreamAudio
)

func (k StreamKind) String() string {
	switch k {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// MimePrefix returns the MIME type prefix of formats of this kind.
func (k StreamKind) MimePrefix() string {
	return k.String() + "/"
}

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecH264
	VideoCodecH265
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return webrtc.MimeTypeVP8
	case VideoCodecVP9:
		return webrtc.MimeTypeVP9
	case VideoCodecH264:
		return webrtc.MimeTypeH264
	case VideoCodecH265:
		return webrtc.MimeTypeH265
	case VideoCodecAV1:
		return webrtc.MimeTypeAV1
	default:
		return ""
	}
}

// VideoCodecFromMime maps a MIME type to a VideoCodec. Android style names
// (video/avc, video/x-vnd.on2.vp8, ...) are accepted as aliases.
func VideoCodecFromMime(mime string) VideoCodec {
	switch strings.ToLower(mime) {
	case strings.ToLower(webrtc.MimeTypeVP8), "video/x-vnd.on2.vp8":
		return VideoCodecVP8
	case strings.ToLower(webrtc.MimeTypeVP9), "video/x-vnd.on2.vp9":
		return VideoCodecVP9
	case strings.ToLower(webrtc.MimeTypeH264), "video/avc":
		return VideoCodecH264
	case strings.ToLower(webrtc.MimeTypeH265), "video/hevc":
		return VideoCodecH265
	case strings.ToLower(webrtc.MimeTypeAV1), "video/av01":
		return VideoCodecAV1
	default:
		return VideoCodecUnknown
	}
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecOpus
	AudioCodecG711A // A-law (PCMA)
	AudioCodecG711U // μ-law (PCMU)
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "Opus"
	case AudioCodecG711A:
		return "PCMA"
	case AudioCodecG711U:
		return "PCMU"
	case AudioCodecAAC:
		return "AAC"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecOpus:
		return webrtc.MimeTypeOpus
	case AudioCodecG711A:
		return webrtc.MimeTypePCMA
	case AudioCodecG711U:
		return webrtc.MimeTypePCMU
	case AudioCodecAAC:
		return "audio/mp4a-latm"
	default:
		return ""
	}
}

// AudioCodecFromMime maps a MIME type to an AudioCodec.
func AudioCodecFromMime(mime string) AudioCodec {
	switch strings.ToLower(mime) {
	case strings.ToLower(webrtc.MimeTypeOpus):
		return AudioCodecOpus
	case strings.ToLower(webrtc.MimeTypePCMA):
		return AudioCodecG711A
	case strings.ToLower(webrtc.MimeTypePCMU):
		return AudioCodecG711U
	case "audio/mp4a-latm", "audio/aac":
		return AudioCodecAAC
	default:
		return AudioCodecUnknown
	}
}

// Format describes the media carried by a track or produced by a codec.
// Video fields are ignored for audio formats and vice versa.
type Format struct {
	MimeType string

	// Video
	Width          int
	Height         int
	FrameRate      int
	IFrameInterval int // Seconds between sync frames, 0 = every frame

	// Audio
	SampleRate int
	Channels   int
	AACProfile int

	BitrateBps   int
	DurationUs   int64
	CodecPrivate []byte // Out-of-band codec initialization data
}

// IsVideo reports whether the format describes a video stream.
func (f Format) IsVideo() bool {
	return strings.HasPrefix(strings.ToLower(f.MimeType), StreamVideo.MimePrefix())
}

// IsAudio reports whether the format describes an audio stream.
func (f Format) IsAudio() bool {
	return strings.HasPrefix(strings.ToLower(f.MimeType), StreamAudio.MimePrefix())
}

// Kind returns the stream kind of the format.
func (f Format) Kind() (StreamKind, bool) {
	switch {
	case f.IsVideo():
		return StreamVideo, true
	case f.IsAudio():
		return StreamAudio, true
	default:
		return 0, false
	}
}

func (f Format) String() string {
	switch {
	case f.IsVideo():
		return fmt.Sprintf("%s %dx%d@%d %dbps", f.MimeType, f.Width, f.Height, f.FrameRate, f.BitrateBps)
	case f.IsAudio():
		return fmt.Sprintf("%s %dHz/%dch %dbps", f.MimeType, f.SampleRate, f.Channels, f.BitrateBps)
	default:
		return f.MimeType
	}
}
