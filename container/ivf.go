package container

import (
	"fmt"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/thesyncim/transcode"
)

func ivfCodec(fourCC string) transcode.VideoCodec {
	switch fourCC {
	case "VP80":
		return transcode.VideoCodecVP8
	case "VP90":
		return transcode.VideoCodecVP9
	case "AV01":
		return transcode.VideoCodecAV1
	case "H264":
		return transcode.VideoCodecH264
	default:
		return transcode.VideoCodecUnknown
	}
}

// vp8KeyFrame reports whether frame starts a VP8 key frame. The frame tag's
// lowest bit is 0 for key frames.
func vp8KeyFrame(frame []byte) bool {
	return len(frame) > 0 && frame[0]&0x01 == 0
}

// ivfTimeUs converts a frame timestamp from ivfreader to microseconds.
// ivfreader reports pts*den/num rounded down; for den >= num that maps back
// to exactly one pts.
func ivfTimeUs(ts, num, den int64) int64 {
	pts := (ts*num + den - 1) / den
	if den < num {
		pts = ts * num / den
	}
	return pts * num * 1_000_000 / den
}

func newIVFExtractor(r io.ReadCloser) (transcode.Extractor, error) {
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return nil, err
	}
	codec := ivfCodec(header.FourCC)
	if codec == transcode.VideoCodecUnknown {
		return nil, fmt.Errorf("%w: IVF fourcc %q", ErrUnsupported, header.FourCC)
	}

	num := int64(header.TimebaseNumerator)
	den := int64(header.TimebaseDenominator)
	if num == 0 || den == 0 {
		return nil, fmt.Errorf("IVF timebase %d/%d", num, den)
	}

	format := transcode.Format{
		MimeType: codec.MimeType(),
		Width:    int(header.Width),
		Height:   int(header.Height),
	}
	if den%num == 0 {
		format.FrameRate = int(den / num)
	}
	if header.NumFrames > 0 {
		format.DurationUs = int64(header.NumFrames) * num * 1_000_000 / den
	}

	first := true
	next := func() (sample, error) {
		frame, fh, err := reader.ParseNextFrame()
		if err != nil {
			return sample{}, err
		}
		s := sample{
			data: frame,
			pts:  ivfTimeUs(int64(fh.Timestamp), num, den),
		}
		if (codec == transcode.VideoCodecVP8 && vp8KeyFrame(frame)) || (codec != transcode.VideoCodecVP8 && first) {
			s.flags |= transcode.FlagKeyFrame
		}
		first = false
		return s, nil
	}
	return newTrackExtractor(r, format, sampleReaderFunc(next)), nil
}
