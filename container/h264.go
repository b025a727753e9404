package container

import (
	"bytes"
	"fmt"
	"io"

	amp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/thesyncim/transcode"
)

// H264FrameRate is the frame rate assumed for raw Annex-B streams whose SPS
// carries no timing information.
var H264FrameRate = 25

func naluType(nalu []byte) h264.NALUType {
	return h264.NALUType(nalu[0] & 0x1F)
}

// annexBToAVCC converts an Annex-B access unit to 4-byte length-prefixed
// NALUs.
func annexBToAVCC(data []byte) ([]byte, error) {
	var nalus h264.AnnexB
	if err := nalus.Unmarshal(data); err != nil {
		return nil, err
	}
	return h264.AVCC(nalus).Marshal()
}

// avcConfig returns the AVCDecoderConfigurationRecord of sps and pps, with
// 4-byte NALU lengths.
func avcConfig(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, fmt.Errorf("SPS of %d bytes", len(sps))
	}
	rec := &amp4.AVCDecoderConfiguration{
		AnyTypeBox:                 amp4.AnyTypeBox{Type: amp4.BoxTypeAvcC()},
		ConfigurationVersion:       1,
		Profile:                    sps[1],
		ProfileCompatibility:       sps[2],
		Level:                      sps[3],
		Reserved:                   0x3F,
		LengthSizeMinusOne:         3,
		Reserved2:                  0x07,
		NumOfSequenceParameterSets: 1,
		SequenceParameterSets:      []amp4.AVCParameterSet{{Length: uint16(len(sps)), NALUnit: sps}},
		NumOfPictureParameterSets:  1,
		PictureParameterSets:       []amp4.AVCParameterSet{{Length: uint16(len(pps)), NALUnit: pps}},
	}
	var buf bytes.Buffer
	if _, err := amp4.Marshal(&buf, rec, amp4.Context{}); err != nil {
		return nil, fmt.Errorf("avcC: %w", err)
	}
	return buf.Bytes(), nil
}

func isSlice(t h264.NALUType) bool {
	return t == h264.NALUTypeNonIDR || t == h264.NALUTypeIDR
}

// firstSliceOfPicture reports whether a slice NALU has first_mb_in_slice
// equal to 0, coded as a single 1 bit.
func firstSliceOfPicture(nalu []byte) bool {
	return len(nalu) > 1 && nalu[1]&0x80 != 0
}

// splitAccessUnits groups NALUs into access units.
func splitAccessUnits(nalus [][]byte) [][][]byte {
	var (
		units    [][][]byte
		cur      [][]byte
		hasSlice bool
	)
	flush := func() {
		if len(cur) > 0 {
			units = append(units, cur)
		}
		cur, hasSlice = nil, false
	}
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		t := naluType(n)
		switch {
		case t == h264.NALUTypeAccessUnitDelimiter:
			flush()
		case hasSlice && (t == h264.NALUTypeSPS || t == h264.NALUTypePPS || t == h264.NALUTypeSEI):
			flush()
		case hasSlice && isSlice(t) && firstSliceOfPicture(n):
			flush()
		}
		cur = append(cur, n)
		if isSlice(t) {
			hasSlice = true
		}
	}
	flush()
	return units
}

// newH264Extractor reads a raw Annex-B H.264 elementary stream.
func newH264Extractor(r io.ReadCloser) (transcode.Extractor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var stream h264.AnnexB
	if err := stream.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("h264: %w", err)
	}

	format := transcode.Format{
		MimeType:  transcode.VideoCodecH264.MimeType(),
		FrameRate: H264FrameRate,
	}
	var sps, pps []byte
	for _, n := range stream {
		if len(n) == 0 {
			continue
		}
		switch naluType(n) {
		case h264.NALUTypeSPS:
			if sps == nil {
				sps = n
			}
		case h264.NALUTypePPS:
			if pps == nil {
				pps = n
			}
		}
	}
	if sps != nil {
		var parsed h264.SPS
		if err := parsed.Unmarshal(sps); err == nil {
			format.Width = parsed.Width()
			format.Height = parsed.Height()
			if fps := parsed.FPS(); fps > 0 {
				format.FrameRate = int(fps + 0.5)
			}
		}
		if pps != nil {
			private, err := h264.AnnexB{sps, pps}.Marshal()
			if err == nil {
				format.CodecPrivate = private
			}
		}
	}

	if format.FrameRate <= 0 {
		format.FrameRate = 25
	}
	units := splitAccessUnits(stream)
	frameUs := int64(1_000_000 / format.FrameRate)
	i := 0
	next := func() (sample, error) {
		if i >= len(units) {
			return sample{}, io.EOF
		}
		au := units[i]
		payload, err := h264.AnnexB(au).Marshal()
		if err != nil {
			return sample{}, err
		}
		s := sample{data: payload, pts: int64(i) * frameUs}
		for _, n := range au {
			if naluType(n) == h264.NALUTypeIDR {
				s.flags |= transcode.FlagKeyFrame
				break
			}
		}
		i++
		return s, nil
	}
	return newTrackExtractor(r, format, sampleReaderFunc(next)), nil
}
