package container

import (
	"bytes"
	"io"
)

// Kind identifies a file format by its leading bytes.
type Kind int

const (
	KindUnknown Kind = iota
	KindIVF
	KindOgg
	KindH264
	KindMatroska
)

func (k Kind) String() string {
	switch k {
	case KindIVF:
		return "ivf"
	case KindOgg:
		return "ogg"
	case KindH264:
		return "h264"
	case KindMatroska:
		return "matroska"
	default:
		return "unknown"
	}
}

// sniffLen is the number of bytes Detect needs to recognize every kind.
const sniffLen = 32

// Detect recognizes a file from its first bytes:
//   - IVF: "DKIF" signature; the fourcc is checked when the file is opened
//   - Ogg: RFC 3533 capture pattern "OggS"
//   - Matroska/WebM: EBML magic 0x1A45DFA3
//   - H.264: Annex-B start code followed by a valid NAL unit type
func Detect(header []byte) Kind {
	switch {
	case len(header) >= 12 && string(header[:4]) == "DKIF":
		return KindIVF
	case bytes.HasPrefix(header, []byte("OggS")):
		return KindOgg
	case bytes.HasPrefix(header, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return KindMatroska
	case isAnnexBStartCode(header) && isH264NALType(getNALType(header)):
		return KindH264
	}
	return KindUnknown
}

// detectReader detects r's kind and rewinds it.
func detectReader(r io.ReadSeeker) (Kind, error) {
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return KindUnknown, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return KindUnknown, err
	}
	return Detect(header[:n]), nil
}

// isAnnexBStartCode checks for a 4-byte (0x00000001) or 3-byte (0x000001)
// Annex-B start code.
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return data[0] == 0 && data[1] == 0 && data[2] == 1
}

// getNALType returns the type of the NAL unit following the start code.
func getNALType(data []byte) byte {
	offset := 3
	if data[2] == 0 {
		offset = 4
	}
	if len(data) <= offset {
		return 0
	}
	return data[offset] & 0x1F
}

// isH264NALType reports whether nalType is defined by ITU-T H.264
// Table 7-1: 1-12 and 19-21.
func isH264NALType(nalType byte) bool {
	return (nalType >= 1 && nalType <= 12) || (nalType >= 19 && nalType <= 21)
}
