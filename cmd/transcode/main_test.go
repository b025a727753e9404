package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thesyncim/transcode"
	"github.com/thesyncim/transcode/container"
)

func writeIVF(t *testing.T, path string, frames int) {
	t.Helper()
	var b bytes.Buffer
	header := make([]byte, 32)
	copy(header, "DKIF")
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:], "VP80")
	binary.LittleEndian.PutUint16(header[12:], 160)
	binary.LittleEndian.PutUint16(header[14:], 96)
	binary.LittleEndian.PutUint32(header[16:], 25)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(frames))
	b.Write(header)
	for i := 0; i < frames; i++ {
		frame := []byte{0x01, byte(i), 0xAB, 0xCD}
		if i == 0 {
			frame[0] = 0x00
		}
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh, uint32(len(frame)))
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))
		b.Write(fh)
		b.Write(frame)
	}
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

func writeOgg(t *testing.T, path string, packets int) {
	t.Helper()
	m, err := container.NewMuxer(path)
	require.NoError(t, err)
	_, err = m.AddTrack(transcode.Format{MimeType: "audio/opus", SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	for i := 0; i < packets; i++ {
		data := []byte{0xF8, byte(i)}
		require.NoError(t, m.WriteSampleData(0, data, transcode.BufferInfo{Size: 2, PresentationTimeUs: int64(i) * 20_000}))
	}
	require.NoError(t, m.Stop())
	require.NoError(t, m.Close())
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.Execute()
}

// webmBlocks returns the payloads and times in ms of every block in a WebM
// file, per track number.
func webmBlocks(t *testing.T, data []byte) (tracks []webm.TrackEntry, payloads map[uint64][][]byte, times map[uint64][]int64) {
	t.Helper()
	var file struct {
		Header  webm.EBMLHeader `ebml:"EBML"`
		Segment webm.Segment    `ebml:"Segment,size=unknown"`
	}
	require.NoError(t, ebml.Unmarshal(bytes.NewReader(data), &file))
	assert.Equal(t, "webm", file.Header.DocType)

	payloads = make(map[uint64][][]byte)
	times = make(map[uint64][]int64)
	for _, c := range file.Segment.Cluster {
		for _, b := range c.SimpleBlock {
			require.Len(t, b.Data, 1)
			payloads[b.TrackNumber] = append(payloads[b.TrackNumber], b.Data[0])
			times[b.TrackNumber] = append(times[b.TrackNumber], int64(c.Timecode)+int64(b.Timecode))
		}
	}
	return file.Segment.Tracks.TrackEntry, payloads, times
}

func TestRun_VideoAndAudioToWebM(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "in.ivf")
	audio := filepath.Join(dir, "in.ogg")
	out := filepath.Join(dir, "out.webm")
	writeIVF(t, video, 8)
	writeOgg(t, audio, 12)

	err := execute(t, "run", "--video", video, "--audio", audio, "-o", out, "--timeout", "10s", "--log-level", "warning")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	tracks, payloads, times := webmBlocks(t, data)
	require.Len(t, tracks, 2)
	assert.Equal(t, "V_VP8", tracks[0].CodecID)
	assert.Equal(t, "A_OPUS", tracks[1].CodecID)

	// The loopback codecs pass payloads through, so the file holds the
	// input frames at their input times.
	require.Len(t, payloads[1], 8)
	for i, p := range payloads[1] {
		want := []byte{0x01, byte(i), 0xAB, 0xCD}
		if i == 0 {
			want[0] = 0x00
		}
		assert.Equal(t, want, p, "video frame %d", i)
		assert.Equal(t, int64(i)*40, times[1][i], "video frame %d", i)
	}

	require.Len(t, payloads[2], 12)
	for i, p := range payloads[2] {
		assert.Equal(t, []byte{0xF8, byte(i)}, p, "audio packet %d", i)
		if i > 0 {
			assert.GreaterOrEqual(t, times[2][i], times[2][i-1], "audio packet %d", i)
		}
	}
}

func TestRun_AudioOnlyToOgg(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "in.opus")
	out := filepath.Join(dir, "out.ogg")
	writeOgg(t, audio, 5)

	require.NoError(t, execute(t, "run", "--audio", audio, "-o", out))

	ex, err := container.Open(out)
	require.NoError(t, err)
	defer ex.Close()
	require.NoError(t, ex.SelectTrack(0))

	buf := make([]byte, 64)
	var got [][]byte
	for {
		n, err := ex.ReadSampleData(buf)
		require.NoError(t, err)
		if n < 0 {
			break
		}
		got = append(got, append([]byte(nil), buf[:n]...))
		ex.Advance()
	}
	require.Len(t, got, 5)
	assert.Equal(t, []byte{0xF8, 0x04}, got[4])
}

func TestRun_RequiresInputAndOutput(t *testing.T) {
	assert.ErrorIs(t, execute(t, "run", "-o", filepath.Join(t.TempDir(), "out.webm")), transcode.ErrNoStreams)
	assert.Error(t, execute(t, "run", "--video", "in.ivf"))
}

func TestRun_UnsupportedOutput(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "in.ivf")
	writeIVF(t, video, 2)

	err := execute(t, "run", "--video", video, "-o", filepath.Join(dir, "out.avi"))
	assert.ErrorIs(t, err, container.ErrUnsupported)
}

func TestProbe(t *testing.T) {
	video := filepath.Join(t.TempDir(), "in.ivf")
	writeIVF(t, video, 1)

	assert.NoError(t, execute(t, "probe", video))
	assert.Error(t, execute(t, "probe"))
}
