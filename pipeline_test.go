package transcode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineState_String(t *testing.T) {
	assert.Equal(t, "idle", PipelineStateIdle.String())
	assert.Equal(t, "running", PipelineStateRunning.String())
	assert.Equal(t, "stopped", PipelineStateStopped.String())
	assert.Equal(t, "unknown", PipelineState(9).String())
	assert.Equal(t, "decoder", roleDecoder.String())
	assert.Equal(t, "encoder", roleEncoder.String())
}

func TestPump_ForwardsUntilClosed(t *testing.T) {
	in := make(chan CodecEvent, 2)
	out := make(chan streamEvent, 2)
	in <- CodecEvent{Kind: EventInputAvailable, Index: 1}
	in <- CodecEvent{Kind: EventInputAvailable, Index: 2}
	close(in)

	var wg sync.WaitGroup
	wg.Add(1)
	pump(context.Background(), &wg, roleEncoder, in, out)
	wg.Wait()

	require.Len(t, out, 2)
	first := <-out
	assert.Equal(t, roleEncoder, first.role)
	assert.Equal(t, 1, first.ev.Index)
	assert.Equal(t, 2, (<-out).ev.Index)
}

func TestPump_StopsOnCancel(t *testing.T) {
	in := make(chan CodecEvent, 1)
	out := make(chan streamEvent) // Never drained
	in <- CodecEvent{Kind: EventInputAvailable}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go pump(ctx, &wg, roleDecoder, in, out)

	cancel()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not exit")
	}
}

func TestStreamRunner_SingleSampleToEndOfStream(t *testing.T) {
	ex := newMemExtractor(vp8Format, memSample{data: "frame-0", flags: FlagKeyFrame})
	r, dec, enc, _ := newTestRunner(StreamVideo, ex)

	mux := &recordingMuxer{}
	barrier := NewCompletionBarrier(StreamVideo)
	log, _ := nullLogger()
	r.gate = NewMuxerGate(mux, barrier, log)
	r.gate.Attach(r.state, r.encoder)

	dec.setOutput(0, "decoded")
	enc.setOutput(0, "encoded")

	script := []streamEvent{
		{roleDecoder, CodecEvent{Kind: EventInputAvailable, Index: 0}},
		{roleDecoder, CodecEvent{Kind: EventInputAvailable, Index: 1}},
		{roleDecoder, CodecEvent{Kind: EventFormatChanged, Format: Format{MimeType: "video/raw"}}},
		{roleEncoder, CodecEvent{Kind: EventFormatChanged, Format: vp8Out}},
		{roleDecoder, CodecEvent{Kind: EventOutputAvailable, Index: 0, Info: BufferInfo{Size: 7, Flags: FlagKeyFrame}}},
		{roleEncoder, CodecEvent{Kind: EventInputAvailable, Index: 0}},
		{roleDecoder, CodecEvent{Kind: EventOutputAvailable, Index: 1, Info: BufferInfo{Flags: FlagEndOfStream}}},
		{roleEncoder, CodecEvent{Kind: EventInputAvailable, Index: 1}},
		{roleEncoder, CodecEvent{Kind: EventOutputAvailable, Index: 0, Info: BufferInfo{Size: 7, Flags: FlagKeyFrame}}},
		{roleEncoder, CodecEvent{Kind: EventOutputAvailable, Index: 1, Info: BufferInfo{Flags: FlagEndOfStream}}},
	}
	go func() {
		for _, se := range script {
			r.events <- se
		}
	}()

	require.NoError(t, r.run(context.Background()))

	st := r.state.Stats()
	assert.True(t, st.SourceExhausted)
	assert.True(t, st.DecodeFinished)
	assert.True(t, st.EncodeFinished)
	assert.Equal(t, int64(1), st.Extracted)
	assert.Equal(t, int64(1), st.Decoded)
	assert.Equal(t, int64(1), st.Encoded)
	assert.Equal(t, 0, st.Track)
	require.NotNil(t, r.decoderFormat)
	assert.Equal(t, "video/raw", r.decoderFormat.MimeType)

	assert.Equal(t, BarrierComplete, barrier.State())
	assert.Equal(t, []muxWrite{{track: 0, data: "encoded", info: BufferInfo{Size: 7, Flags: FlagKeyFrame}}}, mux.written())

	encQueued := enc.queuedInputs()
	require.Len(t, encQueued, 2)
	assert.Equal(t, "decoded", string(encQueued[0].data))
	assert.True(t, encQueued[1].flags.Has(FlagEndOfStream))
	assert.Len(t, dec.queuedInputs(), 2)
}

func TestStreamRunner_StopsOnCancel(t *testing.T) {
	r, _, _, _ := newTestRunner(StreamAudio, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, r.run(ctx))
}

func TestStreamRunner_CodecErrorEvent(t *testing.T) {
	cause := errors.New("hardware reset")

	t.Run("fatal", func(t *testing.T) {
		r, _, _, _ := newTestRunner(StreamAudio, nil)
		err := r.dispatch(context.Background(), streamEvent{roleEncoder, CodecEvent{Kind: EventError, Err: cause}})

		assert.ErrorIs(t, err, ErrCodec)
		assert.ErrorIs(t, err, cause)
		var serr *StreamError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, StageEncode, serr.Stage)
	})

	t.Run("tolerated", func(t *testing.T) {
		r, _, _, hook := newTestRunner(StreamAudio, nil)
		r.tolerateCodecErrors = true
		err := r.dispatch(context.Background(), streamEvent{roleDecoder, CodecEvent{Kind: EventError, Err: cause}})

		assert.NoError(t, err)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, cause, hook.LastEntry().Data["error"])
	})

	t.Run("nil error", func(t *testing.T) {
		r, _, _, _ := newTestRunner(StreamAudio, nil)
		err := r.dispatch(context.Background(), streamEvent{roleDecoder, CodecEvent{Kind: EventError}})
		assert.ErrorIs(t, err, ErrCodec)
	})
}

func TestStreamRunner_UnknownEvent(t *testing.T) {
	r, _, _, _ := newTestRunner(StreamVideo, nil)
	err := r.dispatch(context.Background(), streamEvent{roleDecoder, CodecEvent{Kind: EventKind(42)}})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}
