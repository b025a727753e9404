package transcode

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vp8Format = Format{MimeType: "video/VP8", Width: 320, Height: 240}

func TestFeedInput_EndOfStreamAfterLastSample(t *testing.T) {
	ex := newMemExtractor(vp8Format, videoSamples(5)...)
	r, dec, _, _ := newTestRunner(StreamVideo, ex)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.feedInput(ctx, i%4))
	}
	assert.False(t, r.state.SourceExhausted())

	// The sixth notification gets the zero-length end of stream.
	require.NoError(t, r.feedInput(ctx, 1))
	assert.True(t, r.state.SourceExhausted())

	// Later notifications are ignored.
	require.NoError(t, r.feedInput(ctx, 2))

	queued := dec.queuedInputs()
	require.Len(t, queued, 6)
	for i := 0; i < 5; i++ {
		assert.Equal(t, videoSamples(5)[i].data, string(queued[i].data))
		assert.Equal(t, int64(i)*40_000, queued[i].pts)
		assert.False(t, queued[i].flags.Has(FlagEndOfStream))
	}
	assert.True(t, queued[0].flags.Has(FlagKeyFrame))

	eos := queued[5]
	assert.Equal(t, 1, eos.index)
	assert.Empty(t, eos.data)
	assert.Equal(t, FlagEndOfStream, eos.flags)
	assert.Equal(t, int64(5), r.state.Stats().Extracted)
}

func TestFeedInput_SkipsEmptySamples(t *testing.T) {
	ex := newMemExtractor(vp8Format,
		memSample{data: "", pts: 0},
		memSample{data: "", pts: 10},
		memSample{data: "payload", pts: 20},
	)
	r, dec, _, _ := newTestRunner(StreamVideo, ex)

	require.NoError(t, r.feedInput(context.Background(), 0))

	queued := dec.queuedInputs()
	require.Len(t, queued, 1)
	assert.Equal(t, "payload", string(queued[0].data))
	assert.Equal(t, int64(20), queued[0].pts)
}

func TestFeedInput_TrailingEmptySampleEndsStream(t *testing.T) {
	ex := newMemExtractor(vp8Format, memSample{data: ""})
	r, dec, _, _ := newTestRunner(StreamVideo, ex)

	require.NoError(t, r.feedInput(context.Background(), 0))

	queued := dec.queuedInputs()
	require.Len(t, queued, 1)
	assert.True(t, queued[0].flags.Has(FlagEndOfStream))
	assert.True(t, r.state.SourceExhausted())
	assert.Zero(t, r.state.Stats().Extracted)
}

func TestFeedInput_StripsEndOfStreamFromSampleFlags(t *testing.T) {
	ex := newMemExtractor(vp8Format, memSample{data: "x", flags: FlagKeyFrame | FlagEndOfStream})
	r, dec, _, _ := newTestRunner(StreamVideo, ex)

	require.NoError(t, r.feedInput(context.Background(), 0))

	queued := dec.queuedInputs()
	require.Len(t, queued, 1)
	assert.Equal(t, FlagKeyFrame, queued[0].flags)
	assert.False(t, r.state.SourceExhausted())
}

func TestFeedInput_ReadErrorIsFatal(t *testing.T) {
	ex := newMemExtractor(vp8Format, videoSamples(3)...)
	ex.errAt = 1
	ex.readErr = errors.New("disk on fire")
	r, dec, _, _ := newTestRunner(StreamVideo, ex)
	ctx := context.Background()

	require.NoError(t, r.feedInput(ctx, 0))
	err := r.feedInput(ctx, 1)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, ex.readErr)
	var serr *StreamError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StageExtract, serr.Stage)
	assert.Equal(t, StreamVideo, serr.Kind)
	assert.Len(t, dec.queuedInputs(), 1)
}

func TestFeedInput_CancelledContextSubmitsNothing(t *testing.T) {
	ex := newMemExtractor(vp8Format, videoSamples(2)...)
	r, dec, _, _ := newTestRunner(StreamVideo, ex)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, r.feedInput(ctx, 0))
	assert.Empty(t, dec.queuedInputs())
}
