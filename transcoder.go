package transcode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// Options
// =============================================================================

// Options configures a transcode run.
type Options struct {
	// Streams to re-encode. At least one must be set.
	CopyVideo bool
	CopyAudio bool

	// Video output
	Width           int
	Height          int
	VideoMimeType   string
	VideoBitrateBps int
	FrameRate       int
	IFrameInterval  int // Seconds between key frames, 0 = every frame

	// Audio output
	AudioMimeType   string
	AudioBitrateBps int
	AudioSampleRate int // 0 = keep the input rate
	AudioChannels   int
	AACProfile      int // AAC output only

	// Providers searched for codecs, in order. Nil means Providers().
	Providers []CodecProvider

	// NewMuxer creates the sink for the output path. Required.
	NewMuxer func(path string) (Muxer, error)

	// EventBuffer is the capacity of each stream's event channel.
	EventBuffer int

	// Timeout bounds the wait for completion. Zero waits without bound.
	Timeout time.Duration

	// TolerateCodecErrors logs asynchronous codec errors instead of
	// failing the run.
	TolerateCodecErrors bool

	Logger logrus.FieldLogger
}

// DefaultOptions returns options re-encoding both streams to VP8 and Opus.
func DefaultOptions() Options {
	return Options{
		CopyVideo:       true,
		CopyAudio:       true,
		Width:           1920,
		Height:          1080,
		VideoMimeType:   VideoCodecVP8.MimeType(),
		VideoBitrateBps: 2_000_000,
		FrameRate:       25,
		IFrameInterval:  0,
		AudioMimeType:   AudioCodecOpus.MimeType(),
		AudioBitrateBps: 128 * 1024,
		AudioChannels:   2,
		AACProfile:      2,
		EventBuffer:     64,
	}
}

// withDefaults fills unset fields from DefaultOptions. Stream selection and
// TolerateCodecErrors are taken as given.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Width == 0 {
		o.Width = d.Width
	}
	if o.Height == 0 {
		o.Height = d.Height
	}
	if o.VideoMimeType == "" {
		o.VideoMimeType = d.VideoMimeType
	}
	if o.VideoBitrateBps == 0 {
		o.VideoBitrateBps = d.VideoBitrateBps
	}
	if o.FrameRate == 0 {
		o.FrameRate = d.FrameRate
	}
	if o.AudioMimeType == "" {
		o.AudioMimeType = d.AudioMimeType
	}
	if o.AudioBitrateBps == 0 {
		o.AudioBitrateBps = d.AudioBitrateBps
	}
	if o.AudioChannels == 0 {
		o.AudioChannels = d.AudioChannels
	}
	if o.AACProfile == 0 {
		o.AACProfile = d.AACProfile
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	if o.Providers == nil {
		o.Providers = Providers()
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

func (o Options) validate() error {
	if !o.CopyVideo && !o.CopyAudio {
		return ErrNoStreams
	}
	if o.NewMuxer == nil {
		return errors.New("no muxer factory configured")
	}
	if o.Width < 0 || o.Height < 0 {
		return fmt.Errorf("invalid output size %dx%d", o.Width, o.Height)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("negative timeout %s", o.Timeout)
	}
	return nil
}

func (o Options) kinds() []StreamKind {
	var kinds []StreamKind
	if o.CopyVideo {
		kinds = append(kinds, StreamVideo)
	}
	if o.CopyAudio {
		kinds = append(kinds, StreamAudio)
	}
	return kinds
}

func (o Options) outputMime(kind StreamKind) string {
	if kind == StreamVideo {
		return o.VideoMimeType
	}
	return o.AudioMimeType
}

// outputFormat builds the encoder format of kind from the options and the
// selected input track.
func (o Options) outputFormat(kind StreamKind, input Format) Format {
	if kind == StreamVideo {
		return Format{
			MimeType:       o.VideoMimeType,
			Width:          o.Width,
			Height:         o.Height,
			BitrateBps:     o.VideoBitrateBps,
			FrameRate:      o.FrameRate,
			IFrameInterval: o.IFrameInterval,
		}
	}
	rate := o.AudioSampleRate
	if rate == 0 {
		rate = input.SampleRate
	}
	f := Format{
		MimeType:   o.AudioMimeType,
		SampleRate: rate,
		Channels:   o.AudioChannels,
		BitrateBps: o.AudioBitrateBps,
	}
	if AudioCodecFromMime(o.AudioMimeType) == AudioCodecAAC {
		f.AACProfile = o.AACProfile
	}
	return f
}

// =============================================================================
// Report
// =============================================================================

// Report summarizes a finished run.
type Report struct {
	RunID   string
	Skipped bool // No codec could serve a requested format; nothing ran
	Reason  error
	Streams []StreamStats
	Elapsed time.Duration
}

// Stream returns the statistics of kind.
func (r *Report) Stream(kind StreamKind) (StreamStats, bool) {
	for _, st := range r.Streams {
		if st.Kind == kind {
			return st, true
		}
	}
	return StreamStats{}, false
}

// Verify checks that every stream drained completely: each decoded item was
// encoded, nothing was decoded that was not extracted, and no item is left
// waiting for an encoder slot.
func (r *Report) Verify() error {
	if r.Skipped {
		return nil
	}
	for _, st := range r.Streams {
		switch {
		case !st.EncodeFinished:
			return fmt.Errorf("%w: %s encoder did not reach end of stream", ErrIncomplete, st.Kind)
		case st.Encoded != st.Decoded:
			return fmt.Errorf("%w: %s encoded %d of %d decoded", ErrIncomplete, st.Kind, st.Encoded, st.Decoded)
		case st.Decoded > st.Extracted:
			return fmt.Errorf("%w: %s decoded %d but extracted %d", ErrIncomplete, st.Kind, st.Decoded, st.Extracted)
		case st.PendingDecoded != 0:
			return fmt.Errorf("%w: %s has %d pending decoded buffers", ErrIncomplete, st.Kind, st.PendingDecoded)
		}
	}
	return nil
}

// =============================================================================
// Transcoder
// =============================================================================

// Transcoder re-encodes the video and audio tracks of a source into a sink
// through asynchronous codecs. A Transcoder runs once.
type Transcoder struct {
	src      Source
	sinkPath string
	opts     Options
	runID    string
	log      logrus.FieldLogger

	state atomic.Int32

	mu      sync.Mutex
	streams []*StreamState
}

// NewTranscoder creates a transcoder from src to sinkPath.
func NewTranscoder(src Source, sinkPath string, opts Options) (*Transcoder, error) {
	if src == nil {
		return nil, errors.New("nil source")
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	t := &Transcoder{
		src:      src,
		sinkPath: sinkPath,
		opts:     opts,
		runID:    uuid.NewString(),
	}
	t.log = opts.Logger.WithField("run", t.runID)
	t.state.Store(int32(PipelineStateIdle))
	return t, nil
}

// Transcode runs a transcode from src to sinkPath and blocks until every
// stream finished or the first fatal error. A run for which no encoder
// exists returns a skipped report and a nil error.
func Transcode(ctx context.Context, src Source, sinkPath string, opts Options) (*Report, error) {
	t, err := NewTranscoder(src, sinkPath, opts)
	if err != nil {
		return nil, err
	}
	return t.Run(ctx)
}

// RunID returns the id carried by the run's log entries.
func (t *Transcoder) RunID() string {
	return t.runID
}

// State returns the lifecycle state.
func (t *Transcoder) State() PipelineState {
	return PipelineState(t.state.Load())
}

// Stats returns a snapshot of every configured stream.
func (t *Transcoder) Stats() []StreamStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StreamStats, len(t.streams))
	for i, s := range t.streams {
		out[i] = s.Stats()
	}
	return out
}

// Run performs the transcode. It can be called once.
func (t *Transcoder) Run(ctx context.Context) (*Report, error) {
	if !t.state.CompareAndSwap(int32(PipelineStateIdle), int32(PipelineStateRunning)) {
		return nil, ErrAlreadyRunning
	}
	defer t.state.Store(int32(PipelineStateStopped))

	start := time.Now()
	report := &Report{RunID: t.runID}

	r := &run{t: t, log: t.log}
	err := r.execute(ctx)

	report.Streams = t.Stats()
	report.Elapsed = time.Since(start)

	if errors.Is(err, ErrConfiguration) {
		t.log.WithFields(logrus.Fields{"reason": err}).Warn("No suitable codec, skipping")
		report.Skipped = true
		report.Reason = err
		return report, nil
	}
	if err != nil {
		t.log.WithFields(logrus.Fields{"error": err, "elapsed": report.Elapsed}).Error("Transcode failed")
		return report, err
	}
	t.log.WithFields(logrus.Fields{"elapsed": report.Elapsed}).Info("Transcode complete")
	return report, nil
}

// run holds everything acquired by one execution so teardown can release
// whatever setup got to.
type run struct {
	t   *Transcoder
	log logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	runners []*streamRunner
	muxer   Muxer
	gate    *MuxerGate
	barrier *CompletionBarrier

	pumps   sync.WaitGroup
	workers sync.WaitGroup

	failOnce sync.Once
}

func (r *run) execute(ctx context.Context) (err error) {
	opts := r.t.opts
	kinds := opts.kinds()

	// Codec availability is settled before anything is acquired.
	encoders := make(map[StreamKind]CodecProvider, len(kinds))
	for _, kind := range kinds {
		p, err := SelectEncoder(opts.Providers, opts.outputMime(kind))
		if err != nil {
			return err
		}
		encoders[kind] = p
	}

	if opts.Width%16 != 0 || opts.Height%16 != 0 {
		r.log.WithFields(logrus.Fields{"width": opts.Width, "height": opts.Height}).
			Warn("Output size is not a multiple of 16, some encoders may reject it")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	defer func() {
		if rerr := r.teardown(); err == nil {
			err = rerr
		}
	}()

	for _, kind := range kinds {
		if err := r.setupStream(kind, encoders[kind]); err != nil {
			return err
		}
	}

	muxer, err := opts.NewMuxer(r.t.sinkPath)
	if err != nil {
		return newStreamError(kinds[0], StageMux, ErrIO, fmt.Errorf("creating muxer for %s: %w", r.t.sinkPath, err))
	}
	r.muxer = muxer

	r.barrier = NewCompletionBarrier(kinds...)
	r.gate = NewMuxerGate(muxer, r.barrier, r.log)
	for _, sr := range r.runners {
		sr.gate = r.gate
		r.gate.Attach(sr.state, sr.encoder)
	}

	for _, sr := range r.runners {
		sr.startPumps(r.ctx, &r.pumps)
	}
	for _, sr := range r.runners {
		if err := sr.encoder.Start(); err != nil {
			return newStreamError(sr.state.Kind, StageEncode, ErrCodec, fmt.Errorf("starting: %w", err))
		}
		if err := sr.decoder.Start(); err != nil {
			return newStreamError(sr.state.Kind, StageDecode, ErrCodec, fmt.Errorf("starting: %w", err))
		}
	}

	for _, sr := range r.runners {
		r.workers.Add(1)
		go func(sr *streamRunner) {
			defer r.workers.Done()
			if err := sr.run(r.ctx); err != nil {
				r.fail(err)
			}
		}(sr)
	}

	r.log.WithFields(logrus.Fields{"streams": len(r.runners), "sink": r.t.sinkPath}).Info("Transcode started")

	// A fatal error fails the barrier before cancelling, so it is what
	// the wait reports.
	return r.barrier.WaitTimeout(r.ctx, opts.Timeout)
}

// setupStream opens the stream's own extractor, selects its track and
// creates both codecs.
func (r *run) setupStream(kind StreamKind, encProvider CodecProvider) error {
	opts := r.t.opts
	state := NewStreamState(kind)
	sr := newStreamRunner(state, opts.EventBuffer, r.log)
	sr.tolerateCodecErrors = opts.TolerateCodecErrors

	r.t.mu.Lock()
	r.t.streams = append(r.t.streams, state)
	r.t.mu.Unlock()
	r.runners = append(r.runners, sr)

	ex, err := r.t.src.Open()
	if err != nil {
		return newStreamError(kind, StageExtract, ErrIO, fmt.Errorf("opening source: %w", err))
	}
	sr.extractor = ex

	track, input, err := selectTrack(ex, kind)
	if err != nil {
		return newStreamError(kind, StageExtract, ErrIO, err)
	}
	sr.inputFormat = input
	sr.log.WithFields(logrus.Fields{"track": track, "format": input.String()}).Info("Selected input track")

	decProvider, err := SelectDecoder(opts.Providers, input.MimeType)
	if err != nil {
		// A missing decoder fails the run; only a missing encoder skips it.
		return newStreamError(kind, StageDecode, ErrCodec, fmt.Errorf("no decoder for %s", input.MimeType))
	}
	dec, err := decProvider.NewDecoder(input)
	if err != nil {
		return newStreamError(kind, StageDecode, ErrCodec, fmt.Errorf("creating %s decoder: %w", decProvider.Name(), err))
	}
	sr.decoder = dec

	output := opts.outputFormat(kind, input)
	enc, err := encProvider.NewEncoder(output)
	if err != nil {
		return newStreamError(kind, StageEncode, ErrCodec, fmt.Errorf("creating %s encoder: %w", encProvider.Name(), err))
	}
	sr.encoder = enc

	sr.log.WithFields(logrus.Fields{
		"decoder": decProvider.Name(),
		"encoder": encProvider.Name(),
		"output":  output.String(),
	}).Info("Stream configured")
	return nil
}

// fail records the first fatal error and stops the run.
func (r *run) fail(err error) {
	r.failOnce.Do(func() {
		r.log.WithFields(logrus.Fields{"error": err}).Error("Fatal error, stopping")
		if r.barrier != nil {
			r.barrier.Fail(err)
		}
		r.cancel()
	})
}

// teardown releases every acquired resource exactly once, in order, and
// returns the first release failure.
func (r *run) teardown() error {
	r.cancel()
	r.workers.Wait()

	agg := NewReleaseAggregator(r.log)
	for _, sr := range r.runners {
		if ex := sr.extractor; ex != nil {
			agg.Release(ReleaseExtractor, sr.state.Kind.String()+" extractor", ex.Close)
		}
	}
	for _, sr := range r.runners {
		if c := sr.decoder; c != nil {
			agg.Release(ReleaseDecoder, sr.state.Kind.String()+" decoder", stopAndRelease(c))
		}
	}
	for _, sr := range r.runners {
		if c := sr.encoder; c != nil {
			agg.Release(ReleaseEncoder, sr.state.Kind.String()+" encoder", stopAndRelease(c))
		}
	}
	if m := r.muxer; m != nil {
		started := r.gate != nil && r.gate.Started()
		agg.Release(ReleaseSink, "muxer", func() error {
			var errs []error
			if started {
				if err := m.Stop(); err != nil {
					errs = append(errs, err)
				}
			}
			if err := m.Close(); err != nil {
				errs = append(errs, err)
			}
			if len(errs) > 0 {
				return errs[0]
			}
			return nil
		})
	}
	agg.Release(ReleaseAux, "event pumps", func() error {
		r.pumps.Wait()
		return nil
	})

	if all := agg.Errors(); all != nil {
		r.log.WithFields(logrus.Fields{"errors": all}).Warn("Release finished with errors")
	}
	return agg.Err()
}

func stopAndRelease(c Codec) func() error {
	return func() error {
		var errs []error
		if err := c.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := c.Release(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return errs[0]
		}
		return nil
	}
}
