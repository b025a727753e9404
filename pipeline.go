package transcode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// PipelineState represents the state of a transcode run.
type PipelineState int

const (
	PipelineStateIdle    PipelineState = iota // Not started
	PipelineStateRunning                      // Processing media
	PipelineStateStopped                      // Finished, successfully or not
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateRunning:
		return "running"
	case PipelineStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// codecRole tells which codec of a stream emitted an event.
type codecRole int

const (
	roleDecoder codecRole = iota
	roleEncoder
)

func (r codecRole) String() string {
	if r == roleDecoder {
		return "decoder"
	}
	return "encoder"
}

type streamEvent struct {
	role codecRole
	ev   CodecEvent
}

// pump forwards the events of one codec into its stream's channel until the
// codec closes its channel or ctx is done.
func pump(ctx context.Context, wg *sync.WaitGroup, role codecRole, in <-chan CodecEvent, out chan<- streamEvent) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- streamEvent{role: role, ev: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// streamRunner is the coordinator of one stream. All events of its decoder
// and encoder are handled on the goroutine running run, which owns the
// stream's pending queues.
type streamRunner struct {
	state     *StreamState
	extractor Extractor
	decoder   Codec
	encoder   Codec
	gate      *MuxerGate
	log       logrus.FieldLogger
	events    chan streamEvent

	tolerateCodecErrors bool

	inputFormat   Format
	decoderFormat *Format
	sawDecodedEOS bool
}

func newStreamRunner(state *StreamState, buffer int, log logrus.FieldLogger) *streamRunner {
	return &streamRunner{
		state:  state,
		log:    log.WithField("stream", state.Kind),
		events: make(chan streamEvent, buffer),
	}
}

// startPumps starts one pump per codec.
func (r *streamRunner) startPumps(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(2)
	go pump(ctx, wg, roleDecoder, r.decoder.Events(), r.events)
	go pump(ctx, wg, roleEncoder, r.encoder.Events(), r.events)
}

// run handles events until the stream's encoder reached end of stream, ctx
// is done, or a fatal error occurs.
func (r *streamRunner) run(ctx context.Context) error {
	for !r.state.EncodeFinished() {
		select {
		case <-ctx.Done():
			return nil
		case se := <-r.events:
			if err := r.dispatch(ctx, se); err != nil {
				return err
			}
		}
	}
	r.logState("Stream finished")
	return nil
}

func (r *streamRunner) dispatch(ctx context.Context, se streamEvent) error {
	ev := se.ev
	r.log.WithFields(logrus.Fields{"codec": se.role, "event": ev.String()}).Debug("Codec event")

	switch se.role {
	case roleDecoder:
		switch ev.Kind {
		case EventInputAvailable:
			return r.feedInput(ctx, ev.Index)
		case EventOutputAvailable:
			return r.enqueueDecoded(ev.Index, ev.Info)
		case EventFormatChanged:
			r.decoderFormatChanged(ev.Format)
			return nil
		case EventError:
			return r.codecError(StageDecode, ev.Err)
		}
	case roleEncoder:
		switch ev.Kind {
		case EventInputAvailable:
			return r.enqueueSlot(ev.Index)
		case EventOutputAvailable:
			return r.gate.WriteSample(r.state.Kind, ev.Index, ev.Info)
		case EventFormatChanged:
			return r.gate.RegisterFormat(r.state.Kind, ev.Format)
		case EventError:
			return r.codecError(StageEncode, ev.Err)
		}
	}
	return newStreamError(r.state.Kind, StageDecode, ErrProtocolViolation, fmt.Errorf("unexpected %s event %s", se.role, ev.Kind))
}

func (r *streamRunner) decoderFormatChanged(format Format) {
	f := format
	r.decoderFormat = &f
	r.log.WithFields(logrus.Fields{"format": format.String()}).Info("Decoder output format changed")
}

// codecError handles an asynchronous codec failure. Unless errors are
// tolerated it ends the run.
func (r *streamRunner) codecError(stage Stage, err error) error {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	if r.tolerateCodecErrors {
		r.log.WithFields(logrus.Fields{"stage": stage, "error": err}).Error("Codec error, continuing")
		return nil
	}
	return newStreamError(r.state.Kind, stage, ErrCodec, err)
}

func (r *streamRunner) logState(msg string) {
	st := r.state.Stats()
	r.log.WithFields(logrus.Fields{
		"extracted":   st.Extracted,
		"decoded":     st.Decoded,
		"encoded":     st.Encoded,
		"pending":     st.PendingDecoded,
		"source_done": st.SourceExhausted,
		"decode_done": st.DecodeFinished,
		"encode_done": st.EncodeFinished,
		"muxing":      r.gate.Opened(),
	}).Debug(msg)
}
