package transcode

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by a run matches exactly one of these
// with errors.Is.
var (
	// ErrConfiguration means no codec can serve a required format. A run
	// that hits it is skipped, not failed.
	ErrConfiguration = errors.New("configuration error")

	// ErrProtocolViolation means a collaborator broke the event contract,
	// e.g. an encoder announced its output format twice.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrIO covers source read and sink write failures.
	ErrIO = errors.New("i/o error")

	// ErrCodec covers asynchronous codec error events and failed codec calls.
	ErrCodec = errors.New("codec error")

	// ErrRelease covers failures while tearing a run down.
	ErrRelease = errors.New("release error")
)

// Common errors
var (
	ErrBufferTooSmall  = errors.New("buffer too small")
	ErrTrackNotFound   = errors.New("track not found")
	ErrNoTrackSelected = errors.New("no track selected")
	ErrNoStreams       = errors.New("neither video nor audio selected")
	ErrAlreadyRunning  = errors.New("transcoder already running")
	ErrIncomplete      = errors.New("run did not drain")
)

// Stage identifies the pipeline stage an error originated from.
type Stage int

const (
	StageExtract Stage = iota
	StageDecode
	StageEncode
	StageMux
)

func (s Stage) String() string {
	switch s {
	case StageExtract:
		return "extractor"
	case StageDecode:
		return "decoder"
	case StageEncode:
		return "encoder"
	case StageMux:
		return "muxer"
	default:
		return "unknown"
	}
}

// StreamError is a fatal error attributed to one stream and stage.
type StreamError struct {
	Kind  StreamKind
	Stage Stage
	Class error // One of the Err* classes above
	Err   error
}

func newStreamError(kind StreamKind, stage Stage, class, err error) *StreamError {
	return &StreamError{Kind: kind, Stage: stage, Class: class, Err: err}
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Kind, e.Stage, e.Class, e.Err)
}

// Unwrap exposes both the class and the cause to errors.Is/As.
func (e *StreamError) Unwrap() []error {
	return []error{e.Class, e.Err}
}
