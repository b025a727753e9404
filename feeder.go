package transcode

import (
	"context"

	"github.com/sirupsen/logrus"
)

// feedInput fills decoder input slot index with the next sample of the
// stream's track. Once the track is exhausted a zero-length end-of-stream
// buffer is submitted instead and later notifications are ignored.
func (r *streamRunner) feedInput(ctx context.Context, index int) error {
	s := r.state
	if s.SourceExhausted() {
		r.log.WithField("index", index).Debug("Source exhausted, ignoring input slot")
		return nil
	}

	buf, err := r.decoder.InputBuffer(index)
	if err != nil {
		return newStreamError(s.Kind, StageDecode, ErrCodec, err)
	}

	atEnd := false
	for {
		if ctx.Err() != nil {
			return nil
		}

		size, err := r.extractor.ReadSampleData(buf)
		if err != nil {
			return newStreamError(s.Kind, StageExtract, ErrIO, err)
		}

		if size < 0 || (size == 0 && atEnd) {
			if err := r.decoder.QueueInputBuffer(index, 0, 0, 0, FlagEndOfStream); err != nil {
				return newStreamError(s.Kind, StageDecode, ErrCodec, err)
			}
			s.markSourceExhausted()
			r.log.WithFields(logrus.Fields{"extracted": s.extracted.Load()}).Info("Extractor reached end of stream")
			return nil
		}

		if size == 0 {
			atEnd = !r.extractor.Advance()
			continue
		}

		pts := r.extractor.SampleTime()
		flags := r.extractor.SampleFlags() &^ FlagEndOfStream
		if err := r.decoder.QueueInputBuffer(index, 0, size, pts, flags); err != nil {
			return newStreamError(s.Kind, StageDecode, ErrCodec, err)
		}
		s.extracted.Add(1)
		r.extractor.Advance()

		r.log.WithFields(logrus.Fields{
			"index": index,
			"size":  size,
			"pts":   pts,
		}).Debug("Submitted sample to decoder")
		return nil
	}
}
