package transcode

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// enqueueDecoded queues decoder output slot index and pairs it with a free
// encoder input slot when one is waiting.
func (r *streamRunner) enqueueDecoded(index int, info BufferInfo) error {
	s := r.state

	if info.CodecConfig() {
		r.log.WithField("index", index).Debug("Discarding decoder config buffer")
		return r.releaseDecoded(index)
	}

	if info.Size < 0 {
		if !info.EndOfStream() {
			s.dropped.Add(1)
			r.log.WithFields(logrus.Fields{"index": index, "size": info.Size}).Warn("Dropping decoded buffer with negative size")
			return r.releaseDecoded(index)
		}
		info.Offset, info.Size = 0, 0
	}

	if r.sawDecodedEOS {
		s.dropped.Add(1)
		r.log.WithField("index", index).Warn("Dropping decoded buffer after end of stream")
		return r.releaseDecoded(index)
	}
	if info.EndOfStream() {
		r.sawDecodedEOS = true
	}
	if info.Size > 0 {
		s.decoded.Add(1)
	}

	s.pushDecoded(DecodedItem{Index: index, Info: info})
	return r.pair()
}

// enqueueSlot queues encoder input slot index and pairs it with a waiting
// decoded item.
func (r *streamRunner) enqueueSlot(index int) error {
	if r.state.DecodeFinished() {
		r.log.WithField("index", index).Debug("Decoder finished, ignoring encoder slot")
		return nil
	}
	r.state.pushSlot(index)
	return r.pair()
}

// pair transfers decoded items into encoder slots, oldest with oldest,
// while both are available. An empty item that does not end the stream is
// released without taking a slot.
func (r *streamRunner) pair() error {
	s := r.state
	for len(s.pendingDecoded) > 0 {
		head := s.pendingDecoded[0]
		if head.Info.Size == 0 && !head.Info.EndOfStream() {
			s.popDecoded()
			if err := r.releaseDecoded(head.Index); err != nil {
				return err
			}
			continue
		}
		if len(s.pendingSlots) == 0 {
			return nil
		}
		item := s.popDecoded()
		slot := s.popSlot()
		if err := r.transfer(item, slot); err != nil {
			return err
		}
	}
	return nil
}

// transfer copies item into encoder slot, submits it and gives the decoder
// slot back.
func (r *streamRunner) transfer(item DecodedItem, slot int) error {
	s := r.state
	info := item.Info

	size := 0
	if info.Size > 0 {
		src, err := r.decoder.OutputBuffer(item.Index)
		if err != nil {
			return newStreamError(s.Kind, StageDecode, ErrCodec, err)
		}
		end := info.Offset + info.Size
		if info.Offset < 0 || end > len(src) {
			return newStreamError(s.Kind, StageDecode, ErrProtocolViolation,
				fmt.Errorf("output range [%d:%d] exceeds slot of %d bytes", info.Offset, end, len(src)))
		}
		dst, err := r.encoder.InputBuffer(slot)
		if err != nil {
			return newStreamError(s.Kind, StageEncode, ErrCodec, err)
		}
		if len(dst) < info.Size {
			return newStreamError(s.Kind, StageEncode, ErrCodec,
				fmt.Errorf("%w: %d bytes into slot of %d", ErrBufferTooSmall, info.Size, len(dst)))
		}
		size = copy(dst, src[info.Offset:end])
	}

	if info.EndOfStream() && s.markDecodeFinished() {
		r.log.WithFields(logrus.Fields{"decoded": s.decoded.Load()}).Info("Decoder reached end of stream")
	}

	flags := info.Flags &^ FlagCodecConfig
	if err := r.encoder.QueueInputBuffer(slot, 0, size, info.PresentationTimeUs, flags); err != nil {
		return newStreamError(s.Kind, StageEncode, ErrCodec, err)
	}

	r.log.WithFields(logrus.Fields{
		"decoder_index": item.Index,
		"encoder_index": slot,
		"size":          size,
		"pts":           info.PresentationTimeUs,
	}).Debug("Submitted decoded buffer to encoder")

	return r.releaseDecoded(item.Index)
}

func (r *streamRunner) releaseDecoded(index int) error {
	if err := r.decoder.ReleaseOutputBuffer(index); err != nil {
		return newStreamError(r.state.Kind, StageDecode, ErrCodec, err)
	}
	return nil
}
