package loopback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/thesyncim/transcode"
)

var (
	ErrNotStarted = errors.New("loopback: codec not started")
	ErrStopped    = errors.New("loopback: codec stopped")
	ErrNotLent    = errors.New("loopback: slot not owned by caller")
)

type job struct {
	index  int
	offset int
	size   int
	pts    int64
	flags  transcode.BufferFlags
}

// Codec is a loopback decoder or encoder. Every queued input produces one
// output carrying the same bytes, timestamp and flags.
type Codec struct {
	cfg     Config
	encoder bool
	format  transcode.Format

	events  chan transcode.CodecEvent
	work    chan job
	freeOut chan int
	stop    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	in        [][]byte
	out       [][]byte
	inLent    []bool
	outLent   []bool
	started   bool
	stopped   bool
	processed int

	stopOnce    sync.Once
	releaseOnce sync.Once
}

var _ transcode.Codec = (*Codec)(nil)

func newCodec(cfg Config, encoder bool, format transcode.Format) *Codec {
	c := &Codec{
		cfg:     cfg,
		encoder: encoder,
		format:  format,
		events:  make(chan transcode.CodecEvent, cfg.EventBuffer),
		work:    make(chan job, cfg.InputSlots),
		freeOut: make(chan int, cfg.OutputSlots),
		stop:    make(chan struct{}),
		in:      make([][]byte, cfg.InputSlots),
		out:     make([][]byte, cfg.OutputSlots),
		inLent:  make([]bool, cfg.InputSlots),
		outLent: make([]bool, cfg.OutputSlots),
	}
	for i := range c.in {
		c.in[i] = make([]byte, cfg.SlotSize)
	}
	for i := range c.out {
		c.out[i] = make([]byte, cfg.SlotSize)
		c.freeOut <- i
	}
	return c
}

func (c *Codec) Events() <-chan transcode.CodecEvent { return c.events }

func (c *Codec) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return nil
	}
	c.started = true
	c.wg.Add(1)
	go c.loop()
	return nil
}

func (c *Codec) InputBuffer(index int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(index, c.inLent); err != nil {
		return nil, err
	}
	return c.in[index], nil
}

func (c *Codec) OutputBuffer(index int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(index, c.outLent); err != nil {
		return nil, err
	}
	return c.out[index], nil
}

func (c *Codec) QueueInputBuffer(index, offset, size int, ptsUs int64, flags transcode.BufferFlags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(index, c.inLent); err != nil {
		return err
	}
	if offset < 0 || size < 0 || offset+size > len(c.in[index]) {
		return fmt.Errorf("loopback: range [%d:%d] outside slot of %d bytes: %w",
			offset, offset+size, len(c.in[index]), transcode.ErrBufferTooSmall)
	}
	c.inLent[index] = false
	// Never blocks: at most InputSlots jobs are outstanding.
	c.work <- job{index: index, offset: offset, size: size, pts: ptsUs, flags: flags}
	return nil
}

func (c *Codec) ReleaseOutputBuffer(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(index, c.outLent); err != nil {
		return err
	}
	c.outLent[index] = false
	c.freeOut <- index
	return nil
}

func (c *Codec) OutputFormat() transcode.Format {
	return c.format
}

func (c *Codec) checkLocked(index int, lent []bool) error {
	switch {
	case c.stopped:
		return ErrStopped
	case !c.started:
		return ErrNotStarted
	case index < 0 || index >= len(lent) || !lent[index]:
		return fmt.Errorf("%w: %d", ErrNotLent, index)
	}
	return nil
}

// Stop halts the worker. Pending events are dropped.
func (c *Codec) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.stop)
	})
	c.wg.Wait()
	return nil
}

// Release stops the codec and closes its event channel.
func (c *Codec) Release() error {
	c.Stop()
	c.releaseOnce.Do(func() { close(c.events) })
	return nil
}

// Processed returns the number of inputs turned into outputs.
func (c *Codec) Processed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed
}

func (c *Codec) emit(ev transcode.CodecEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.stop:
		return false
	}
}

func (c *Codec) lendInput(index int) bool {
	c.mu.Lock()
	c.inLent[index] = true
	c.mu.Unlock()
	return c.emit(transcode.CodecEvent{Kind: transcode.EventInputAvailable, Index: index})
}

func (c *Codec) acquireOutput() (int, bool) {
	select {
	case idx := <-c.freeOut:
		return idx, true
	case <-c.stop:
		return -1, false
	}
}

func (c *Codec) loop() {
	defer c.wg.Done()

	for i := range c.in {
		if !c.lendInput(i) {
			return
		}
	}

	formatSent := false
	failed := false
	for {
		var j job
		select {
		case <-c.stop:
			return
		case j = <-c.work:
		}

		if !formatSent {
			formatSent = true
			if !c.emit(transcode.CodecEvent{Kind: transcode.EventFormatChanged, Format: c.format}) {
				return
			}
			if c.encoder && c.cfg.EmitCodecConfig && !c.emitConfig() {
				return
			}
		}

		out, ok := c.acquireOutput()
		if !ok {
			return
		}
		c.mu.Lock()
		n := copy(c.out[out], c.in[j.index][j.offset:j.offset+j.size])
		c.outLent[out] = true
		c.processed++
		processed := c.processed
		c.mu.Unlock()

		info := transcode.BufferInfo{Size: n, PresentationTimeUs: j.pts, Flags: j.flags}
		if !c.emit(transcode.CodecEvent{Kind: transcode.EventOutputAvailable, Index: out, Info: info}) {
			return
		}

		if c.cfg.FailAfter > 0 && !failed && processed >= c.cfg.FailAfter {
			failed = true
			err := fmt.Errorf("loopback: injected failure after %d inputs", processed)
			if !c.emit(transcode.CodecEvent{Kind: transcode.EventError, Err: err}) {
				return
			}
		}

		if j.flags.Has(transcode.FlagEndOfStream) {
			continue
		}
		if !c.lendInput(j.index) {
			return
		}
	}
}

// emitConfig hands out one output slot holding the codec's private data.
func (c *Codec) emitConfig() bool {
	out, ok := c.acquireOutput()
	if !ok {
		return false
	}
	data := c.format.CodecPrivate
	if len(data) == 0 {
		data = []byte("loopback")
	}
	c.mu.Lock()
	n := copy(c.out[out], data)
	c.outLent[out] = true
	c.mu.Unlock()

	info := transcode.BufferInfo{Size: n, Flags: transcode.FlagCodecConfig}
	return c.emit(transcode.CodecEvent{Kind: transcode.EventOutputAvailable, Index: out, Info: info})
}
