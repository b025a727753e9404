package transcode

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BarrierState is the state of a CompletionBarrier. Transitions only move
// forward: Running -> Draining -> Complete, or to Failed from any
// non-terminal state.
type BarrierState int

const (
	BarrierRunning  BarrierState = iota // No stream finished yet
	BarrierDraining                     // Some streams finished
	BarrierComplete                     // All streams finished
	BarrierFailed                       // A fatal error ended the run
)

func (s BarrierState) String() string {
	switch s {
	case BarrierRunning:
		return "running"
	case BarrierDraining:
		return "draining"
	case BarrierComplete:
		return "complete"
	case BarrierFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CompletionBarrier releases waiters once every active stream's encoder
// emitted end-of-stream, or once the run failed.
type CompletionBarrier struct {
	mu      sync.Mutex
	pending map[StreamKind]bool
	state   BarrierState
	err     error
	done    chan struct{}
}

// NewCompletionBarrier creates a barrier over the given streams. A barrier
// without streams is complete from the start.
func NewCompletionBarrier(kinds ...StreamKind) *CompletionBarrier {
	b := &CompletionBarrier{
		pending: make(map[StreamKind]bool, len(kinds)),
		done:    make(chan struct{}),
	}
	for _, k := range kinds {
		b.pending[k] = true
	}
	if len(b.pending) == 0 {
		b.state = BarrierComplete
		close(b.done)
	}
	return b
}

// Done marks the stream as finished. Repeated or unknown kinds are ignored.
func (b *CompletionBarrier) Done(kind StreamKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminal() || !b.pending[kind] {
		return
	}
	delete(b.pending, kind)
	if len(b.pending) == 0 {
		b.state = BarrierComplete
		close(b.done)
		return
	}
	b.state = BarrierDraining
}

// Fail ends the barrier with err. Only the first call in a non-terminal
// state has an effect; it reports whether it did.
func (b *CompletionBarrier) Fail(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminal() {
		return false
	}
	b.state = BarrierFailed
	b.err = err
	close(b.done)
	return true
}

func (b *CompletionBarrier) terminal() bool {
	return b.state == BarrierComplete || b.state == BarrierFailed
}

// State returns the current state.
func (b *CompletionBarrier) State() BarrierState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the error the barrier failed with, if any.
func (b *CompletionBarrier) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Finished returns a channel closed once the barrier is terminal.
func (b *CompletionBarrier) Finished() <-chan struct{} {
	return b.done
}

// Wait blocks until the barrier is terminal or ctx is done. It returns the
// failure error, nil on completion, or ctx's error. A barrier that became
// terminal before ctx was cancelled reports its own outcome.
func (b *CompletionBarrier) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.Err()
	case <-ctx.Done():
		select {
		case <-b.done:
			return b.Err()
		default:
		}
		return ctx.Err()
	}
}

// WaitTimeout is Wait bounded by timeout. A zero timeout waits without
// bound.
func (b *CompletionBarrier) WaitTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return b.Wait(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := b.Wait(ctx); err != nil {
		if ctx.Err() != nil && b.State() != BarrierFailed {
			return fmt.Errorf("waiting %s for completion (%s): %w", timeout, b.State(), err)
		}
		return err
	}
	return nil
}
