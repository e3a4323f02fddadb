package crawler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nao1215/statecrawl/internal/model"
)

// ExitNotifier is the one-shot termination latch of a crawl. Any number of
// goroutines may request termination; the first request commits its reason
// and every later one is ignored.
type ExitNotifier struct {
	maxStates int64
	states    atomic.Int64

	once   sync.Once
	done   chan struct{}
	reason atomic.Int32
}

// NewExitNotifier creates a notifier that commits ExitMaxStates once
// maxStates states were counted. A non-positive maxStates disables the limit.
func NewExitNotifier(maxStates int) *ExitNotifier {
	return &ExitNotifier{
		maxStates: int64(maxStates),
		done:      make(chan struct{}),
	}
}

// IncrementStateCount counts one more discovered state and returns the new
// total. Reaching the maximum commits ExitMaxStates.
func (e *ExitNotifier) IncrementStateCount() int {
	n := e.states.Add(1)
	if e.maxStates > 0 && n >= e.maxStates {
		e.commit(model.ExitMaxStates)
	}
	return int(n)
}

// StateCount returns the number of states counted so far.
func (e *ExitNotifier) StateCount() int {
	return int(e.states.Load())
}

// SignalTimeIsUp commits ExitMaxTime.
func (e *ExitNotifier) SignalTimeIsUp() {
	e.commit(model.ExitMaxTime)
}

// SignalCrawlExhausted commits ExitExhausted.
func (e *ExitNotifier) SignalCrawlExhausted() {
	e.commit(model.ExitExhausted)
}

// SignalError commits ExitError.
func (e *ExitNotifier) SignalError() {
	e.commit(model.ExitError)
}

// Stop commits ExitStopped.
func (e *ExitNotifier) Stop() {
	e.commit(model.ExitStopped)
}

// commit records reason and releases waiters if no reason was committed yet.
// It reports whether this call won.
func (e *ExitNotifier) commit(reason model.ExitStatus) bool {
	won := false
	e.once.Do(func() {
		e.reason.Store(int32(reason))
		close(e.done)
		won = true
	})
	return won
}

// Done returns a channel closed once a reason is committed.
func (e *ExitNotifier) Done() <-chan struct{} {
	return e.done
}

// IsExitCalled reports whether a reason has been committed.
func (e *ExitNotifier) IsExitCalled() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Reason returns the committed reason, or ExitUnknown while the crawl runs.
func (e *ExitNotifier) Reason() model.ExitStatus {
	if !e.IsExitCalled() {
		return model.ExitUnknown
	}
	return model.ExitStatus(e.reason.Load())
}

// AwaitTermination blocks until a reason is committed or ctx is cancelled.
func (e *ExitNotifier) AwaitTermination(ctx context.Context) (model.ExitStatus, error) {
	select {
	case <-e.done:
		return e.Reason(), nil
	case <-ctx.Done():
		return model.ExitUnknown, ctx.Err()
	}
}
