package coalesce

import (
	"context"
	"sync"
)

// Flight carries the outcome of one in-flight transition. The goroutine that
// created it runs the transition and calls Finish exactly once; any number of
// other goroutines call Wait and all observe the same error value.
//
// A Flight is single use. A caller that arrives after Finish must start a new
// transition (with a new Flight) rather than reuse the finished one.
type Flight struct {
	done chan struct{}
	once sync.Once
	err  error
}

// New returns an unfinished Flight.
func New() *Flight {
	return &Flight{done: make(chan struct{})}
}

// Finish records err as the outcome and wakes every waiter. Calls after the
// first are ignored.
func (f *Flight) Finish(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed once Finish has been called.
func (f *Flight) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the flight finishes or ctx is done. Only the caller's wait
// is abandoned on ctx cancellation; the transition itself keeps running.
func (f *Flight) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
