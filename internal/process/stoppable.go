package process

import (
	"context"
	"time"
)

// Stoppable is anything that can be stopped and then release its handles.
type Stoppable interface {
	Stop(timeout time.Duration) error
	Close()
}

var _ Stoppable = (*Process)(nil)

// StopCloseAndNil stops *p, closes it and sets *p to nil. Close and the nil
// assignment happen even when Stop fails; the Stop error is returned. A nil
// p or *p is a no-op.
//
// P is constrained to pointer types implementing Stoppable so the nil check
// needs no reflection.
func StopCloseAndNil[P interface {
	*E
	Stoppable
}, E any](p *P, timeout time.Duration) error {
	if p == nil || *p == nil {
		return nil
	}
	defer func() {
		(*p).Close()
		*p = nil
	}()
	return (*p).Stop(timeout)
}

// TimeoutFrom returns fallback capped at the time left before the deadline
// of ctx, if any. It never returns less than a millisecond.
func TimeoutFrom(ctx context.Context, fallback time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return fallback
	}
	return max(min(time.Until(deadline), fallback), time.Millisecond)
}
