package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/dbsandbox/internal/sentinel"
	"k8s.io/utils/clock"
)

// ErrUnsafeState is returned by BeforeAll when the freshly started store
// already contains documents. A disposable fixture is never pre-populated,
// so data there means the sandbox may be pointed at a real database.
const ErrUnsafeState = sentinel.Error("sandbox store contains documents")

// DefaultDownloadAllowance is the deadline extension requested from the test
// driver in BeforeAll. It covers a first-time download plus server start.
const DefaultDownloadAllowance = 90 * time.Second

// DeadlineExtender is implemented by test drivers that can widen the timeout
// of the phase currently running. The extension is advisory.
type DeadlineExtender interface {
	ExtendDeadline(d time.Duration)
}

// Resource is the part of a Sandbox the Lifecycle drives.
type Resource interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HasDocuments(ctx context.Context) (bool, error)
	PurgeDocuments(ctx context.Context) error
	MinimumUptime() time.Duration
}

var _ Resource = (*Sandbox)(nil)

// Lifecycle maps the four checkpoints of a test run onto a Resource.
//
//   - BeforeAll starts the resource and verifies it is empty. Only then is
//     the lifecycle marked safe.
//   - BeforeEach does nothing.
//   - AfterEach purges all documents, but only once marked safe.
//   - AfterAll waits out the minimum uptime, then stops the resource.
//
// The resource is not owned: it must outlive the Lifecycle. A Lifecycle is
// safe for concurrent use, though drivers call its checkpoints in sequence.
type Lifecycle struct {
	resource Resource
	ext      DeadlineExtender
	clock    clock.Clock
	log      *slog.Logger

	mu        sync.Mutex
	safe      bool
	startedAt time.Time
}

// NewLifecycle creates a Lifecycle for r. ext is the fallback used when
// BeforeAll receives no extender; it may be nil. A nil clk means the real
// clock.
func NewLifecycle(r Resource, ext DeadlineExtender, clk clock.Clock) *Lifecycle {
	if r == nil {
		panic("dbsandbox: lifecycle resource must not be nil")
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Lifecycle{
		resource: r,
		ext:      ext,
		clock:    clk,
		log:      Logger().With("phase", "lifecycle"),
	}
}

// Lifecycle returns a new Lifecycle driving s.
func (s *Sandbox) Lifecycle(ext DeadlineExtender) *Lifecycle {
	l := NewLifecycle(s, ext, nil)
	l.log = s.log.With("phase", "lifecycle")
	return l
}

// IsSafe reports whether BeforeAll verified the store as empty.
func (l *Lifecycle) IsSafe() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.safe
}

// StartedAt returns when the store was verified, or the zero time.
func (l *Lifecycle) StartedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedAt
}

// BeforeAll starts the resource and checks that it holds no documents.
// Finding documents is fatal: it returns ErrUnsafeState and the lifecycle
// stays unsafe, so AfterEach will never purge that store.
func (l *Lifecycle) BeforeAll(ctx context.Context, ext DeadlineExtender) error {
	l.mu.Lock()
	l.safe = false
	l.startedAt = time.Time{}
	l.mu.Unlock()

	if ext == nil {
		ext = l.ext
	}
	if ext != nil {
		ext.ExtendDeadline(DefaultDownloadAllowance)
		l.log.Debug("requested deadline extension", "allowance", DefaultDownloadAllowance)
	}

	if err := l.resource.Start(ctx); err != nil {
		return fmt.Errorf("before all: start: %w", err)
	}

	hasDocs, err := l.resource.HasDocuments(ctx)
	if err != nil {
		return fmt.Errorf("before all: check documents: %w", err)
	}
	if hasDocs {
		l.log.Error("refusing to use sandbox: store is not empty")
		return fmt.Errorf("before all: %w", ErrUnsafeState)
	}

	l.mu.Lock()
	l.safe = true
	l.startedAt = l.clock.Now()
	l.mu.Unlock()
	l.log.Debug("started and verified empty")
	return nil
}

// BeforeEach is a no-op, kept so drivers can call all four checkpoints.
func (l *Lifecycle) BeforeEach(_ context.Context) error {
	return nil
}

// AfterEach purges every document so the next case starts empty. It does
// nothing unless BeforeAll marked the lifecycle safe.
func (l *Lifecycle) AfterEach(ctx context.Context) error {
	if !l.IsSafe() {
		return nil
	}
	if err := l.resource.PurgeDocuments(ctx); err != nil {
		return fmt.Errorf("after each: purge: %w", err)
	}
	l.log.Debug("purged documents after test case")
	return nil
}

// AfterAll stops the resource, first waiting until it has been up for at
// least its minimum uptime since BeforeAll succeeded. The wait ends early
// only if ctx is done, in which case the resource is left running.
func (l *Lifecycle) AfterAll(ctx context.Context) error {
	l.mu.Lock()
	startedAt := l.startedAt
	l.mu.Unlock()

	minUptime := l.resource.MinimumUptime()
	if !startedAt.IsZero() {
		if remaining := startedAt.Add(minUptime).Sub(l.clock.Now()); remaining > 0 {
			l.log.Debug("ensuring minimum uptime", "minimum_uptime", minUptime, "remaining", remaining)
			select {
			case <-l.clock.After(remaining):
			case <-ctx.Done():
				return fmt.Errorf("after all: wait for minimum uptime: %w", ctx.Err())
			}
		}
	}

	if err := l.resource.Stop(ctx); err != nil {
		return fmt.Errorf("after all: stop: %w", err)
	}

	l.mu.Lock()
	l.safe = false
	l.mu.Unlock()
	l.log.Debug("stopped")
	return nil
}
