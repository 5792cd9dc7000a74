package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"classrelay/internal/metrics"
)

// Dispatcher serializes all session-store access: inbound events are queued
// as closures and processed one at a time by a single goroutine, so no
// handler ever observes another handler's partial mutation. Components that
// must wait on a slow collaborator leave the loop with Go and apply the
// result through a re-submitted continuation.
type Dispatcher struct {
	events   chan event
	shutdown chan struct{}
	running  bool
	mu       sync.RWMutex
	logger   *zap.Logger
}

type event struct {
	name   string
	handle func(ctx context.Context) error
}

// New creates a dispatcher. The queue is buffered so transport read pumps
// are not blocked by bursts of classroom activity.
func New(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		events:   make(chan event, 1024),
		shutdown: make(chan struct{}),
		logger:   logger,
	}
}

// Start begins processing events on a dedicated goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop shuts the loop down. Queued events are dropped.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return ErrNotRunning
	}
	d.running = false

	select {
	case <-d.shutdown:
	default:
		close(d.shutdown)
	}
	return nil
}

// Submit queues an event handler. It never blocks: a saturated queue is
// reported to the caller instead of stalling a transport read pump.
func (d *Dispatcher) Submit(name string, fn func(ctx context.Context) error) error {
	d.mu.RLock()
	if !d.running {
		d.mu.RUnlock()
		return ErrNotRunning
	}
	d.mu.RUnlock()

	select {
	case d.events <- event{name: name, handle: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Do submits fn and waits for it to run, returning its error. Used by the
// HTTP status surface so its reads and writes serialize with event handlers.
// A panicking fn is reported to the waiter as ErrHandlerPanic before the
// panic continues into the loop's recovery.
func (d *Dispatcher) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := d.Submit(name, func(ctx context.Context) error {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				panic(r)
			}
		}()
		done <- fn(ctx)
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go runs fn outside the loop with panic containment. This is the escape
// hatch for collaborator calls with unbounded latency.
func (d *Dispatcher) Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panic",
					zap.String("task", name), zap.Any("panic", r))
			}
		}()
		fn()
	}()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.logger.Info("dispatch loop stopped")

	for {
		select {
		case ev := <-d.events:
			d.dispatch(ctx, ev)
		case <-d.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// dispatch runs one handler. A failure is logged and counted; it must never
// take the loop down or leak into another connection's events.
func (d *Dispatcher) dispatch(ctx context.Context, ev event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerErrors.Inc()
			d.logger.Error("event handler panic",
				zap.String("event", ev.name), zap.Any("panic", r))
		}
	}()

	metrics.EventsProcessed.Inc()
	if err := ev.handle(ctx); err != nil {
		metrics.HandlerErrors.Inc()
		d.logger.Warn("event handler failed",
			zap.String("event", ev.name), zap.Error(err))
	}
}
