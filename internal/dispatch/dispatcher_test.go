package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := New(zap.NewNop())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start dispatcher: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

func TestDispatcher_StartStop(t *testing.T) {
	d := New(zap.NewNop())

	if err := d.Submit("early", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning before start, got %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := d.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning on double stop, got %v", err)
	}
}

func TestDispatcher_EventsRunInSubmissionOrder(t *testing.T) {
	d := newTestDispatcher(t)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		i := i
		err := d.Submit("ordered", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 9 {
				close(done)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("out of order at %d: %v", i, order)
		}
	}
}

func TestDispatcher_DoReturnsHandlerError(t *testing.T) {
	d := newTestDispatcher(t)

	wantErr := errors.New("boom")
	err := d.Do(context.Background(), "failing", func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected handler error back, got %v", err)
	}

	err = d.Do(context.Background(), "ok", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestDispatcher_DoHonorsContext(t *testing.T) {
	d := newTestDispatcher(t)

	block := make(chan struct{})
	defer close(block)
	_ = d.Submit("blocker", func(ctx context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := d.Do(ctx, "queued behind blocker", func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestDispatcher_DoReportsPanicInsteadOfHanging(t *testing.T) {
	d := newTestDispatcher(t)

	// No deadline on the context: the call must still come back.
	err := d.Do(context.Background(), "panicking read", func(ctx context.Context) error {
		panic("handler bug")
	})
	if !errors.Is(err, ErrHandlerPanic) {
		t.Errorf("expected ErrHandlerPanic, got %v", err)
	}

	// The loop keeps running afterwards.
	if err := d.Do(context.Background(), "after panic", func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Errorf("loop should survive a panicking Do: %v", err)
	}
}

func TestDispatcher_PanicDoesNotKillLoop(t *testing.T) {
	d := newTestDispatcher(t)

	_ = d.Submit("panicking", func(ctx context.Context) error {
		panic("handler bug")
	})

	// The loop must still process later events.
	err := d.Do(context.Background(), "after panic", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("loop should survive a panicking handler: %v", err)
	}
}

func TestDispatcher_GoRecoversPanic(t *testing.T) {
	d := newTestDispatcher(t)

	done := make(chan struct{})
	d.Go("panicking task", func() {
		defer close(done)
		panic("background bug")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background task never ran")
	}
}
