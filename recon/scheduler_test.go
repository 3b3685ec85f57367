package recon_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/eventrecon/recon"
)

type stubLocker struct {
	acquired bool
	err      error
	keys     []string
	released int
}

func (l *stubLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}

func TestSchedulerRunOnceUnderLock(t *testing.T) {
	var runs int
	locker := &stubLocker{acquired: true}
	s := &recon.Scheduler{
		Name:     "cycle",
		Interval: time.Minute,
		Locker:   locker,
		Logger:   quietLogger(),
		Job:      func(ctx context.Context) error { runs++; return nil },
	}
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if runs != 1 || locker.released != 1 {
		t.Fatalf("runs=%d released=%d", runs, locker.released)
	}
	if len(locker.keys) != 1 || locker.keys[0] != "recon:lock:cycle" {
		t.Fatalf("lock key: got %v", locker.keys)
	}
	running, lastRun, lastErr := s.Status()
	if running || lastRun.IsZero() || lastErr != nil {
		t.Fatalf("status: running=%v lastRun=%v lastErr=%v", running, lastRun, lastErr)
	}
}

func TestSchedulerSkipsWhenLocked(t *testing.T) {
	var runs int
	s := &recon.Scheduler{
		Name:   "cleanup",
		Locker: &stubLocker{acquired: false},
		Logger: quietLogger(),
		Job:    func(ctx context.Context) error { runs++; return nil },
	}
	if err := s.RunOnce(context.Background()); !errors.Is(err, recon.ErrJobLocked) {
		t.Fatalf("expected ErrJobLocked, got %v", err)
	}
	if runs != 0 {
		t.Fatalf("job must not run without the lock")
	}

	s.Locker = &stubLocker{err: errors.New("redis down")}
	if err := s.RunOnce(context.Background()); err == nil || errors.Is(err, recon.ErrJobLocked) {
		t.Fatalf("lock errors should surface, got %v", err)
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := &recon.Scheduler{
		Name:   "cycle",
		Logger: quietLogger(),
		Job:    func(ctx context.Context) error { panic("boom") },
	}
	err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("panic should become an error")
	}
	if _, _, lastErr := s.Status(); lastErr == nil {
		t.Fatalf("status should keep the panic error")
	}
}

func TestSchedulerRunTriggerAndStop(t *testing.T) {
	var runs int32
	ran := make(chan struct{}, 10)
	s := &recon.Scheduler{
		Name:     "cycle",
		Interval: time.Hour,
		Logger:   quietLogger(),
		Job: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			ran <- struct{}{}
			return errors.New("transient")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitRun := func() {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("job did not run")
		}
	}
	waitRun()
	s.Trigger()
	waitRun()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run should return context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Fatalf("runs: got %d", got)
	}
}

func TestSchedulerTriggerCoalesces(t *testing.T) {
	s := &recon.Scheduler{Name: "cycle"}
	if !s.Trigger() {
		t.Fatalf("first trigger should queue")
	}
	if s.Trigger() {
		t.Fatalf("second trigger should coalesce")
	}
}
