package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_SingleFlight(t *testing.T) {
	var inflight, maxInflight, runs int64

	task := func(ctx context.Context) error {
		cur := atomic.AddInt64(&inflight, 1)
		defer atomic.AddInt64(&inflight, -1)

		for {
			prev := atomic.LoadInt64(&maxInflight)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxInflight, prev, cur) {
				break
			}
		}

		atomic.AddInt64(&runs, 1)
		time.Sleep(50 * time.Millisecond) // Outlast several ticks
		return nil
	}

	s := New(task, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if got := atomic.LoadInt64(&maxInflight); got != 1 {
		t.Errorf("max inflight runs = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&runs); got == 0 {
		t.Error("expected at least one run")
	}
}

func TestScheduler_SurvivesRunFailure(t *testing.T) {
	var runs int64

	task := func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return errors.New("downstream unavailable")
	}

	s := New(task, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	// First immediate run plus at least one tick after a failure.
	if got := atomic.LoadInt64(&runs); got < 2 {
		t.Errorf("runs = %d, want >= 2 (failed run must not stop the timer)", got)
	}
}

func TestScheduler_RunTimeout(t *testing.T) {
	var sawDeadline atomic.Bool

	task := func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			sawDeadline.Store(true)
		}
		return nil
	}

	s := New(task, Config{Interval: time.Hour, RunTimeout: time.Second})

	if !s.TryRun(context.Background()) {
		t.Fatal("TryRun should execute when idle")
	}
	if !sawDeadline.Load() {
		t.Error("task context should carry the run timeout deadline")
	}
}

// fakeLock counts acquisitions and can refuse them.
type fakeLock struct {
	allow    bool
	acquires int64
	releases int64
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) {
	atomic.AddInt64(&f.acquires, 1)
	return f.allow, nil
}

func (f *fakeLock) Release(ctx context.Context) {
	atomic.AddInt64(&f.releases, 1)
}

func TestScheduler_LockRefused(t *testing.T) {
	var runs int64
	task := func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	}

	lock := &fakeLock{allow: false}
	s := New(task, Config{Interval: time.Hour, Lock: lock})

	if s.TryRun(context.Background()) {
		t.Error("TryRun should report skip when the lock is held elsewhere")
	}
	if atomic.LoadInt64(&runs) != 0 {
		t.Error("task must not run without the lock")
	}
	if atomic.LoadInt64(&lock.releases) != 0 {
		t.Error("an unacquired lock must not be released")
	}
}

func TestScheduler_LockAcquiredAndReleased(t *testing.T) {
	var runs int64
	task := func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	}

	lock := &fakeLock{allow: true}
	s := New(task, Config{Interval: time.Hour, Lock: lock})

	if !s.TryRun(context.Background()) {
		t.Fatal("TryRun should execute with the lock held")
	}
	if atomic.LoadInt64(&runs) != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
	if atomic.LoadInt64(&lock.releases) != 1 {
		t.Errorf("releases = %d, want 1", lock.releases)
	}
}
