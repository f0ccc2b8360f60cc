package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_BasicFunctionality(t *testing.T) {
	q := New(testLogger(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		job := func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			completed.Add(1)
			return nil
		}
		if !q.Submit(job) {
			t.Errorf("Failed to submit job %d", i)
		}
	}

	if err := q.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	q.Shutdown()

	if completed.Load() != 5 {
		t.Errorf("Expected 5 completed jobs, got %d", completed.Load())
	}

	stats := q.GetStats()
	if stats.TotalSubmitted != 5 {
		t.Errorf("Expected 5 submitted, got %d", stats.TotalSubmitted)
	}
	if stats.TotalSucceeded != 5 {
		t.Errorf("Expected 5 succeeded, got %d", stats.TotalSucceeded)
	}
}

func TestQueue_ErrorIsolation(t *testing.T) {
	q := New(testLogger(), 2)

	var errorCount atomic.Int32
	q.SetErrorHandler(func(err error, job Job) {
		errorCount.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	// 失败任务不能影响后续任务
	q.Submit(func(ctx context.Context) error {
		return errors.New("task failed")
	})
	var executed atomic.Bool
	q.Submit(func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	if err := q.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	q.Shutdown()

	stats := q.GetStats()
	if stats.TotalSucceeded != 1 {
		t.Errorf("Expected 1 success, got %d", stats.TotalSucceeded)
	}
	if stats.TotalFailed != 1 {
		t.Errorf("Expected 1 failure, got %d", stats.TotalFailed)
	}
	if errorCount.Load() != 1 {
		t.Errorf("Expected 1 error callback, got %d", errorCount.Load())
	}
	if !executed.Load() {
		t.Error("Expected sibling job to run after a failure")
	}
}

func TestQueue_PanicRecovery(t *testing.T) {
	q := New(testLogger(), 2)

	var reported atomic.Int32
	q.SetErrorHandler(func(err error, job Job) {
		reported.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	q.Submit(func(ctx context.Context) error {
		panic("intentional panic")
	})

	// 正常任务（验证 worker 没有因为 panic 而挂掉）
	var executed atomic.Bool
	q.Submit(func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	if err := q.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	q.Shutdown()

	stats := q.GetStats()
	if stats.TotalPanics != 1 {
		t.Errorf("Expected 1 panic, got %d", stats.TotalPanics)
	}
	if !executed.Load() {
		t.Error("Expected job after panic to execute")
	}
	if reported.Load() != 1 {
		t.Errorf("Expected panic reported once, got %d", reported.Load())
	}
}

func TestQueue_WaitIdleRecursiveFanOut(t *testing.T) {
	q := New(testLogger(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	// 三层扇出：1 -> 4 -> 16，WaitIdle 必须等到全部 21 个任务完成
	var completed atomic.Int32
	var leaf Job
	leaf = func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		completed.Add(1)
		return nil
	}
	mid := func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		for i := 0; i < 4; i++ {
			q.Submit(leaf)
		}
		completed.Add(1)
		return nil
	}
	root := func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		for i := 0; i < 4; i++ {
			q.Submit(mid)
		}
		completed.Add(1)
		return nil
	}

	q.Submit(root)
	if err := q.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}

	if completed.Load() != 21 {
		t.Errorf("Expected 21 completed jobs at idle, got %d", completed.Load())
	}
	if q.Outstanding() != 0 {
		t.Errorf("Expected 0 outstanding, got %d", q.Outstanding())
	}
	q.Shutdown()
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	const workers = 3
	q := New(testLogger(), workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	var inFlight atomic.Int32
	var maxSeen atomic.Int32
	for i := 0; i < 20; i++ {
		q.Submit(func(ctx context.Context) error {
			cur := inFlight.Add(1)
			for {
				prev := maxSeen.Load()
				if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
	}

	if err := q.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	q.Shutdown()

	if maxSeen.Load() > workers {
		t.Errorf("Concurrency bound exceeded: saw %d, limit %d", maxSeen.Load(), workers)
	}
}

func TestQueue_WaitIdleContextCancel(t *testing.T) {
	q := New(testLogger(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	release := make(chan struct{})
	q.Submit(func(ctx context.Context) error {
		<-release
		return nil
	})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer waitCancel()
	if err := q.WaitIdle(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}

	close(release)
	if err := q.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle after release: %v", err)
	}
	q.Shutdown()
}

func TestQueue_SubmitAfterShutdown(t *testing.T) {
	q := New(testLogger(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Shutdown()

	if q.Submit(func(ctx context.Context) error { return nil }) {
		t.Error("Expected Submit to be rejected after Shutdown")
	}
}
