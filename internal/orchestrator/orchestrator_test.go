package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	name  string
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (r *fakeRunner) Name() string { return r.name }

func (r *fakeRunner) Run(ctx context.Context) error {
	r.calls.Add(1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.err
}

func TestRunRoundAllSourcesThenEnricher(t *testing.T) {
	a := &fakeRunner{name: "a"}
	b := &fakeRunner{name: "b"}
	enricher := &fakeRunner{name: "enricher"}

	o := New([]Runner{a, b}, enricher, testLogger(), nil)
	if err := o.RunRound(context.Background()); err != nil {
		t.Fatalf("run round: %v", err)
	}

	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Errorf("each source should run once, got a=%d b=%d", a.calls.Load(), b.calls.Load())
	}
	if enricher.calls.Load() != 1 {
		t.Errorf("enricher should run once, got %d", enricher.calls.Load())
	}
}

func TestRunRoundFailedSourceDoesNotBlockOthers(t *testing.T) {
	failing := &fakeRunner{name: "failing", err: fmt.Errorf("site down")}
	healthy := &fakeRunner{name: "healthy"}
	enricher := &fakeRunner{name: "enricher"}

	o := New([]Runner{failing, healthy}, enricher, testLogger(), nil)
	if err := o.RunRound(context.Background()); err != nil {
		t.Fatalf("a failed source must not fail the round: %v", err)
	}

	if healthy.calls.Load() != 1 {
		t.Error("healthy source should still run")
	}
	// 补全阶段照常执行
	if enricher.calls.Load() != 1 {
		t.Error("enricher should still run after a source failure")
	}
}

func TestRunRoundWithoutEnricher(t *testing.T) {
	a := &fakeRunner{name: "a"}
	o := New([]Runner{a}, nil, testLogger(), nil)
	if err := o.RunRound(context.Background()); err != nil {
		t.Fatalf("run round: %v", err)
	}
	if a.calls.Load() != 1 {
		t.Errorf("expected 1 run, got %d", a.calls.Load())
	}
}

func TestRunRoundCancelled(t *testing.T) {
	slow := &fakeRunner{name: "slow", delay: time.Minute}
	enricher := &fakeRunner{name: "enricher"}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	o := New([]Runner{slow}, enricher, testLogger(), nil)
	if err := o.RunRound(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
	if enricher.calls.Load() != 0 {
		t.Error("enricher should not run after cancellation")
	}
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	a := &fakeRunner{name: "a"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	o := New([]Runner{a}, nil, testLogger(), nil)
	go func() {
		done <- o.RunLoop(ctx, time.Hour)
	}()

	// 第一轮跑完后进入等待，此时取消
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected context error from loop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	if a.calls.Load() != 1 {
		t.Errorf("expected exactly 1 round before cancel, got %d", a.calls.Load())
	}
}
