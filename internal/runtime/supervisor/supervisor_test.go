package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	sup := New(context.Background(), WithCancelOnError(true))
	sup.Go("boom", func(ctx context.Context) error { return errors.New("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "boom: boom") {
		t.Fatalf("Wait() = %v, want boom error", err)
	}
	if sup.Context().Err() == nil {
		t.Fatal("expected supervisor context to be canceled")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	sup := New(context.Background())
	sup.Go0("panicky", func(ctx context.Context) { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "panic: kaboom") {
		t.Fatalf("Wait() = %v, want panic error", err)
	}
	if sup.Context().Err() != nil {
		t.Fatal("supervisor without cancel-on-error must stay alive")
	}
}

func TestGoRestartRestartsUntilCanceled(t *testing.T) {
	sup := New(context.Background())
	var runs int32
	sup.GoRestart("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return errors.New("transient")
		}
		<-ctx.Done()
		return ctx.Err()
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&runs) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, want 3", atomic.LoadInt32(&runs))
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if c := sup.Counters(); c.Active != 0 {
		t.Fatalf("active = %d after stop", c.Active)
	}
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	bo := backoff{min: 100 * time.Millisecond, max: 300 * time.Millisecond, cur: 100 * time.Millisecond}
	for i, base := range []time.Duration{100, 200, 300, 300} {
		base *= time.Millisecond
		got := bo.next()
		if got < base || got > base+base/5 {
			t.Fatalf("step %d: next() = %v, want within [%v, %v]", i, got, base, base+base/5)
		}
	}
	bo.reset()
	if bo.cur != bo.min {
		t.Fatalf("reset left cur = %v", bo.cur)
	}
}

func TestWaitGivesUpWithContext(t *testing.T) {
	sup := New(context.Background())
	release := make(chan struct{})
	sup.Go0("stuck", func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sup.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v, want deadline exceeded", err)
	}
	if c := sup.Counters(); c.Active != 1 || c.Started != 1 {
		t.Fatalf("counters = %+v", c)
	}

	close(release)
	if err := sup.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() after release = %v", err)
	}
}
