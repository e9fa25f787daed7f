package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSlidingWindowNeverExceedsCeiling(t *testing.T) {
	l := NewSlidingWindow("test", 9, nil)
	var log []time.Time
	l.observe = func(ts time.Time) { log = append(log, ts) }
	start := time.Now()
	for i := 0; i < 20; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("expected at least one induced delay, 20 acquisitions took %s", elapsed)
	}
	for i := range log {
		count := 0
		for j := i; j < len(log) && log[j].Sub(log[i]) < time.Second; j++ {
			count++
		}
		if count > 9 {
			t.Fatalf("window starting at acquisition %d holds %d acquisitions", i, count)
		}
	}
}

func TestSlidingWindowUsesFakeClock(t *testing.T) {
	now := time.Unix(1000, 0)
	var slept []time.Duration
	l := NewSlidingWindow("fake", 2, nil)
	l.now = func() time.Time { return now }
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}

	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if len(slept) == 0 {
		t.Fatalf("expected the third acquisition to wait")
	}
	for _, d := range slept {
		if d != 500*time.Millisecond {
			t.Fatalf("expected one-interval sleeps of 500ms, got %s", d)
		}
	}
	if got := now.Sub(time.Unix(1000, 0)); got < time.Second {
		t.Fatalf("expected third slot no earlier than one window after the first, got %s", got)
	}
}

func TestSlidingWindowConcurrentCallersShareBudget(t *testing.T) {
	l := NewSlidingWindow("concurrent", 5, nil)
	var (
		mu  sync.Mutex
		log []time.Time
		wg  sync.WaitGroup
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			log = append(log, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(l.stamps) > 5 {
		t.Fatalf("expected at most 5 stamps retained, got %d", len(l.stamps))
	}
	if len(log) != 12 {
		t.Fatalf("expected 12 acquisitions, got %d", len(log))
	}
}

func TestSlidingWindowHonoursContext(t *testing.T) {
	l := NewSlidingWindow("ctx", 1, nil)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("expected context error while waiting")
	}
}

func TestNewSlidingWindowDefaultsCeiling(t *testing.T) {
	if got := NewSlidingWindow("d", 0, nil).Ceiling(); got != DefaultCeiling {
		t.Fatalf("expected default ceiling %d, got %d", DefaultCeiling, got)
	}
}
