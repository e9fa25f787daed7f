package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hadesus/analyzerforCP/internal/metrics"
	"go.uber.org/zap"
)

const DefaultCeiling = 9

// SlidingWindow keeps the number of acquisitions inside any trailing window
// at or below a ceiling. Callers wait in mutex order.
type SlidingWindow struct {
	name     string
	ceiling  int
	window   time.Duration
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	stamps []time.Time

	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	observe func(time.Time)
}

// NewSlidingWindow returns a one-second window limiter. A ceiling below 1
// falls back to DefaultCeiling.
func NewSlidingWindow(name string, ceiling int, logger *zap.Logger) *SlidingWindow {
	if ceiling < 1 {
		ceiling = DefaultCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	window := time.Second
	return &SlidingWindow{
		name:     name,
		ceiling:  ceiling,
		window:   window,
		interval: window / time.Duration(ceiling),
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (l *SlidingWindow) Ceiling() int { return l.ceiling }

// Acquire blocks until a slot is free in the trailing window, then records
// the acquisition. It returns ctx.Err() if the context ends while waiting.
func (l *SlidingWindow) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	waited := false
	for {
		l.evict(l.now())
		if len(l.stamps) < l.ceiling {
			break
		}
		if !waited {
			waited = true
			metrics.RecordRateLimitWait(l.name)
			l.logger.Debug("rate limit wait", zap.String("limiter", l.name), zap.Int("in_window", len(l.stamps)))
		}
		if err := l.sleep(ctx, l.interval); err != nil {
			return err
		}
	}
	// Only record once the wait decision is final.
	stamp := l.now()
	l.stamps = append(l.stamps, stamp)
	if l.observe != nil {
		l.observe(stamp)
	}
	return nil
}

func (l *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
