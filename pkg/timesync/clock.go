// ABOUTME: Injected time sources for the sync core
// ABOUTME: Clock reads, context-aware sleeping and bounded random jitter
package timesync

import (
	"context"
	"math/rand/v2"
	"time"
)

// Clock reads the local time in microseconds.
type Clock interface {
	Now() Timestamp
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() Timestamp

func (f ClockFunc) Now() Timestamp { return f() }

// systemClock anchors the monotonic reading to the Unix epoch at creation,
// so readings never jump with wall clock adjustments.
type systemClock struct {
	start      time.Time
	startMicro int64
}

// SystemClock returns a Clock backed by the host's monotonic clock, expressed
// as microseconds since the Unix epoch at the moment of creation.
func SystemClock() Clock {
	now := time.Now()
	return &systemClock{start: now, startMicro: now.UnixMicro()}
}

func (c *systemClock) Now() Timestamp {
	return Timestamp(c.startMicro + time.Since(c.start).Microseconds())
}

// OffsetClock is a Clock shifted by a fixed offset in microseconds.
type OffsetClock struct {
	Base   Clock
	Offset int64
}

func (c OffsetClock) Now() Timestamp {
	return c.Base.Now() + Timestamp(c.Offset)
}

// Sleeper pauses a session between rounds. Sleep returns ctx.Err() if the
// context ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper sleeps on a runtime timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JitterSource draws a duration uniformly from [0, max].
type JitterSource interface {
	Jitter(max time.Duration) time.Duration
}

// UniformJitter draws from math/rand/v2. Sync jitter only needs to be
// uncorrelated with network timers, not unpredictable.
type UniformJitter struct{}

func (UniformJitter) Jitter(max time.Duration) time.Duration {
	us := max.Microseconds()
	if us <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(us+1)) * time.Microsecond
}
