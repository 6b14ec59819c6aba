// ABOUTME: Deterministic simulated network for sync experiments
// ABOUTME: Shared manual clock, delayed links and malformed-reply injection
package simnet

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
)

// Clock is the simulation's true time. Nothing moves it but Advance.
type Clock struct {
	mu  sync.Mutex
	now timesync.Timestamp
}

// NewClock starts the simulation at start.
func NewClock(start timesync.Timestamp) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() timesync.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves true time forward by d, truncated to microseconds.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Host returns a host clock that reads true time plus offset µs.
func (c *Clock) Host(offset int64) timesync.Clock {
	return timesync.OffsetClock{Base: c, Offset: offset}
}

// Sleeper advances the simulated clock instead of blocking.
type Sleeper struct {
	Clock *Clock

	mu    sync.Mutex
	calls []time.Duration
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	s.Clock.Advance(d)
	return nil
}

// Calls returns every duration slept so far.
func (s *Sleeper) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

// Answerer is the server side of a link; *timesync.Responder satisfies it.
type Answerer interface {
	AnswerClient(ctx context.Context, req timesync.Request) (timesync.Reply, error)
}

// Link carries probes to an Answerer, advancing the simulated clock by the
// one-way delays on the way out and back.
type Link struct {
	Clock  *Clock
	Server Answerer

	// Forward and Back are the fixed one-way delays.
	Forward time.Duration
	Back    time.Duration

	// Jitter adds a random extra delay in [0, Jitter] to each direction.
	Jitter time.Duration

	// Malformed, when set, marks exchanges (counted from 0) whose reply is
	// corrupted so that the server send stamp precedes its receive stamp.
	Malformed func(exchange int) bool

	mu    sync.Mutex
	rng   *rand.Rand
	count int
}

// NewLink returns a link with symmetric delay and a seeded jitter source.
func NewLink(clock *Clock, server Answerer, oneWay time.Duration, seed uint64) *Link {
	return &Link{
		Clock:   clock,
		Server:  server,
		Forward: oneWay,
		Back:    oneWay,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (l *Link) Exchange(ctx context.Context, req timesync.Request) (timesync.Reply, error) {
	if err := ctx.Err(); err != nil {
		return timesync.Reply{}, err
	}

	l.mu.Lock()
	n := l.count
	l.count++
	out, back := l.Forward+l.extra(), l.Back+l.extra()
	l.mu.Unlock()

	l.Clock.Advance(out)
	reply, err := l.Server.AnswerClient(ctx, req)
	if err != nil {
		return timesync.Reply{}, err
	}
	l.Clock.Advance(back)

	if l.Malformed != nil && l.Malformed(n) {
		reply.T3 = reply.T2 - 1
	}
	return reply, nil
}

// Exchanges returns how many probes crossed the link.
func (l *Link) Exchanges() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *Link) extra() time.Duration {
	if l.Jitter <= 0 || l.rng == nil {
		return 0
	}
	return time.Duration(l.rng.Int64N(int64(l.Jitter) + 1))
}
