// ABOUTME: Canned end-to-end sync scenarios over the simulated network
// ABOUTME: Wires a responder, link, session and memory store and reports the error
package simnet

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/store"
	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/sirupsen/logrus"
)

// Scenario describes one simulated client/server pair.
type Scenario struct {
	ClientOffset int64 // client clock minus true time, µs
	ServerOffset int64 // server clock minus true time, µs

	Forward time.Duration
	Back    time.Duration
	Jitter  time.Duration

	// MalformedEvery corrupts every n-th reply (1-based). Zero disables.
	MalformedEvery int

	Config timesync.Config
	Seed   uint64
}

// Report is the outcome of a scenario.
type Report struct {
	Result     timesync.Result
	TrueOffset int64         // server minus client, µs
	Error      int64         // estimate minus truth, µs
	Elapsed    time.Duration // simulated time spent
	Exchanges  int
}

// Run plays the scenario to completion.
func Run(ctx context.Context, sc Scenario, log logrus.FieldLogger) (Report, error) {
	clock := NewClock(timesync.Timestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMicro()))
	start := clock.Now()

	responder := timesync.NewAuthority(clock.Host(sc.ServerOffset))
	link := NewLink(clock, responder, sc.Forward, sc.Seed)
	link.Back = sc.Back
	link.Jitter = sc.Jitter
	if sc.MalformedEvery > 0 {
		every := sc.MalformedEvery
		link.Malformed = func(n int) bool { return (n+1)%every == 0 }
	}

	opts := []timesync.Option{
		timesync.WithClock(clock.Host(sc.ClientOffset)),
		timesync.WithSleeper(&Sleeper{Clock: clock}),
		timesync.WithJitter(NewJitter(sc.Seed + 1)),
	}
	if log != nil {
		opts = append(opts, timesync.WithLogger(log))
	}
	session := timesync.NewSession(timesync.Join(store.NewMemory(), link), opts...)

	res, err := session.AttemptSync(ctx, sc.Config)
	report := Report{
		TrueOffset: sc.ServerOffset - sc.ClientOffset,
		Elapsed:    time.Duration(clock.Now()-start) * time.Microsecond,
		Exchanges:  link.Exchanges(),
	}
	if err != nil {
		return report, err
	}
	report.Result = res
	report.Error = res.Offset - report.TrueOffset
	return report, nil
}

// Jitter is a seeded timesync.JitterSource.
type Jitter struct {
	rng *rand.Rand
}

// NewJitter returns a deterministic jitter source.
func NewJitter(seed uint64) *Jitter {
	return &Jitter{rng: rand.New(rand.NewPCG(seed, ^seed))}
}

func (j *Jitter) Jitter(max time.Duration) time.Duration {
	us := max.Microseconds()
	if us <= 0 {
		return 0
	}
	return time.Duration(j.rng.Int64N(us+1)) * time.Microsecond
}
