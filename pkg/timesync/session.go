// ABOUTME: Client-side sync session driving sequential probe rounds
// ABOUTME: Collects valid samples, reduces them and stores the estimate
package timesync

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Session runs sync attempts against one Peer. It holds no state between
// attempts and performs no locking; see the package documentation.
type Session struct {
	peer      Peer
	clock     Clock
	sleeper   Sleeper
	jitter    JitterSource
	estimator Estimator
	log       logrus.FieldLogger
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the local clock. Default: SystemClock().
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithSleeper sets how the session waits between rounds. Default: TimerSleeper.
func WithSleeper(sl Sleeper) Option {
	return func(s *Session) { s.sleeper = sl }
}

// WithJitter sets the random source for inter-round delays. Default: UniformJitter.
func WithJitter(j JitterSource) Option {
	return func(s *Session) { s.jitter = j }
}

// WithEstimator replaces the sample reducer. Default: MinRoundTrip.
func WithEstimator(e Estimator) Option {
	return func(s *Session) { s.estimator = e }
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) { s.log = l }
}

// NewSession creates a session for the given peer.
func NewSession(peer Peer, opts ...Option) *Session {
	s := &Session{
		peer:      peer,
		clock:     SystemClock(),
		sleeper:   TimerSleeper{},
		jitter:    UniformJitter{},
		estimator: MinRoundTrip,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	return s
}

// Result describes a successful sync attempt.
type Result struct {
	Offset    int64    // estimate stored, µs
	RoundTrip int64    // round trip of the best sample, µs
	Samples   []Sample // valid samples in probe order
	Rejected  int      // malformed rounds dropped
	Rounds    int      // rounds attempted
}

// AttemptSync runs cfg.Rounds probe rounds one after another, then stores and
// returns the estimate.
//
// Errors from the peer abort the attempt at once and are returned unchanged.
// Malformed replies only cost their round. If fewer than cfg.MinSamples
// rounds produced a valid sample, the result is an *InsufficientSamplesError
// and nothing is stored.
func (s *Session) AttemptSync(ctx context.Context, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	log := s.log.WithField("rounds", cfg.Rounds)

	var stored int64
	var hasStored bool
	if cfg.needsBaseline() {
		var err error
		stored, hasStored, err = s.peer.LoadOffset(ctx)
		if err != nil {
			return Result{}, err
		}
		log.WithFields(logrus.Fields{"stored_us": stored, "has_stored": hasStored}).Debug("Loaded baseline offset")
	}
	seeded := hasStored

	res := Result{
		Rounds:  cfg.Rounds,
		Samples: make([]Sample, 0, cfg.Rounds),
	}

	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		reply, t1, t4, err := s.exchange(ctx)
		if err != nil {
			return Result{}, err
		}

		sample, reason := derive(reply, t1, t4)
		rlog := log.WithField("round", round)
		if reason != nil {
			res.Rejected++
			rlog.WithError(reason).Debug("Dropping malformed probe")
		} else {
			sample.Round = round
			res.Samples = append(res.Samples, sample)
			rlog.WithFields(logrus.Fields{
				"offset_us": sample.Offset,
				"rtt_us":    sample.RoundTrip,
			}).Debug("Collected sample")

			if cfg.SeedFirstSample && !seeded {
				if err := s.peer.StoreOffset(ctx, sample.Offset); err != nil {
					return Result{}, err
				}
				seeded = true
				rlog.WithField("offset_us", sample.Offset).Debug("No offset stored, seeded from first sample")
			}
		}

		if round < cfg.Rounds-1 && cfg.Jitter > 0 {
			delay := s.jitter.Jitter(cfg.Jitter)
			rlog.WithField("delay", delay).Debug("Sleeping before next round")
			if err := s.sleeper.Sleep(ctx, delay); err != nil {
				return Result{}, err
			}
		}
	}

	if len(res.Samples) < cfg.MinSamples {
		err := &InsufficientSamplesError{
			Valid:    len(res.Samples),
			Required: cfg.MinSamples,
			Rounds:   cfg.Rounds,
		}
		log.WithError(err).Info("Sync attempt produced too few samples")
		return Result{}, err
	}

	res.Offset = s.estimator(res.Samples)
	res.RoundTrip = Best(res.Samples).RoundTrip

	if hasStored && cfg.MaxStep > 0 {
		step := time.Duration(absInt64(res.Offset-stored)) * time.Microsecond
		if step > cfg.MaxStep {
			log.WithFields(logrus.Fields{"offset_us": res.Offset, "stored_us": stored}).Warn("Rejecting implausible offset step")
			return Result{}, stepError(step, cfg.MaxStep)
		}
	}

	if err := s.peer.StoreOffset(ctx, res.Offset); err != nil {
		return Result{}, err
	}

	log.WithFields(logrus.Fields{
		"offset_us": res.Offset,
		"rtt_us":    res.RoundTrip,
		"samples":   len(res.Samples),
		"rejected":  res.Rejected,
	}).Info("Clock offset updated")

	return res, nil
}

// exchange performs one request/response, reading the clock right before
// sending and right after the reply arrives.
func (s *Session) exchange(ctx context.Context) (reply Reply, t1, t4 Timestamp, err error) {
	t1 = s.clock.Now()
	reply, err = s.peer.Exchange(ctx, Request{T1: t1})
	t4 = s.clock.Now()
	return reply, t1, t4, err
}

// AdjustedNow returns the local time corrected by the stored offset. With no
// stored offset the local time is returned as is.
func (s *Session) AdjustedNow(ctx context.Context) (Timestamp, error) {
	offset, _, err := s.peer.LoadOffset(ctx)
	if err != nil {
		return 0, err
	}
	return s.clock.Now() + Timestamp(offset), nil
}

// derive checks that the reply belongs to this request before turning it
// into a sample.
func derive(reply Reply, t1, t4 Timestamp) (Sample, error) {
	if reply.T1 != t1 {
		return Sample{}, echoError(t1, reply.T1)
	}
	return NewProbe(reply, t4).Sample()
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
