// ABOUTME: Per-call sync configuration and its validation
// ABOUTME: Rounds, minimum sample floor, jitter bound and optional policies
package timesync

import (
	"fmt"
	"time"
)

const (
	// DefaultRounds is the number of probes attempted per session.
	DefaultRounds = 5

	// DefaultMinSamples is the valid-sample floor per session.
	DefaultMinSamples = 3

	// DefaultJitter bounds the random delay between probes.
	DefaultJitter = 100 * time.Millisecond

	// MaxJitter is the largest accepted jitter bound.
	MaxJitter = 10 * time.Second
)

// Config controls one AttemptSync call.
type Config struct {
	// Jitter is the upper bound of the uniformly random delay slept between
	// rounds. Zero runs rounds back to back.
	Jitter time.Duration

	// Rounds is the number of probes attempted.
	Rounds int

	// MinSamples is the number of valid samples required to produce an
	// estimate. Must not exceed Rounds.
	MinSamples int

	// SeedFirstSample stores the first valid sample's offset straight away
	// when no offset is stored yet.
	SeedFirstSample bool

	// MaxStep rejects an estimate that differs from the stored offset by
	// more than this amount. Zero disables the check.
	MaxStep time.Duration
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		Jitter:     DefaultJitter,
		Rounds:     DefaultRounds,
		MinSamples: DefaultMinSamples,
	}
}

// Validate checks the configuration bounds. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if c.Rounds <= 0 {
		return fmt.Errorf("%w: rounds must be positive, got %d", ErrInvalidConfig, c.Rounds)
	}
	if c.MinSamples <= 0 {
		return fmt.Errorf("%w: min samples must be positive, got %d", ErrInvalidConfig, c.MinSamples)
	}
	if c.MinSamples > c.Rounds {
		return fmt.Errorf("%w: min samples %d exceeds rounds %d", ErrInvalidConfig, c.MinSamples, c.Rounds)
	}
	if c.Jitter < 0 || c.Jitter > MaxJitter {
		return fmt.Errorf("%w: jitter %v outside [0, %v]", ErrInvalidConfig, c.Jitter, MaxJitter)
	}
	if c.MaxStep < 0 {
		return fmt.Errorf("%w: negative max step %v", ErrInvalidConfig, c.MaxStep)
	}
	return nil
}

// needsBaseline reports whether the session must consult LoadOffset.
func (c Config) needsBaseline() bool {
	return c.SeedFirstSample || c.MaxStep > 0
}
