// ABOUTME: Error conditions raised by the sync core
// ABOUTME: Sentinel errors plus the insufficient-samples detail type
package timesync

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedProbe indicates a reply that violates the timestamp
	// ordering invariants. Sessions drop such rounds and continue.
	ErrMalformedProbe = errors.New("malformed probe")

	// ErrInsufficientSamples indicates that a session collected fewer valid
	// samples than its configured minimum. No offset was stored.
	ErrInsufficientSamples = errors.New("insufficient samples")

	// ErrNoUpstreamConfigured indicates that chaining was requested from a
	// responder that has no upstream session.
	ErrNoUpstreamConfigured = errors.New("no upstream configured")

	// ErrInvalidConfig indicates a sync configuration outside its bounds.
	ErrInvalidConfig = errors.New("invalid sync config")

	// ErrImplausibleStep indicates an estimate that moved further from the
	// stored offset than Config.MaxStep allows. No offset was stored.
	ErrImplausibleStep = errors.New("implausible offset step")
)

// InsufficientSamplesError carries the counts behind ErrInsufficientSamples.
type InsufficientSamplesError struct {
	Valid    int
	Required int
	Rounds   int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("%v: %d valid of %d rounds, need %d",
		ErrInsufficientSamples, e.Valid, e.Rounds, e.Required)
}

// Is makes errors.Is(err, ErrInsufficientSamples) succeed.
func (e *InsufficientSamplesError) Is(target error) bool {
	return target == ErrInsufficientSamples
}

func echoError(sent, echoed Timestamp) error {
	return fmt.Errorf("%w: reply echoes t1=%d, sent %d", ErrMalformedProbe, echoed, sent)
}

func stepError(step, limit time.Duration) error {
	return fmt.Errorf("%w: %v exceeds %v", ErrImplausibleStep, step, limit)
}
