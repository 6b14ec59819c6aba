// ABOUTME: Probe records and derived offset samples
// ABOUTME: Implements the four-timestamp round-trip offset calculation
package timesync

import (
	"fmt"
	"time"
)

// Timestamp is a monotonic instant in microseconds. Only differences between
// timestamps taken on the same host are meaningful.
type Timestamp int64

// Micros returns the timestamp as a plain microsecond count.
func (t Timestamp) Micros() int64 {
	return int64(t)
}

// Add returns t shifted by d, truncated to microseconds.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d.Microseconds())
}

// Request is the client half of one exchange.
type Request struct {
	T1 Timestamp // client send
}

// Reply is the server's answer. T1 is echoed unchanged from the request.
type Reply struct {
	T1 Timestamp // client send, echoed
	T2 Timestamp // server receive
	T3 Timestamp // server send
}

// Probe is the complete record of one request/response exchange.
type Probe struct {
	T1 Timestamp // client send
	T2 Timestamp // server receive
	T3 Timestamp // server send
	T4 Timestamp // client receive
}

// NewProbe pairs a reply with the local receive time.
func NewProbe(reply Reply, t4 Timestamp) Probe {
	return Probe{T1: reply.T1, T2: reply.T2, T3: reply.T3, T4: t4}
}

// Sample is the offset and round-trip delay derived from one probe, both in
// microseconds. Offset is reference time minus local time.
type Sample struct {
	Round     int
	Offset    int64
	RoundTrip int64
}

// Validate reports whether the probe satisfies the ordering invariants.
// The returned error wraps ErrMalformedProbe.
func (p Probe) Validate() error {
	if p.T4 < p.T1 {
		return fmt.Errorf("%w: client receive %d before send %d", ErrMalformedProbe, p.T4, p.T1)
	}
	if p.T3 < p.T2 {
		return fmt.Errorf("%w: server send %d before receive %d", ErrMalformedProbe, p.T3, p.T2)
	}
	if rtt := p.roundTrip(); rtt < 0 {
		return fmt.Errorf("%w: negative round trip %dµs", ErrMalformedProbe, rtt)
	}
	return nil
}

// Sample validates the probe and derives its offset and round trip.
func (p Probe) Sample() (Sample, error) {
	if err := p.Validate(); err != nil {
		return Sample{}, err
	}
	return Sample{
		Offset:    p.offset(),
		RoundTrip: p.roundTrip(),
	}, nil
}

func (p Probe) roundTrip() int64 {
	return int64((p.T4 - p.T1) - (p.T3 - p.T2))
}

// offset is ((t2-t1) + (t3-t4)) / 2, rounded toward zero.
func (p Probe) offset() int64 {
	return int64((p.T2-p.T1)+(p.T3-p.T4)) / 2
}
