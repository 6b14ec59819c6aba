// ABOUTME: Server-side responder stamping inbound probes
// ABOUTME: Authority stamps with its own clock, Relay chains to an upstream first
package timesync

import (
	"context"
	"sync"
	"time"
)

// Relay configures a Responder that synchronizes to an upstream before
// answering.
type Relay struct {
	// Upstream is the session used to reach the upstream time source. It
	// must read the same clock passed to NewRelay: the offset it measures is
	// applied to that clock when stamping answers.
	Upstream *Session

	// Config is passed to Upstream.AttemptSync.
	Config Config

	// MaxAge lets answers reuse the stored upstream offset while the last
	// successful upstream sync is younger than this. Zero syncs on every
	// answer.
	MaxAge time.Duration
}

// Responder answers client probes. It is either an authority, stamping with
// its raw clock, or a relay, stamping with its clock corrected by an upstream
// offset. A Responder is safe for concurrent use; upstream syncs of a relay
// are serialized.
type Responder struct {
	clock Clock
	relay *Relay

	mu       sync.Mutex
	lastSync Timestamp
	synced   bool
}

// NewAuthority returns a Responder that is its own time reference.
func NewAuthority(clock Clock) *Responder {
	return &Responder{clock: clock}
}

// NewRelay returns a Responder that chains to relay.Upstream. clock must be
// the clock relay.Upstream was built with (WithClock); stamps are clock plus
// the upstream offset, which is only meaningful against the clock it was
// measured from. A relay with a nil Upstream fails every answer with
// ErrNoUpstreamConfigured.
func NewRelay(clock Clock, relay Relay) *Responder {
	return &Responder{clock: clock, relay: &relay}
}

// IsAuthority reports whether the responder stamps with its raw clock.
func (r *Responder) IsAuthority() bool {
	return r.relay == nil
}

// AnswerClient stamps a probe. The receive stamp is taken on entry and the
// send stamp right before returning; T1 is echoed unchanged. A relay whose
// upstream sync fails returns that error and no reply.
func (r *Responder) AnswerClient(ctx context.Context, req Request) (Reply, error) {
	received := r.clock.Now()

	if r.relay == nil {
		return Reply{T1: req.T1, T2: received, T3: r.clock.Now()}, nil
	}

	offset, err := r.upstreamOffset(ctx)
	if err != nil {
		return Reply{}, err
	}
	shift := Timestamp(offset)
	return Reply{T1: req.T1, T2: received + shift, T3: r.clock.Now() + shift}, nil
}

// SyncUpstream runs one upstream sync attempt. An authority has nothing to
// chain to and fails with ErrNoUpstreamConfigured.
func (r *Responder) SyncUpstream(ctx context.Context) (Result, error) {
	if r.relay == nil || r.relay.Upstream == nil {
		return Result{}, ErrNoUpstreamConfigured
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncLocked(ctx)
}

func (r *Responder) upstreamOffset(ctx context.Context) (int64, error) {
	if r.relay.Upstream == nil {
		return 0, ErrNoUpstreamConfigured
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fresh() {
		offset, ok, err := r.relay.Upstream.peer.LoadOffset(ctx)
		if err != nil {
			return 0, err
		}
		if ok {
			return offset, nil
		}
	}

	res, err := r.syncLocked(ctx)
	if err != nil {
		return 0, err
	}
	return res.Offset, nil
}

func (r *Responder) syncLocked(ctx context.Context) (Result, error) {
	res, err := r.relay.Upstream.AttemptSync(ctx, r.relay.Config)
	if err != nil {
		return Result{}, err
	}
	r.lastSync = r.clock.Now()
	r.synced = true
	return res, nil
}

func (r *Responder) fresh() bool {
	if !r.synced || r.relay.MaxAge <= 0 {
		return false
	}
	return r.clock.Now()-r.lastSync < Timestamp(r.relay.MaxAge.Microseconds())
}
