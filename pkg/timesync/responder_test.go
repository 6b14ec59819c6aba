// ABOUTME: Tests for the server-side responder
// ABOUTME: Authority stamping, relay chaining and upstream failure handling
package timesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorityAnswer(t *testing.T) {
	clock := &tickClock{now: 5000, step: 10}
	responder := NewAuthority(clock)
	assert.True(t, responder.IsAuthority())

	reply, err := responder.AnswerClient(context.Background(), Request{T1: 1234})
	require.NoError(t, err)
	assert.Equal(t, Timestamp(1234), reply.T1)
	assert.Equal(t, Timestamp(5010), reply.T2)
	assert.Equal(t, Timestamp(5020), reply.T3)
	assert.GreaterOrEqual(t, reply.T3, reply.T2)
}

func TestAuthoritySyncUpstream(t *testing.T) {
	responder := NewAuthority(&tickClock{step: 1})

	_, err := responder.SyncUpstream(context.Background())
	assert.ErrorIs(t, err, ErrNoUpstreamConfigured)
}

func TestRelayWithoutUpstream(t *testing.T) {
	responder := NewRelay(&tickClock{step: 1}, Relay{})
	assert.False(t, responder.IsAuthority())

	_, err := responder.AnswerClient(context.Background(), Request{T1: 1})
	assert.ErrorIs(t, err, ErrNoUpstreamConfigured)

	_, err = responder.SyncUpstream(context.Background())
	assert.ErrorIs(t, err, ErrNoUpstreamConfigured)
}

// upstreamPeer answers as a server running offset µs ahead, backed by a
// stored offset slot.
func upstreamPeer(offset int64) (*PeerMock, *int64) {
	var stored int64
	var ok bool
	peer := &PeerMock{
		LoadOffsetFunc: func(ctx context.Context) (int64, bool, error) {
			return stored, ok, nil
		},
		StoreOffsetFunc: func(ctx context.Context, o int64) error {
			stored, ok = o, true
			return nil
		},
		ExchangeFunc: func(ctx context.Context, req Request) (Reply, error) {
			return stamp(req, offset, 500), nil
		},
	}
	return peer, &stored
}

func TestRelayShiftsStamps(t *testing.T) {
	peer, stored := upstreamPeer(3000)
	upstream := NewSession(peer, WithClock(&tickClock{now: 1_000_000, step: 1000}))

	// the relay clock does not move while syncing upstream
	local := &tickClock{now: 10_000, step: 5}
	responder := NewRelay(local, Relay{
		Upstream: upstream,
		Config:   Config{Rounds: 2, MinSamples: 1},
	})

	reply, err := responder.AnswerClient(context.Background(), Request{T1: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), *stored)
	assert.Equal(t, Timestamp(42), reply.T1)
	assert.Equal(t, Timestamp(10_005+3000), reply.T2)
	assert.Equal(t, Timestamp(10_015+3000), reply.T3)
	assert.Len(t, peer.ExchangeCalls(), 2)
}

func TestRelaySyncsOnEveryAnswerWithoutMaxAge(t *testing.T) {
	peer, _ := upstreamPeer(100)
	upstream := NewSession(peer, WithClock(&tickClock{step: 1000}))
	responder := NewRelay(&tickClock{step: 1}, Relay{
		Upstream: upstream,
		Config:   Config{Rounds: 1, MinSamples: 1},
	})

	for range 3 {
		_, err := responder.AnswerClient(context.Background(), Request{T1: 1})
		require.NoError(t, err)
	}
	assert.Len(t, peer.ExchangeCalls(), 3)
}

func TestRelayReusesFreshOffset(t *testing.T) {
	peer, _ := upstreamPeer(100)
	upstream := NewSession(peer, WithClock(&tickClock{step: 1000}))
	local := &tickClock{step: 0}
	responder := NewRelay(local, Relay{
		Upstream: upstream,
		Config:   Config{Rounds: 1, MinSamples: 1},
		MaxAge:   time.Second,
	})

	for range 3 {
		reply, err := responder.AnswerClient(context.Background(), Request{T1: 1})
		require.NoError(t, err)
		assert.Equal(t, Timestamp(100), reply.T2)
	}
	assert.Len(t, peer.ExchangeCalls(), 1)

	local.now += Timestamp(time.Second.Microseconds())
	_, err := responder.AnswerClient(context.Background(), Request{T1: 1})
	require.NoError(t, err)
	assert.Len(t, peer.ExchangeCalls(), 2)
}

func TestRelayUpstreamFailure(t *testing.T) {
	unreachable := errors.New("upstream unreachable")
	peer := &PeerMock{
		LoadOffsetFunc: func(ctx context.Context) (int64, bool, error) { return 0, false, nil },
		StoreOffsetFunc: func(ctx context.Context, offset int64) error {
			t.Fatal("nothing should be stored")
			return nil
		},
		ExchangeFunc: func(ctx context.Context, req Request) (Reply, error) {
			return Reply{}, unreachable
		},
	}
	responder := NewRelay(&tickClock{step: 1}, Relay{
		Upstream: NewSession(peer, WithClock(&tickClock{step: 1})),
		Config:   Config{Rounds: 3, MinSamples: 1},
	})

	reply, err := responder.AnswerClient(context.Background(), Request{T1: 7})
	assert.True(t, err == unreachable)
	assert.Equal(t, Reply{}, reply)
}

func TestRelayUpstreamInsufficientSamples(t *testing.T) {
	peer, _ := upstreamPeer(0)
	peer.ExchangeFunc = func(ctx context.Context, req Request) (Reply, error) {
		reply := stamp(req, 0, 500)
		reply.T3 = reply.T2 - 1
		return reply, nil
	}
	responder := NewRelay(&tickClock{step: 1}, Relay{
		Upstream: NewSession(peer, WithClock(&tickClock{step: 1000})),
		Config:   Config{Rounds: 2, MinSamples: 1},
	})

	_, err := responder.AnswerClient(context.Background(), Request{T1: 7})
	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestRelaySyncUpstream(t *testing.T) {
	peer, stored := upstreamPeer(-250)
	responder := NewRelay(&tickClock{step: 1}, Relay{
		Upstream: NewSession(peer, WithClock(&tickClock{step: 1000})),
		Config:   Config{Rounds: 3, MinSamples: 2},
	})

	res, err := responder.SyncUpstream(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(-250), res.Offset)
	assert.Equal(t, int64(-250), *stored)
}

func TestRelaySharedClockMatchesUpstream(t *testing.T) {
	local := &tickClock{now: 50_000}
	authority := NewAuthority(OffsetClock{Base: local, Offset: 4000})

	var stored int64
	var ok bool
	peer := Funcs{
		LoadFunc: func(ctx context.Context) (int64, bool, error) { return stored, ok, nil },
		StoreFunc: func(ctx context.Context, offset int64) error {
			stored, ok = offset, true
			return nil
		},
		ExchangeFunc: authority.AnswerClient,
	}
	relay := NewRelay(local, Relay{
		Upstream: NewSession(peer, WithClock(local)),
		Config:   Config{Rounds: 2, MinSamples: 1},
	})

	reply, err := relay.AnswerClient(context.Background(), Request{T1: 9})
	require.NoError(t, err)
	upstream, err := authority.AnswerClient(context.Background(), Request{T1: 9})
	require.NoError(t, err)
	assert.Equal(t, upstream.T2, reply.T2)
	assert.Equal(t, upstream.T3, reply.T3)
}
