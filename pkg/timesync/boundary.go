// ABOUTME: Sans-io capability interfaces injected by the embedding application
// ABOUTME: Offset load/store, probe exchange, and adapters to compose them
package timesync

import "context"

//go:generate moq -out peer_mock_test.go . Peer

// OffsetStore persists the current offset. The core never interprets the
// errors it returns.
type OffsetStore interface {
	// LoadOffset returns the stored offset in microseconds. ok is false when
	// nothing has been stored yet.
	LoadOffset(ctx context.Context) (offset int64, ok bool, err error)

	// StoreOffset replaces the stored offset.
	StoreOffset(ctx context.Context, offset int64) error
}

// Exchanger sends one probe request to the remote side and returns its
// stamped reply. It should add as little latency as possible.
type Exchanger interface {
	Exchange(ctx context.Context, req Request) (Reply, error)
}

// Peer bundles the three capabilities a Session needs.
type Peer interface {
	OffsetStore
	Exchanger
}

// Funcs adapts three plain functions to Peer. A nil function fails with
// ErrNoUpstreamConfigured for Exchange and reports "nothing stored" for
// LoadOffset; a nil StoreFunc discards the offset.
type Funcs struct {
	LoadFunc     func(ctx context.Context) (int64, bool, error)
	StoreFunc    func(ctx context.Context, offset int64) error
	ExchangeFunc func(ctx context.Context, req Request) (Reply, error)
}

func (f Funcs) LoadOffset(ctx context.Context) (int64, bool, error) {
	if f.LoadFunc == nil {
		return 0, false, nil
	}
	return f.LoadFunc(ctx)
}

func (f Funcs) StoreOffset(ctx context.Context, offset int64) error {
	if f.StoreFunc == nil {
		return nil
	}
	return f.StoreFunc(ctx, offset)
}

func (f Funcs) Exchange(ctx context.Context, req Request) (Reply, error) {
	if f.ExchangeFunc == nil {
		return Reply{}, ErrNoUpstreamConfigured
	}
	return f.ExchangeFunc(ctx, req)
}

// Join combines a store and a transport into a Peer.
func Join(store OffsetStore, ex Exchanger) Peer {
	return joined{OffsetStore: store, Exchanger: ex}
}

type joined struct {
	OffsetStore
	Exchanger
}

// NoUpstream is an Exchanger for hosts that have nothing to synchronize
// against. Every exchange fails immediately with ErrNoUpstreamConfigured.
type NoUpstream struct{}

func (NoUpstream) Exchange(context.Context, Request) (Reply, error) {
	return Reply{}, ErrNoUpstreamConfigured
}
