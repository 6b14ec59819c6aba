// ABOUTME: Offset persistence contracts shared by all store backends
// ABOUTME: Store interface, history records and common errors
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
)

// Driver names accepted in configuration.
const (
	DriverMemory = "memory"
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
)

var (
	// ErrUnknownDriver indicates a driver name that no backend implements.
	ErrUnknownDriver = errors.New("unknown store driver")

	// ErrStoreClosed indicates use of a store after Close.
	ErrStoreClosed = errors.New("store is closed")
)

// Store is an offset store that owns a resource.
type Store interface {
	timesync.OffsetStore
	Close() error
}

// Record is one stored offset with the time it was stored.
type Record struct {
	Offset   int64
	StoredAt time.Time
}

// HistoryStore is implemented by stores that keep past offsets.
type HistoryStore interface {
	Store
	History(ctx context.Context, limit int) ([]Record, error)
}
