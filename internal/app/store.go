// ABOUTME: Offset store selection for the client and relay
// ABOUTME: Opens the memory, bolt or sqlite backend named in configuration
package app

import (
	"context"
	"fmt"

	"github.com/Resonate-Protocol/timesync-go/internal/config"
	"github.com/Resonate-Protocol/timesync-go/internal/store"
	"github.com/Resonate-Protocol/timesync-go/internal/store/boltdb"
	"github.com/Resonate-Protocol/timesync-go/internal/store/sqlite"
)

// OpenStore opens the backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	switch cfg.Driver {
	case "", store.DriverMemory:
		return store.NewMemory(), nil
	case store.DriverBolt:
		s, err := boltdb.New(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return s, nil
	case store.DriverSQLite:
		s, err := sqlite.New(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", store.ErrUnknownDriver, cfg.Driver)
}
