package store

import (
	"context"
	"testing"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ timesync.OffsetStore = (*Memory)(nil)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.LoadOffset(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.StoreOffset(ctx, -12))
	offset, ok, err := m.LoadOffset(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(-12), offset)
	assert.Equal(t, 1, m.Stores())
}

func TestNewMemoryWith(t *testing.T) {
	m := NewMemoryWith(900)

	offset, ok, err := m.LoadOffset(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(900), offset)
	assert.Zero(t, m.Stores())
}
