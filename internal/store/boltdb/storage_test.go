package boltdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Resonate-Protocol/timesync-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func createTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "offset_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadOffset_Empty(t *testing.T) {
	s := createTestStorage(t)

	offset, ok, err := s.LoadOffset(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, offset)
}

func TestStoreAndLoadOffset(t *testing.T) {
	ctx := context.Background()
	s := createTestStorage(t)

	for _, want := range []int64{1500, -250000, 0} {
		require.NoError(t, s.StoreOffset(ctx, want))

		got, ok, err := s.LoadOffset(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	at, err := s.UpdatedAt(ctx)
	require.NoError(t, err)
	assert.False(t, at.IsZero())
}

func TestOffsetSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.StoreOffset(ctx, 4242))
	require.NoError(t, s.Close())

	s, err = New(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.LoadOffset(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4242), got)
}

func TestLoadOffset_BucketMissing(t *testing.T) {
	s := createTestStorage(t)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket(bucketOffsets)
	})
	require.NoError(t, err)

	_, _, err = s.LoadOffset(context.Background())
	assert.Error(t, err)
}

func TestClosedStorage(t *testing.T) {
	s := createTestStorage(t)
	require.NoError(t, s.Close())

	_, _, err := s.LoadOffset(context.Background())
	assert.ErrorIs(t, err, store.ErrStoreClosed)
	assert.ErrorIs(t, s.StoreOffset(context.Background(), 1), store.ErrStoreClosed)
}
