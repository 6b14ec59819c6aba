package timesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReducePicksMinimumRoundTrip(t *testing.T) {
	samples := []Sample{
		{Round: 0, Offset: 900, RoundTrip: 4000},
		{Round: 1, Offset: 120, RoundTrip: 800},
		{Round: 2, Offset: -50, RoundTrip: 2500},
		{Round: 3, Offset: 400, RoundTrip: 1200},
	}

	assert.Equal(t, int64(120), Reduce(samples))
	assert.Equal(t, 1, Best(samples).Round)
}

func TestReduceTieGoesToLatest(t *testing.T) {
	samples := []Sample{
		{Round: 0, Offset: 10, RoundTrip: 300},
		{Round: 2, Offset: 30, RoundTrip: 300},
		{Round: 1, Offset: 20, RoundTrip: 300},
		{Round: 3, Offset: 40, RoundTrip: 900},
	}

	assert.Equal(t, int64(30), Reduce(samples))
}

func TestReduceIsOrderIndependent(t *testing.T) {
	a := []Sample{
		{Round: 0, Offset: 1, RoundTrip: 50},
		{Round: 1, Offset: 2, RoundTrip: 40},
		{Round: 2, Offset: 3, RoundTrip: 40},
	}
	b := []Sample{a[2], a[0], a[1]}

	assert.Equal(t, Reduce(a), Reduce(b))
	assert.Equal(t, int64(3), Reduce(b))
}

func TestReduceSingleSample(t *testing.T) {
	assert.Equal(t, int64(-7), Reduce([]Sample{{Offset: -7, RoundTrip: 10}}))
}

func TestBestPanicsOnEmpty(t *testing.T) {
	assert.Panics(t, func() { Best(nil) })
}

func TestInlierMean(t *testing.T) {
	t.Run("drops outlier", func(t *testing.T) {
		samples := []Sample{
			{Round: 0, Offset: 1000, RoundTrip: 100},
			{Round: 1, Offset: 1002, RoundTrip: 110},
			{Round: 2, Offset: 998, RoundTrip: 120},
			{Round: 3, Offset: 1001, RoundTrip: 130},
			{Round: 4, Offset: 9000, RoundTrip: 5000},
		}
		got := InlierMean(samples)
		assert.InDelta(t, 1000, got, 2)
	})

	t.Run("even count drops earliest", func(t *testing.T) {
		samples := []Sample{
			{Round: 0, Offset: 50_000, RoundTrip: 1},
			{Round: 1, Offset: 10, RoundTrip: 100},
			{Round: 2, Offset: 10, RoundTrip: 110},
			{Round: 3, Offset: 10, RoundTrip: 120},
		}
		assert.Equal(t, int64(10), InlierMean(samples))
	})

	t.Run("falls back below three samples", func(t *testing.T) {
		samples := []Sample{
			{Round: 0, Offset: 5, RoundTrip: 30},
			{Round: 1, Offset: 8, RoundTrip: 20},
		}
		assert.Equal(t, int64(8), InlierMean(samples))
	})
}
