// ABOUTME: Offset estimators reducing a sample set to one offset
// ABOUTME: Minimum round-trip selection plus the inlier-mean alternative
package timesync

import (
	"math"
	"slices"
)

// Estimator reduces a non-empty sample set to a single offset in
// microseconds. Implementations must be pure and order-independent.
type Estimator func(samples []Sample) int64

// Reduce returns the offset of the sample with the smallest round trip.
// It panics if samples is empty.
func Reduce(samples []Sample) int64 {
	return Best(samples).Offset
}

// MinRoundTrip is the default Estimator.
var MinRoundTrip Estimator = Reduce

// Best returns the sample with the smallest round trip. Ties go to the sample
// collected last. It panics if samples is empty.
func Best(samples []Sample) Sample {
	if len(samples) == 0 {
		panic("timesync: Best called with no samples")
	}
	best := samples[0]
	for _, s := range samples[1:] {
		if s.RoundTrip < best.RoundTrip || (s.RoundTrip == best.RoundTrip && s.Round >= best.Round) {
			best = s
		}
	}
	return best
}

// InlierMean averages the offsets that lie within one standard deviation of
// the median, after sorting by round trip. With an even number of samples the
// earliest one is dropped first, since it usually carries connection setup.
// Fewer than three samples fall back to Reduce.
func InlierMean(samples []Sample) int64 {
	if len(samples) < 3 {
		return Reduce(samples)
	}

	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b Sample) int {
		return a.Round - b.Round
	})
	if len(sorted)%2 == 0 {
		sorted = sorted[1:]
	}
	slices.SortStableFunc(sorted, func(a, b Sample) int {
		switch {
		case a.RoundTrip < b.RoundTrip:
			return -1
		case a.RoundTrip > b.RoundTrip:
			return 1
		}
		return 0
	})

	median := float64(sorted[len(sorted)/2].Offset)

	var sum float64
	for _, s := range sorted {
		sum += float64(s.Offset)
	}
	mean := sum / float64(len(sorted))

	var variance float64
	for _, s := range sorted {
		d := float64(s.Offset) - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(sorted)-1))

	var inSum float64
	var inCount int
	for _, s := range sorted {
		v := float64(s.Offset)
		if v >= median-stddev && v <= median+stddev {
			inSum += v
			inCount++
		}
	}
	// the median itself is always an inlier, so inCount >= 1
	return int64(math.Round(inSum / float64(inCount)))
}
