// ABOUTME: Tests for sync quality and drift tracking
// ABOUTME: Initialization, drift estimation, clock jumps and staleness
package tracker

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type fakeWall struct{ now time.Time }

func (f *fakeWall) Now() time.Time { return f.now }

func newTestTracker(wall *fakeWall) *Tracker {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(Options{Now: wall.Now, Logger: l})
}

func TestInitialState(t *testing.T) {
	tr := newTestTracker(&fakeWall{now: time.Unix(100, 0)})

	stats := tr.Stats()
	assert.Equal(t, QualityLost, stats.Quality)
	assert.Zero(t, stats.Samples)
	assert.Equal(t, timesync.Timestamp(1234), tr.Predict(1234))
	assert.Equal(t, QualityLost, tr.CheckQuality())
}

func TestFirstRecord(t *testing.T) {
	wall := &fakeWall{now: time.Unix(100, 0)}
	tr := newTestTracker(wall)

	tr.Record(1_000_000, timesync.Result{Offset: 5000, RoundTrip: 4500})

	stats := tr.Stats()
	assert.Equal(t, int64(5000), stats.Offset)
	assert.Equal(t, int64(4500), stats.RoundTrip)
	assert.Equal(t, QualityGood, stats.Quality)
	assert.Equal(t, 1, stats.Samples)
	assert.Equal(t, wall.now, stats.LastSync)
	assert.Equal(t, timesync.Timestamp(2_005_000), tr.Predict(2_000_000))
}

func TestDriftEstimation(t *testing.T) {
	tr := newTestTracker(&fakeWall{now: time.Unix(100, 0)})

	// offset grows by 10µs per second of local time: 10 ppm
	for i := int64(0); i < 10; i++ {
		tr.Record(timesync.Timestamp(i*1_000_000), timesync.Result{Offset: 1000 + i*10, RoundTrip: 800})
	}

	stats := tr.Stats()
	assert.InDelta(t, 10e-6, stats.Drift, 1e-9)
	assert.InDelta(t, 1090, stats.Offset, 1)
	// one second past the last sync adds another 10µs
	assert.InDelta(t, int64(10_000_000+1100), int64(tr.Predict(10_000_000)), 1)
}

func TestClockJumpResetsDrift(t *testing.T) {
	tr := newTestTracker(&fakeWall{now: time.Unix(100, 0)})
	tr.Record(0, timesync.Result{Offset: 0, RoundTrip: 100})
	tr.Record(1_000_000, timesync.Result{Offset: 10, RoundTrip: 100})
	tr.Record(2_000_000, timesync.Result{Offset: 20, RoundTrip: 100})

	tr.Record(3_000_000, timesync.Result{Offset: 900_000, RoundTrip: 100})

	stats := tr.Stats()
	assert.Equal(t, int64(900_000), stats.Offset)
	assert.Zero(t, stats.Drift)
	assert.Equal(t, 1, stats.Samples)
}

func TestNonMonotonicIgnored(t *testing.T) {
	tr := newTestTracker(&fakeWall{now: time.Unix(100, 0)})
	tr.Record(5_000_000, timesync.Result{Offset: 100, RoundTrip: 100})
	tr.Record(4_000_000, timesync.Result{Offset: 900, RoundTrip: 100})

	stats := tr.Stats()
	assert.Equal(t, int64(100), stats.Offset)
	assert.Equal(t, int64(900), stats.RawOffset)
	assert.Equal(t, 1, stats.Samples)
}

func TestQuality(t *testing.T) {
	wall := &fakeWall{now: time.Unix(100, 0)}
	tr := newTestTracker(wall)

	tr.Record(0, timesync.Result{RoundTrip: (60 * time.Millisecond).Microseconds()})
	assert.Equal(t, QualityDegraded, tr.CheckQuality())

	tr.Record(1_000_000, timesync.Result{RoundTrip: 900})
	assert.Equal(t, QualityGood, tr.CheckQuality())

	wall.now = wall.now.Add(2 * time.Minute)
	assert.Equal(t, QualityLost, tr.CheckQuality())
}

func TestRecordError(t *testing.T) {
	tr := newTestTracker(&fakeWall{now: time.Unix(100, 0)})
	boom := errors.New("unreachable")

	tr.RecordError(boom)
	stats := tr.Stats()
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, boom, stats.LastError)
	assert.Equal(t, QualityLost, stats.Quality)

	tr.Record(0, timesync.Result{RoundTrip: 100})
	tr.RecordError(boom)
	tr.RecordError(boom)
	stats = tr.Stats()
	assert.Equal(t, 2, stats.Failures)
	assert.Equal(t, QualityDegraded, stats.Quality)

	tr.Record(1_000_000, timesync.Result{RoundTrip: 100})
	stats = tr.Stats()
	assert.Zero(t, stats.Failures)
	assert.NoError(t, stats.LastError)
}

func TestQualityString(t *testing.T) {
	assert.Equal(t, "good", QualityGood.String())
	assert.Equal(t, "degraded", QualityDegraded.String())
	assert.Equal(t, "lost", QualityLost.String())
}
