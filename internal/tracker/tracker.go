// ABOUTME: Sync quality and drift tracking across successive sync attempts
// ABOUTME: Smooths stored offsets and estimates the clock frequency difference
package tracker

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/sirupsen/logrus"
)

// Quality represents sync quality
type Quality int

const (
	QualityLost Quality = iota
	QualityGood
	QualityDegraded
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// Options tune the tracker. Zero values take the defaults.
type Options struct {
	// SmoothingRate is the weight given to a new residual. Default 0.1.
	SmoothingRate float64

	// StaleAfter marks quality lost when no sync succeeded for this long.
	// Default 1m.
	StaleAfter time.Duration

	// DegradedRoundTrip marks quality degraded at or above this round trip.
	// Default 50ms.
	DegradedRoundTrip time.Duration

	// MaxResidual discards results this far from the drift prediction as
	// clock jumps. Default 50ms.
	MaxResidual time.Duration

	// Now reads wall time for staleness. Default time.Now.
	Now func() time.Time

	Logger logrus.FieldLogger
}

// Stats is a point-in-time view of the tracker.
type Stats struct {
	Offset    int64   // smoothed offset, µs
	RawOffset int64   // last stored offset, µs
	Drift     float64 // µs of offset change per µs of local time
	RoundTrip int64   // µs
	Quality   Quality
	Samples   int
	Failures  int // consecutive failed attempts
	LastSync  time.Time
	LastError error
}

// Tracker follows the results of repeated sync attempts
type Tracker struct {
	opts Options
	log  logrus.FieldLogger

	mu             sync.RWMutex
	offset         int64
	rawOffset      int64
	drift          float64
	rtt            int64
	quality        Quality
	lastSync       time.Time
	lastSyncMicros int64 // local time when offset/drift were last updated
	sampleCount    int
	failures       int
	lastErr        error
}

// New creates a tracker
func New(opts Options) *Tracker {
	if opts.SmoothingRate <= 0 || opts.SmoothingRate > 1 {
		opts.SmoothingRate = 0.1
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Minute
	}
	if opts.DegradedRoundTrip <= 0 {
		opts.DegradedRoundTrip = 50 * time.Millisecond
	}
	if opts.MaxResidual <= 0 {
		opts.MaxResidual = 50 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{opts: opts, log: log, quality: QualityLost}
}

// Record folds in a successful sync finished at local time at
func (t *Tracker) Record(at timesync.Timestamp, res timesync.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := at.Micros()
	measured := res.Offset

	t.rtt = res.RoundTrip
	t.rawOffset = measured
	t.lastSync = t.opts.Now()
	t.failures = 0
	t.lastErr = nil
	t.quality = t.qualityFor(res.RoundTrip)

	// First sync: initialize offset, no drift yet
	if t.sampleCount == 0 {
		t.offset = measured
		t.lastSyncMicros = now
		t.sampleCount++
		t.log.WithFields(logrus.Fields{"offset_us": measured, "rtt_us": res.RoundTrip}).Debug("Initial sync")
		return
	}

	dt := float64(now - t.lastSyncMicros)
	if dt <= 0 {
		t.log.Debug("Discarding sync result: non-monotonic time")
		return
	}

	// Second sync: calculate initial drift
	if t.sampleCount == 1 {
		t.drift = float64(measured-t.offset) / dt
		t.offset = measured
		t.lastSyncMicros = now
		t.sampleCount++
		t.log.WithField("drift", t.drift).Debug("Drift initialized")
		return
	}

	// Subsequent syncs: predict offset using drift, then update both
	predicted := t.offset + int64(t.drift*dt)
	residual := measured - predicted

	if abs(residual) > t.opts.MaxResidual.Microseconds() {
		// a step this large is a clock jump; restart from the new offset
		t.log.WithField("residual_us", residual).Warn("Offset jumped, resetting drift")
		t.offset = measured
		t.drift = 0
		t.lastSyncMicros = now
		t.sampleCount = 1
		return
	}

	t.offset = predicted + int64(t.opts.SmoothingRate*float64(residual))
	t.drift += t.opts.SmoothingRate * float64(residual) / dt
	t.lastSyncMicros = now
	t.sampleCount++

	t.log.WithFields(logrus.Fields{
		"offset_us":   t.offset,
		"drift":       t.drift,
		"residual_us": residual,
	}).Debug("Tracker updated")
}

// RecordError notes a failed attempt
func (t *Tracker) RecordError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
	t.lastErr = err
	if t.sampleCount > 0 {
		t.quality = QualityDegraded
	}
}

func (t *Tracker) qualityFor(rtt int64) Quality {
	if rtt < t.opts.DegradedRoundTrip.Microseconds() {
		return QualityGood
	}
	return QualityDegraded
}

// CheckQuality updates quality based on time since last sync
func (t *Tracker) CheckQuality() Quality {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastSync.IsZero() || t.opts.Now().Sub(t.lastSync) > t.opts.StaleAfter {
		t.quality = QualityLost
	}
	return t.quality
}

// Stats returns sync statistics
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		Offset:    t.offset,
		RawOffset: t.rawOffset,
		Drift:     t.drift,
		RoundTrip: t.rtt,
		Quality:   t.quality,
		Samples:   t.sampleCount,
		Failures:  t.failures,
		LastSync:  t.lastSync,
		LastError: t.lastErr,
	}
}

// Predict maps a local timestamp into the server's reference frame using
// the smoothed offset and drift. Before any sync it returns local unchanged.
func (t *Tracker) Predict(local timesync.Timestamp) timesync.Timestamp {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.sampleCount == 0 {
		return local
	}
	dt := local.Micros() - t.lastSyncMicros
	return local + timesync.Timestamp(t.offset+int64(t.drift*float64(dt)))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
