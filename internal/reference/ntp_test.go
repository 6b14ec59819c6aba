// ABOUTME: Tests for the NTP reference clock and exchanger
// ABOUTME: Uses canned NTP responses instead of the network
package reference

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/beevik/ntp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func cannedResponse(offset time.Duration) *ntp.Response {
	now := time.Now()
	return &ntp.Response{
		Time:          now,
		ReferenceTime: now.Add(-time.Minute),
		Stratum:       2,
		ClockOffset:   offset,
		RTT:           3 * time.Millisecond,
	}
}

func fixedQuery(resp *ntp.Response, err error) QueryFunc {
	return func(host string) (*ntp.Response, error) { return resp, err }
}

type stepClock struct {
	now  atomic.Int64
	step int64
}

func (c *stepClock) Now() timesync.Timestamp {
	return timesync.Timestamp(c.now.Add(c.step))
}

func TestNTPClockRefresh(t *testing.T) {
	base := timesync.ClockFunc(func() timesync.Timestamp { return 1_000_000 })
	clock := NewNTPClock("ntp.test",
		WithBase(base),
		WithQuery(fixedQuery(cannedResponse(2500*time.Microsecond), nil)),
		WithLogger(quietLogger()),
	)

	assert.Equal(t, timesync.Timestamp(1_000_000), clock.Now())
	_, at := clock.Offset()
	assert.True(t, at.IsZero())

	require.NoError(t, clock.Refresh(context.Background()))
	assert.Equal(t, timesync.Timestamp(1_002_500), clock.Now())

	offset, at := clock.Offset()
	assert.Equal(t, int64(2500), offset)
	assert.False(t, at.IsZero())
}

func TestNTPClockKeepsOffsetOnFailure(t *testing.T) {
	var fail atomic.Bool
	q := func(host string) (*ntp.Response, error) {
		if fail.Load() {
			return nil, errors.New("i/o timeout")
		}
		return cannedResponse(-time.Millisecond), nil
	}
	clock := NewNTPClock("ntp.test",
		WithBase(timesync.ClockFunc(func() timesync.Timestamp { return 0 })),
		WithQuery(q),
		WithLogger(quietLogger()),
	)

	require.NoError(t, clock.Refresh(context.Background()))
	fail.Store(true)
	assert.Error(t, clock.Refresh(context.Background()))
	assert.Equal(t, timesync.Timestamp(-1000), clock.Now())
}

func TestNTPClockRejectsInvalidResponse(t *testing.T) {
	resp := cannedResponse(time.Second)
	resp.Stratum = 0

	clock := NewNTPClock("ntp.test", WithQuery(fixedQuery(resp, nil)), WithLogger(quietLogger()))
	assert.Error(t, clock.Refresh(context.Background()))
	offset, _ := clock.Offset()
	assert.Zero(t, offset)
}

func TestNTPClockRefreshHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	q := func(host string) (*ntp.Response, error) {
		<-block
		return nil, errors.New("unblocked")
	}
	clock := NewNTPClock("", WithQuery(q), WithLogger(quietLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, clock.Refresh(ctx), context.DeadlineExceeded)
	assert.Equal(t, DefaultHost, clock.host)
}

func TestNTPExchangerDrivesSession(t *testing.T) {
	// every clock read advances 1ms: t1, then the exchanger's own read, then t4
	base := &stepClock{step: 1000}
	ex := NewNTPExchanger("ntp.test",
		WithBase(base),
		WithQuery(fixedQuery(cannedResponse(-7*time.Millisecond), nil)),
	)

	session := timesync.NewSession(timesync.Join(timesync.Funcs{}, ex), timesync.WithClock(base))
	res, err := session.AttemptSync(context.Background(), timesync.Config{Rounds: 3, MinSamples: 3})
	require.NoError(t, err)

	// the query itself spans t1 to the exchanger's read; the 1ms between
	// that read and t4 shifts the estimate by half of it
	assert.Equal(t, int64(2000), res.RoundTrip)
	assert.InDelta(t, -7000, res.Offset, 500)
	assert.Equal(t, int64(-7500), res.Offset)
}

func TestNTPExchangerExactWithoutReturnOverhead(t *testing.T) {
	// the clock only moves during the query, so nothing elapses after the
	// exchanger's read and the NTP offset comes back unchanged
	var now atomic.Int64
	clock := timesync.ClockFunc(func() timesync.Timestamp { return timesync.Timestamp(now.Load()) })
	q := func(host string) (*ntp.Response, error) {
		now.Add(4000)
		return cannedResponse(12 * time.Millisecond), nil
	}
	ex := NewNTPExchanger("ntp.test", WithBase(clock), WithQuery(q))

	session := timesync.NewSession(timesync.Join(timesync.Funcs{}, ex), timesync.WithClock(clock))
	res, err := session.AttemptSync(context.Background(), timesync.Config{Rounds: 2, MinSamples: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(12_000), res.Offset)
	assert.Equal(t, int64(4000), res.RoundTrip)
}

func TestNTPExchangerError(t *testing.T) {
	boom := errors.New("no route to host")
	ex := NewNTPExchanger("ntp.test", WithQuery(fixedQuery(nil, boom)))

	_, err := ex.Exchange(context.Background(), timesync.Request{T1: 1})
	assert.ErrorIs(t, err, boom)
}
