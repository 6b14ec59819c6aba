// ABOUTME: NTP-disciplined reference clock and NTP-backed probe exchanger
// ABOUTME: Lets an authority stamp with NTP time or a session sync against NTP
package reference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/beevik/ntp"
	"github.com/sirupsen/logrus"
)

// DefaultHost is queried when no host is configured.
const DefaultHost = "pool.ntp.org"

// QueryFunc performs one NTP query. ntp.Query satisfies it.
type QueryFunc func(host string) (*ntp.Response, error)

// query runs q on its own goroutine so callers can give up on ctx. The NTP
// library applies its own socket timeout, so the goroutine always ends.
func query(ctx context.Context, q QueryFunc, host string) (*ntp.Response, error) {
	type result struct {
		resp *ntp.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := q(host)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("ntp query %s: %w", host, r.err)
		}
		if err := r.resp.Validate(); err != nil {
			return nil, fmt.Errorf("ntp response from %s: %w", host, err)
		}
		return r.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NTPClock is a timesync.Clock reading the local clock corrected by the
// last NTP offset. Until the first successful Refresh it reads the local
// clock unchanged.
type NTPClock struct {
	host  string
	query QueryFunc
	base  timesync.Clock
	log   logrus.FieldLogger

	mu        sync.RWMutex
	offset    int64
	refreshed time.Time
}

// Option configures an NTPClock or NTPExchanger.
type Option func(*options)

type options struct {
	query QueryFunc
	base  timesync.Clock
	log   logrus.FieldLogger
}

// WithQuery replaces ntp.Query.
func WithQuery(q QueryFunc) Option {
	return func(o *options) { o.query = q }
}

// WithBase sets the local clock being corrected. Default: timesync.SystemClock().
func WithBase(c timesync.Clock) Option {
	return func(o *options) { o.base = c }
}

// WithLogger sets the logger. Default: the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{query: ntp.Query}
	for _, opt := range opts {
		opt(&o)
	}
	if o.base == nil {
		o.base = timesync.SystemClock()
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	return o
}

// NewNTPClock returns a clock disciplined against host.
func NewNTPClock(host string, opts ...Option) *NTPClock {
	if host == "" {
		host = DefaultHost
	}
	o := buildOptions(opts)
	return &NTPClock{
		host:  host,
		query: o.query,
		base:  o.base,
		log:   o.log.WithField("ntp_host", host),
	}
}

func (c *NTPClock) Now() timesync.Timestamp {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()
	return c.base.Now() + timesync.Timestamp(offset)
}

// Offset returns the correction applied and when it was obtained. The time
// is zero before the first successful Refresh.
func (c *NTPClock) Offset() (int64, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset, c.refreshed
}

// Refresh queries the NTP host once and adopts its offset. A failed query
// leaves the previous offset in place.
func (c *NTPClock) Refresh(ctx context.Context) error {
	resp, err := query(ctx, c.query, c.host)
	if err != nil {
		c.log.WithError(err).Warn("NTP refresh failed")
		return err
	}

	offset := resp.ClockOffset.Microseconds()
	c.mu.Lock()
	c.offset = offset
	c.refreshed = time.Now()
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"offset_us": offset,
		"rtt":       resp.RTT,
		"stratum":   resp.Stratum,
	}).Info("NTP offset refreshed")
	return nil
}

// Run refreshes every interval until ctx ends.
func (c *NTPClock) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// failures are logged by Refresh
		_ = c.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// NTPExchanger answers probes from an NTP server so a session or relay can
// sync against NTP directly. The reply places the server instant at the
// midpoint between the request and the exchanger's own clock read after the
// query. The session reads t4 later still, so its estimate equals the NTP
// offset minus half the time spent between that read and t4; the round trip
// it reports covers the whole query.
type NTPExchanger struct {
	host  string
	query QueryFunc
	clock timesync.Clock
}

// NewNTPExchanger returns an exchanger querying host. WithBase must be the
// same clock the session reads.
func NewNTPExchanger(host string, opts ...Option) *NTPExchanger {
	if host == "" {
		host = DefaultHost
	}
	o := buildOptions(opts)
	return &NTPExchanger{host: host, query: o.query, clock: o.base}
}

func (e *NTPExchanger) Exchange(ctx context.Context, req timesync.Request) (timesync.Reply, error) {
	resp, err := query(ctx, e.query, e.host)
	if err != nil {
		return timesync.Reply{}, err
	}
	done := e.clock.Now()

	// the server instant is taken as the midpoint of the local exchange
	mid := req.T1 + (done-req.T1)/2
	stamp := mid + timesync.Timestamp(resp.ClockOffset.Microseconds())
	return timesync.Reply{T1: req.T1, T2: stamp, T3: stamp}, nil
}
