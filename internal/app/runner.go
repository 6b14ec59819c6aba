// ABOUTME: Sync client application orchestration
// ABOUTME: Coordinates discovery, transport, store, periodic sync, tracker and UI
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/config"
	"github.com/Resonate-Protocol/timesync-go/internal/discovery"
	"github.com/Resonate-Protocol/timesync-go/internal/metrics"
	"github.com/Resonate-Protocol/timesync-go/internal/reference"
	"github.com/Resonate-Protocol/timesync-go/internal/store"
	"github.com/Resonate-Protocol/timesync-go/internal/tracker"
	"github.com/Resonate-Protocol/timesync-go/internal/ui"
	"github.com/Resonate-Protocol/timesync-go/pkg/protocol"
	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Runner keeps a client's offset fresh by syncing on an interval.
type Runner struct {
	cfg     config.Config
	log     logrus.FieldLogger
	clock   timesync.Clock
	metrics *metrics.Metrics
	tracker *tracker.Tracker

	store     store.Store
	transport *Transport
	session   *timesync.Session

	// flight collapses overlapping triggers; mu keeps sessions on one
	// store strictly sequential.
	flight   singleflight.Group
	mu       sync.Mutex
	attempts int

	control *ui.Control
	tuiProg *tea.Program

	metricsSrv *http.Server
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Default: the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = l }
}

// WithMetrics records sync outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock replaces the system clock.
func WithClock(c timesync.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithStore uses s instead of opening the configured store.
func WithStore(s store.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithTransport uses t instead of dialing the configured server.
func WithTransport(t *Transport) Option {
	return func(r *Runner) { r.transport = t }
}

// New creates a runner. Nothing is opened until Connect.
func New(cfg config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.clock == nil {
		r.clock = timesync.SystemClock()
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	r.tracker = tracker.New(tracker.Options{
		StaleAfter:        cfg.Client.StaleAfter,
		DegradedRoundTrip: cfg.Client.DegradedAbove,
		Logger:            r.log,
	})
	return r
}

// Connect opens the store, resolves the server and dials it.
func (r *Runner) Connect(ctx context.Context) error {
	if r.store == nil {
		s, err := OpenStore(ctx, r.cfg.Store)
		if err != nil {
			return err
		}
		r.store = s
	}

	if r.transport == nil {
		addr, err := r.resolve(ctx)
		if err != nil {
			return err
		}
		t, err := Dial(ctx, r.cfg.Client.Transport, addr, r.cfg.Client.Name, r.clock, r.log)
		if err != nil {
			return err
		}
		r.transport = t
	}

	r.session = timesync.NewSession(
		timesync.Join(r.store, r.transport.Exchanger),
		timesync.WithClock(r.clock),
		timesync.WithEstimator(r.cfg.Estimator()),
		timesync.WithLogger(r.log),
	)

	r.log.WithFields(logrus.Fields{
		"server":    r.transport.Server,
		"role":      r.transport.Role,
		"transport": r.transport.Kind,
	}).Info("Connected")

	connected := true
	r.sendStatus(ui.StatusMsg{
		Connected:  &connected,
		ServerName: r.transport.Server,
		Role:       r.transport.Role,
		Transport:  r.transport.Kind,
	})
	return nil
}

// resolve returns the configured server address, falling back to mDNS.
func (r *Runner) resolve(ctx context.Context) (string, error) {
	if r.cfg.Client.Server != "" {
		return r.cfg.Client.Server, nil
	}
	if r.cfg.Client.Transport == config.TransportNTP {
		return reference.DefaultHost, nil
	}

	r.log.Info("No server configured, browsing mDNS")
	mgr := discovery.NewManager(discovery.Config{
		ServiceName: r.cfg.Client.Name,
		Path:        protocol.WebSocketPath,
		Logger:      r.log,
	})
	defer mgr.Stop()

	info, err := mgr.Lookup(ctx, r.cfg.Client.DiscoverFor)
	if err != nil {
		return "", fmt.Errorf("discover server: %w", err)
	}
	r.log.WithFields(logrus.Fields{"server": info.Name, "addr": info.Addr()}).Info("Discovered server")
	return info.Addr(), nil
}

// SyncOnce runs one sync session. Concurrent calls share one session.
func (r *Runner) SyncOnce(ctx context.Context) (timesync.Result, error) {
	if r.session == nil {
		return timesync.Result{}, errors.New("runner not connected")
	}

	v, err, _ := r.flight.Do("sync", func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.attempt(ctx)
	})
	res, _ := v.(timesync.Result)
	return res, err
}

func (r *Runner) attempt(ctx context.Context) (timesync.Result, error) {
	r.attempts++
	res, err := r.session.AttemptSync(ctx, r.cfg.SessionConfig())
	r.metrics.ObserveSync(res, err)

	if err != nil {
		r.tracker.RecordError(err)
		r.log.WithError(err).Warn("Sync failed")
	} else {
		r.tracker.Record(r.clock.Now(), res)
	}

	stats := r.tracker.Stats()
	r.sendStatus(ui.StatusMsg{
		Stats:    &stats,
		Samples:  len(res.Samples),
		Rejected: res.Rejected,
		Attempts: r.attempts,
	})
	return res, err
}

// ServerNow maps the local clock into the server's time using the tracked
// offset and drift.
func (r *Runner) ServerNow() timesync.Timestamp {
	return r.tracker.Predict(r.clock.Now())
}

// Stats returns the tracker's view of the sync state.
func (r *Runner) Stats() tracker.Stats {
	return r.tracker.Stats()
}

// Run syncs immediately and then on every interval until ctx is done or the
// TUI quits. Failed attempts are logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	if r.session == nil {
		return errors.New("runner not connected")
	}

	var syncNow, quit <-chan struct{}
	if r.control != nil {
		syncNow, quit = r.control.SyncNow, r.control.Quit
	}

	ticker := time.NewTicker(r.cfg.Client.Interval)
	defer ticker.Stop()

	_, _ = r.SyncOnce(ctx)
	for {
		select {
		case <-ticker.C:
			r.tracker.CheckQuality()
			_, _ = r.SyncOnce(ctx)
		case <-syncNow:
			_, _ = r.SyncOnce(ctx)
		case <-quit:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Start connects, starts the optional TUI and metrics endpoint, and runs
// until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	if r.cfg.Client.TUI {
		r.control = ui.NewControl()
		r.tuiProg = ui.Run(r.control)
		go func() {
			if _, err := r.tuiProg.Run(); err != nil {
				r.log.WithError(err).Error("TUI exited")
			}
			select {
			case r.control.Quit <- struct{}{}:
			default:
			}
		}()
	}

	if r.cfg.Client.MetricsAddr != "" {
		r.metricsSrv = &http.Server{Addr: r.cfg.Client.MetricsAddr, Handler: r.metrics.Handler()}
		go func() {
			if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.log.WithError(err).Error("Metrics endpoint failed")
			}
		}()
	}

	if err := r.Connect(ctx); err != nil {
		r.Stop()
		return err
	}
	defer r.Stop()

	return r.Run(ctx)
}

// Stop releases the transport, store, TUI and metrics endpoint.
func (r *Runner) Stop() {
	if r.transport != nil {
		r.transport.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.log.WithError(err).Warn("Failed to close store")
		}
	}
	if r.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = r.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if r.tuiProg != nil {
		r.tuiProg.Quit()
	}
}

func (r *Runner) sendStatus(msg ui.StatusMsg) {
	if r.tuiProg != nil {
		r.tuiProg.Send(msg)
	}
}
