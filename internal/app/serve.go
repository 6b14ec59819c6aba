// ABOUTME: Server application wiring
// ABOUTME: Builds an authority or relay responder and runs the probe server
package app

import (
	"context"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/config"
	"github.com/Resonate-Protocol/timesync-go/internal/metrics"
	"github.com/Resonate-Protocol/timesync-go/internal/reference"
	"github.com/Resonate-Protocol/timesync-go/internal/server"
	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/sirupsen/logrus"
)

// ReferenceRefresh is how often an NTP reference clock is re-queried.
const ReferenceRefresh = time.Minute

// Node is a responder together with the resources it holds.
type Node struct {
	Responder *timesync.Responder
	Clock     timesync.Clock

	closers []func()
}

// Close releases the upstream transport, store and reference refresher.
func (n *Node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	n.closers = nil
}

// BuildResponder creates the responder described by cfg.Server: an
// authority when no upstream is configured, a relay otherwise. clock may be
// nil for the system clock.
func BuildResponder(ctx context.Context, cfg config.Config, clock timesync.Clock, log logrus.FieldLogger) (*Node, error) {
	node := &Node{Clock: clock}
	if node.Clock == nil {
		node.Clock = timesync.SystemClock()
	}

	if cfg.Server.ReferenceNTP != "" {
		ref := reference.NewNTPClock(cfg.Server.ReferenceNTP,
			reference.WithBase(node.Clock),
			reference.WithLogger(log))
		// until the first query succeeds the reference reads the local clock
		refCtx, cancel := context.WithCancel(context.Background())
		go ref.Run(refCtx, ReferenceRefresh)
		node.closers = append(node.closers, cancel)
		node.Clock = ref
	}

	if cfg.Server.Upstream == "" {
		node.Responder = timesync.NewAuthority(node.Clock)
		return node, nil
	}

	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		node.Close()
		return nil, err
	}
	node.closers = append(node.closers, func() {
		if err := st.Close(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	})

	t, err := Dial(ctx, cfg.Server.UpstreamTransport, cfg.Server.Upstream, cfg.Server.Name, node.Clock, log)
	if err != nil {
		node.Close()
		return nil, err
	}
	node.closers = append(node.closers, t.Close)

	upstream := timesync.NewSession(
		timesync.Join(st, t.Exchanger),
		timesync.WithClock(node.Clock),
		timesync.WithEstimator(cfg.Estimator()),
		timesync.WithLogger(log.WithField("upstream", cfg.Server.Upstream)),
	)
	node.Responder = timesync.NewRelay(node.Clock, timesync.Relay{
		Upstream: upstream,
		Config:   cfg.SessionConfig(),
		MaxAge:   cfg.Server.UpstreamMaxAge,
	})
	return node, nil
}

// Serve runs the probe server until ctx is done or the server stops.
func Serve(ctx context.Context, cfg config.Config, log logrus.FieldLogger) error {
	node, err := BuildResponder(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer node.Close()

	srv := server.New(server.Config{
		Port:             cfg.Server.Port,
		Name:             cfg.Server.Name,
		EnableMDNS:       cfg.Server.MDNS,
		UseTUI:           cfg.Server.TUI,
		ProbeRate:        cfg.Server.ProbeRate,
		ProbeBurst:       cfg.Server.ProbeBurst,
		UpstreamInterval: cfg.Server.UpstreamInterval,
	}, node.Responder, server.WithMetrics(metrics.New()), server.WithLogger(log))

	stop := context.AfterFunc(ctx, srv.Stop)
	defer stop()

	return srv.Start()
}
