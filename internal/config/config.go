// ABOUTME: YAML configuration for the serve and sync commands
// ABOUTME: Defaults, file loading and validation of every section
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/store"
	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"gopkg.in/yaml.v3"
)

// Transports a sync client can use.
const (
	TransportWebSocket = "ws"
	TransportHTTP      = "http"
	TransportNTP       = "ntp"
)

// Estimators selectable by name.
const (
	EstimatorMinRoundTrip = "min-rtt"
	EstimatorInlierMean   = "inlier-mean"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the whole configuration file.
type Config struct {
	Log    Log    `yaml:"log"`
	Sync   Sync   `yaml:"sync"`
	Store  Store  `yaml:"store"`
	Server Server `yaml:"server"`
	Client Client `yaml:"client"`
}

// Log mirrors logging.Options.
type Log struct {
	Debug bool   `yaml:"debug"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// Sync holds the per-session parameters.
type Sync struct {
	Rounds          int           `yaml:"rounds"`
	MinSamples      int           `yaml:"min_samples"`
	Jitter          time.Duration `yaml:"jitter"`
	SeedFirstSample bool          `yaml:"seed_first_sample"`
	MaxStep         time.Duration `yaml:"max_step"`
	Estimator       string        `yaml:"estimator"`
}

// Store selects the offset persistence backend.
type Store struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Server configures the serve command.
type Server struct {
	Port       int     `yaml:"port"`
	Name       string  `yaml:"name"`
	MDNS       bool    `yaml:"mdns"`
	TUI        bool    `yaml:"tui"`
	ProbeRate  float64 `yaml:"probe_rate"`
	ProbeBurst int     `yaml:"probe_burst"`

	// Upstream makes the server a relay of the server at this address.
	Upstream          string        `yaml:"upstream"`
	UpstreamTransport string        `yaml:"upstream_transport"`
	UpstreamInterval  time.Duration `yaml:"upstream_interval"`
	UpstreamMaxAge    time.Duration `yaml:"upstream_max_age"`

	// ReferenceNTP stamps replies with an NTP-disciplined clock.
	ReferenceNTP string `yaml:"reference_ntp"`
}

// Client configures the sync command.
type Client struct {
	Server        string        `yaml:"server"`
	Name          string        `yaml:"name"`
	Transport     string        `yaml:"transport"`
	Interval      time.Duration `yaml:"interval"`
	DiscoverFor   time.Duration `yaml:"discover_for"`
	TUI           bool          `yaml:"tui"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	DegradedAbove time.Duration `yaml:"degraded_above"`
}

// Default returns a configuration that validates.
func Default() Config {
	sc := timesync.DefaultConfig()
	return Config{
		Sync: Sync{
			Rounds:     sc.Rounds,
			MinSamples: sc.MinSamples,
			Jitter:     sc.Jitter,
			Estimator:  EstimatorMinRoundTrip,
		},
		Store: Store{Driver: store.DriverMemory},
		Server: Server{
			Port:              8928,
			MDNS:              true,
			ProbeRate:         20,
			ProbeBurst:        10,
			UpstreamTransport: TransportWebSocket,
			UpstreamInterval:  30 * time.Second,
		},
		Client: Client{
			Transport:     TransportWebSocket,
			Interval:      10 * time.Second,
			DiscoverFor:   5 * time.Second,
			StaleAfter:    time.Minute,
			DegradedAbove: 50 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.SessionConfig().Validate(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrInvalid, err)
	}
	switch c.Sync.Estimator {
	case "", EstimatorMinRoundTrip, EstimatorInlierMean:
	default:
		return fmt.Errorf("%w: unknown estimator %q", ErrInvalid, c.Sync.Estimator)
	}

	switch c.Store.Driver {
	case store.DriverMemory:
	case store.DriverBolt, store.DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store driver %s needs a path", ErrInvalid, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: %v %q", ErrInvalid, store.ErrUnknownDriver, c.Store.Driver)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalid, c.Server.Port)
	}
	if c.Server.ProbeRate < 0 || c.Server.ProbeBurst < 0 {
		return fmt.Errorf("%w: probe rate and burst must not be negative", ErrInvalid)
	}
	if c.Server.Upstream != "" {
		if err := validTransport(c.Server.UpstreamTransport); err != nil {
			return fmt.Errorf("%w: upstream: %v", ErrInvalid, err)
		}
		if c.Server.UpstreamInterval <= 0 {
			return fmt.Errorf("%w: upstream interval must be positive", ErrInvalid)
		}
	}

	if err := validTransport(c.Client.Transport); err != nil {
		return fmt.Errorf("%w: client: %v", ErrInvalid, err)
	}
	if c.Client.Interval <= 0 {
		return fmt.Errorf("%w: client interval must be positive", ErrInvalid)
	}
	return nil
}

func validTransport(t string) error {
	switch t {
	case TransportWebSocket, TransportHTTP, TransportNTP:
		return nil
	}
	return fmt.Errorf("unknown transport %q", t)
}

// SessionConfig converts the sync section.
func (c Config) SessionConfig() timesync.Config {
	return timesync.Config{
		Jitter:          c.Sync.Jitter,
		Rounds:          c.Sync.Rounds,
		MinSamples:      c.Sync.MinSamples,
		SeedFirstSample: c.Sync.SeedFirstSample,
		MaxStep:         c.Sync.MaxStep,
	}
}

// Estimator returns the configured estimator.
func (c Config) Estimator() timesync.Estimator {
	if c.Sync.Estimator == EstimatorInlierMean {
		return timesync.InlierMean
	}
	return timesync.MinRoundTrip
}
