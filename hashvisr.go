// Package hashvisr is the embeddable facade over the supervisor: load a config,
// run the five supervised kinds and mount the HTTP surface in your own server.
package hashvisr

import (
	"context"
	"net/http"
	"time"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/server"
	"github.com/loykin/hashvisr/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type Config = config.Config

type ServerConfig = config.ServerConfig

type Options = supervisor.Options

type Kind = process.Kind

type Status = process.Status

type KindStatus = supervisor.KindStatus

type Mode = config.Mode

type Tier = config.Tier

type RuntimeSettings = config.RuntimeSettings

const (
	Node       = process.Node
	P2Pool     = process.P2Pool
	XMRig      = process.XMRig
	XMRigProxy = process.XMRigProxy
	XvB        = process.XvB
)

var (
	ErrNotStartable = supervisor.ErrNotStartable
	ErrNotRunning   = supervisor.ErrNotRunning
)

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func ParseKind(s string) (Kind, bool) { return process.ParseKind(s) }

// Supervisor is a thin facade over internal/supervisor.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(cfg *Config, opts Options) (*Supervisor, error) {
	s, err := supervisor.New(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: s}, nil
}

// Run autostarts the configured kinds and blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) { s.inner.Run(ctx) }

// Shutdown returns the miner to P2Pool and stops every kind.
func (s *Supervisor) Shutdown(ctx context.Context) error { return s.inner.Shutdown(ctx) }

func (s *Supervisor) Start(k Kind) error                  { return s.inner.Start(k) }
func (s *Supervisor) Stop(k Kind) error                   { return s.inner.Stop(k) }
func (s *Supervisor) Restart(k Kind) error                { return s.inner.Restart(k) }
func (s *Supervisor) SendStdin(k Kind, line string) error { return s.inner.SendStdin(k, line) }
func (s *Supervisor) Status(k Kind) (KindStatus, error)   { return s.inner.Status(k) }
func (s *Supervisor) States() []Status                    { return s.inner.States() }
func (s *Supervisor) Uptime() time.Duration               { return s.inner.Uptime() }
func (s *Supervisor) CurrentNode() string                 { return s.inner.CurrentNode() }

// Mode is the live donation setting.
func (s *Supervisor) Mode() RuntimeSettings { return s.inner.Runtime().Get() }

// SetMode validates and applies r; the donation loop picks it up at its next decision.
func (s *Supervisor) SetMode(r RuntimeSettings) error { return s.inner.Runtime().Set(r) }

// WatchConfig reloads the [xvb] mode, amount and level from path when it changes.
func (s *Supervisor) WatchConfig(path string) { config.Watch(path, s.inner.Runtime()) }

// Handler returns the HTTP surface under basePath. A non-empty token guards the
// mutating routes.
func (s *Supervisor) Handler(basePath, token string) http.Handler {
	return server.NewRouter(s.inner, basePath, server.WithToken(token)).Handler()
}

// NewHTTPServer starts a standalone HTTP(S) server for cfg.
func NewHTTPServer(cfg ServerConfig, withMetrics bool, s *Supervisor) (*http.Server, error) {
	return server.NewServer(cfg, withMetrics, s.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics runs a /metrics-only HTTP server on addr in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
