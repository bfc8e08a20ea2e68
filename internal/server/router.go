package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/hashvisr/internal/auth"
	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/cron"
	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/supervisor"
	htls "github.com/loykin/hashvisr/internal/tls"
)

// Backend is what the router reads and drives. *supervisor.Supervisor implements it.
type Backend interface {
	States() []process.Status
	Status(k process.Kind) (supervisor.KindStatus, error)
	Host() metrics.Host
	Uptime() time.Duration
	Runtime() *config.Runtime
	CurrentNode() string
	Schedules() []cron.Entry
	Start(k process.Kind) error
	Stop(k process.Kind) error
	Restart(k process.Kind) error
	SendStdin(k process.Kind, line string) error
}

var _ Backend = (*supervisor.Supervisor)(nil)

// Router provides embeddable HTTP handlers for the front end.
// Endpoints, relative to basePath:
//
//	GET  /status            every kind's lifecycle, uptime and current donation node
//	GET  /status/:kind      one kind's lifecycle, console output and stats
//	GET  /host              last host telemetry sample
//	GET  /schedule          scheduled actions and their next activation
//	POST /start/:kind       start, 409 when still running
//	POST /stop/:kind
//	POST /restart/:kind
//	POST /stdin/:kind       body: {"line":"..."}
//	GET  /xvb/mode
//	POST /xvb/mode          body: {"mode":"hero","amount":0,"level":"vip"}, fields optional
//	GET  /metrics           when metrics are enabled
//
// The POST routes require the bearer token when one is configured.
type Router struct {
	b        Backend
	basePath string
	auth     *auth.Middleware
	metrics  bool
}

type RouterOption func(*Router)

// WithToken protects the mutating routes with a bearer token.
func WithToken(token string) RouterOption {
	return func(r *Router) { r.auth = auth.NewMiddleware(token) }
}

// WithMetrics mounts the Prometheus handler at /metrics.
func WithMetrics(on bool) RouterOption {
	return func(r *Router) { r.metrics = on }
}

func NewRouter(b Backend, basePath string, opts ...RouterOption) *Router {
	r := &Router{b: b, basePath: sanitizeBase(basePath), auth: auth.NewMiddleware("")}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	return g
}

// Register mounts the routes on an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/status", r.handleStatusAll)
	group.GET("/status/:kind", r.handleStatus)
	group.GET("/host", r.handleHost)
	group.GET("/schedule", r.handleSchedule)
	group.GET("/xvb/mode", r.handleGetMode)

	w := group.Group("", r.auth.GinAuth())
	w.POST("/start/:kind", r.handleAction(r.b.Start))
	w.POST("/stop/:kind", r.handleAction(r.b.Stop))
	w.POST("/restart/:kind", r.handleAction(r.b.Restart))
	w.POST("/stdin/:kind", r.handleStdin)
	w.POST("/xvb/mode", r.handleSetMode)

	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
}

// NewServer starts a standalone HTTP(S) server for cfg using this router.
// Serving errors other than a clean shutdown are logged.
func NewServer(cfg config.ServerConfig, metricsEnabled bool, b Backend) (*http.Server, error) {
	tc, err := htls.Setup(cfg.TLS)
	if err != nil {
		return nil, err
	}
	r := NewRouter(b, cfg.BasePath, WithToken(cfg.Token), WithMetrics(metricsEnabled))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r.Handler(),
		TLSConfig:         tc,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		var err error
		if tc != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "addr", cfg.Listen, "error", err)
		}
	}()
	slog.Info("http server listening", "addr", cfg.Listen, "base", r.basePath, "tls", tc != nil)
	return srv, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// StatusResp is the body of GET /status.
type StatusResp struct {
	Uptime      string           `json:"uptime"`
	CurrentNode string           `json:"current_node"`
	Processes   []process.Status `json:"processes"`
}

// ModeReq is the body of POST /xvb/mode. Missing fields keep their value.
type ModeReq struct {
	Mode   *string  `json:"mode,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
	Level  *string  `json:"level,omitempty"`
}

func (r *Router) kind(c *gin.Context) (process.Kind, bool) {
	k, ok := process.ParseKind(c.Param("kind"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown kind: " + c.Param("kind")})
	}
	return k, ok
}

func (r *Router) handleStatusAll(c *gin.Context) {
	writeJSON(c, http.StatusOK, StatusResp{
		Uptime:      r.b.Uptime().String(),
		CurrentNode: r.b.CurrentNode(),
		Processes:   r.b.States(),
	})
}

func (r *Router) handleStatus(c *gin.Context) {
	k, ok := r.kind(c)
	if !ok {
		return
	}
	st, err := r.b.Status(k)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleHost(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.b.Host())
}

func (r *Router) handleSchedule(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.b.Schedules())
}

func (r *Router) handleAction(fn func(process.Kind) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := r.kind(c)
		if !ok {
			return
		}
		if err := fn(k); err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleStdin(c *gin.Context) {
	k, ok := r.kind(c)
	if !ok {
		return
	}
	var body struct {
		Line string `json:"line"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !singleLine(body.Line) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "line must not contain newlines"})
		return
	}
	if err := r.b.SendStdin(k, body.Line); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleGetMode(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.b.Runtime().Get())
}

func (r *Router) handleSetMode(c *gin.Context) {
	var req ModeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	rt := r.b.Runtime()
	s := rt.Get()
	if req.Mode != nil {
		s.Mode = config.Mode(*req.Mode)
	}
	if req.Amount != nil {
		s.Amount = *req.Amount
	}
	if req.Level != nil {
		s.Level = config.Tier(*req.Level)
	}
	if err := rt.Set(s); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	slog.Info("xvb runtime settings changed", "mode", s.Mode, "amount", s.Amount, "level", s.Level)
	writeJSON(c, http.StatusOK, rt.Get())
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, supervisor.ErrUnknownKind):
		code = http.StatusNotFound
	case errors.Is(err, supervisor.ErrNotStartable),
		errors.Is(err, supervisor.ErrNotRunning),
		errors.Is(err, supervisor.ErrBusy),
		errors.Is(err, process.ErrIllegalTransition):
		code = http.StatusConflict
	case errors.Is(err, supervisor.ErrNoConsole):
		code = http.StatusBadRequest
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}
