package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/cron"
	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	stdin   []string
	failErr error
	rt      *config.Runtime
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rt: config.NewRuntime(config.RuntimeSettings{})}
}

func (f *fakeBackend) record(op string, k process.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+k.String())
	return f.failErr
}

func (f *fakeBackend) States() []process.Status {
	var out []process.Status
	for _, k := range process.Kinds() {
		out = append(out, process.Status{Kind: k.String(), State: process.Dead.String()})
	}
	return out
}

func (f *fakeBackend) Status(k process.Kind) (supervisor.KindStatus, error) {
	return supervisor.KindStatus{
		Status: process.Status{Kind: k.String(), State: process.Alive.String(), Alive: true},
		Output: "hello\n",
	}, nil
}

func (f *fakeBackend) Host() metrics.Host {
	return metrics.Host{CPUCount: 8, MemoryTotal: 1 << 30}
}

func (f *fakeBackend) Uptime() time.Duration    { return 90 * time.Second }
func (f *fakeBackend) Runtime() *config.Runtime { return f.rt }
func (f *fakeBackend) CurrentNode() string      { return "europe" }

func (f *fakeBackend) Schedules() []cron.Entry {
	return []cron.Entry{{Name: "nightly", Cron: "0 4 * * *"}}
}

func (f *fakeBackend) Start(k process.Kind) error   { return f.record("start", k) }
func (f *fakeBackend) Stop(k process.Kind) error    { return f.record("stop", k) }
func (f *fakeBackend) Restart(k process.Kind) error { return f.record("restart", k) }

func (f *fakeBackend) SendStdin(k process.Kind, line string) error {
	if err := f.record("stdin", k); err != nil {
		return err
	}
	f.mu.Lock()
	f.stdin = append(f.stdin, line)
	f.mu.Unlock()
	return nil
}

func setupRouter(t *testing.T, base string, opts ...RouterOption) (*fakeBackend, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFakeBackend()
	return f, NewRouter(f, base, opts...).Handler()
}

func doReq(h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatusAll(t *testing.T) {
	_, h := setupRouter(t, "/api")
	w := doReq(h, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "1m30s", resp.Uptime)
	assert.Equal(t, "europe", resp.CurrentNode)
	require.Len(t, resp.Processes, process.NumKinds)
	assert.Equal(t, "node", resp.Processes[0].Kind)
	assert.Equal(t, "xvb", resp.Processes[4].Kind)
}

func TestStatusKind(t *testing.T) {
	_, h := setupRouter(t, "")
	w := doReq(h, http.MethodGet, "/status/proxy", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"xmrig-proxy"`)
	assert.Contains(t, w.Body.String(), `"output":"hello\n"`)

	w = doReq(h, http.MethodGet, "/status/bitcoind", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHost(t *testing.T) {
	_, h := setupRouter(t, "/")
	w := doReq(h, http.MethodGet, "/host", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cpu_count":8`)
}

func TestSchedule(t *testing.T) {
	_, h := setupRouter(t, "")
	w := doReq(h, http.MethodGet, "/schedule", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"nightly"`)
}

func TestActions(t *testing.T) {
	f, h := setupRouter(t, "/api/")
	for _, op := range []string{"start", "stop", "restart"} {
		w := doReq(h, http.MethodPost, "/api/"+op+"/xmrig", "", nil)
		assert.Equal(t, http.StatusOK, w.Code, op)
	}
	assert.Equal(t, []string{"start:xmrig", "stop:xmrig", "restart:xmrig"}, f.calls)

	w := doReq(h, http.MethodPost, "/api/start/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestActionErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: node is Alive", supervisor.ErrNotStartable), http.StatusConflict},
		{fmt.Errorf("%w: p2pool", supervisor.ErrNotRunning), http.StatusConflict},
		{fmt.Errorf("%w: p2pool has Stop", supervisor.ErrBusy), http.StatusConflict},
		{fmt.Errorf("%w: xvb", supervisor.ErrNoConsole), http.StatusBadRequest},
		{supervisor.ErrUnknownKind, http.StatusNotFound},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		f, h := setupRouter(t, "")
		f.failErr = tc.err
		w := doReq(h, http.MethodPost, "/start/p2pool", "", nil)
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
		assert.Contains(t, w.Body.String(), tc.err.Error())
	}
}

func TestStdin(t *testing.T) {
	f, h := setupRouter(t, "")
	w := doReq(h, http.MethodPost, "/stdin/node", "", map[string]string{"line": "status"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"status"}, f.stdin)

	w = doReq(h, http.MethodPost, "/stdin/node", "", map[string]string{"line": "a\nexit"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/stdin/node", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.stdin, 1)
}

func TestMode(t *testing.T) {
	f, h := setupRouter(t, "/api")
	w := doReq(h, http.MethodGet, "/api/xvb/mode", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"auto"`)

	w = doReq(h, http.MethodPost, "/api/xvb/mode", "", map[string]any{"mode": "hero", "level": "vip"})
	require.Equal(t, http.StatusOK, w.Code)
	got := f.rt.Get()
	assert.Equal(t, config.ModeHero, got.Mode)
	assert.Equal(t, config.TierVIP, got.Level)

	// Partial update keeps the rest.
	w = doReq(h, http.MethodPost, "/api/xvb/mode", "", map[string]any{"amount": 2500})
	require.Equal(t, http.StatusOK, w.Code)
	got = f.rt.Get()
	assert.Equal(t, config.ModeHero, got.Mode)
	assert.InDelta(t, 2500, got.Amount, 0.001)

	w = doReq(h, http.MethodPost, "/api/xvb/mode", "", map[string]any{"mode": "yolo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doReq(h, http.MethodPost, "/api/xvb/mode", "", map[string]any{"amount": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, config.ModeHero, f.rt.Get().Mode)
}

func TestTokenGuardsMutations(t *testing.T) {
	f, h := setupRouter(t, "", WithToken("t0k"))

	w := doReq(h, http.MethodGet, "/status", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "reads stay open")

	w = doReq(h, http.MethodPost, "/stop/xvb", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doReq(h, http.MethodPost, "/xvb/mode", "bad", map[string]any{"mode": "hero"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.calls)
	assert.Equal(t, config.ModeAuto, f.rt.Get().Mode)

	w = doReq(h, http.MethodPost, "/stop/xvb", "t0k", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"stop:xvb"}, f.calls)
}

func TestMetricsRoute(t *testing.T) {
	_, h := setupRouter(t, "")
	w := doReq(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, h = setupRouter(t, "", WithMetrics(true))
	w = doReq(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSanitizeBase(t *testing.T) {
	assert.Equal(t, "", sanitizeBase(" / "))
	assert.Equal(t, "/api", sanitizeBase("api/"))
	assert.Equal(t, "/a/b", sanitizeBase("/a/b//"))
}
