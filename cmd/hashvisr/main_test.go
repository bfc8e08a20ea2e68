package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/server"
	"github.com/loykin/hashvisr/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// startDaemon serves a real, idle supervisor over httptest.
func startDaemon(t *testing.T, token string) (*supervisor.Supervisor, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Supervisor.Telemetry = false
	sup, err := supervisor.New(cfg, supervisor.Options{
		Console: func(string) io.WriteCloser { return nopWriteCloser{io.Discard} },
	})
	require.NoError(t, err)
	ts := httptest.NewServer(server.NewRouter(sup, "/api", server.WithToken(token)).Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return sup, ts.URL + "/api"
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := buildRoot(io.Discard)
	for _, name := range []string{"serve", "status", "host", "schedule", "start", "stop", "restart", "send", "mode", "cert"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, f := range []string{"config", "api-url", "api-timeout", "token", "insecure", "ca-cert"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(f), f)
	}
}

func TestStatusCommand(t *testing.T) {
	_, url := startDaemon(t, "")
	out, err := run(t, "status", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "donating to p2pool")
	for _, k := range []string{"node", "p2pool", "xmrig", "xmrig-proxy", "xvb"} {
		assert.Contains(t, out, k)
	}

	out, err = run(t, "status", "xvb", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "xvb: dead")

	_, err = run(t, "status", "litecoind", "--api-url", url)
	assert.ErrorContains(t, err, "unknown kind")
}

func TestScheduleCommand(t *testing.T) {
	_, url := startDaemon(t, "")
	out, err := run(t, "schedule", "--api-url", url)
	require.NoError(t, err)
	assert.Equal(t, "no scheduled actions\n", out)
}

func TestActionCommands(t *testing.T) {
	_, url := startDaemon(t, "tok")

	_, err := run(t, "stop", "xvb", "--api-url", url)
	assert.ErrorContains(t, err, "401")

	out, err := run(t, "stop", "xvb", "--api-url", url, "--token", "tok")
	require.NoError(t, err)
	assert.Equal(t, "stop xvb: ok\n", out)

	_, err = run(t, "send", "node", "status", "--api-url", url, "--token", "tok")
	assert.ErrorContains(t, err, "not running")

	_, err = run(t, "restart", "--api-url", url)
	assert.Error(t, err, "kind is required")
}

func TestModeCommand(t *testing.T) {
	sup, url := startDaemon(t, "")

	out, err := run(t, "mode", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "mode auto")

	out, err = run(t, "mode", "--api-url", url, "--set", "manual_donate", "--amount", "4000")
	require.NoError(t, err)
	assert.Contains(t, out, "mode manual_donate, amount 4000")
	assert.Equal(t, config.ModeManuallyDonate, sup.Runtime().Get().Mode)

	_, err = run(t, "mode", "--api-url", url, "--level", "galactic")
	assert.Error(t, err)
	assert.Equal(t, config.TierDonor, sup.Runtime().Get().Level)
}

func TestClientFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hashvisr.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
listen = "0.0.0.0:9999"
base_path = "/rig"
token = "from-config"
`), 0o600))

	c := &command{flags: &GlobalFlags{ConfigPath: path, APITimeout: time.Second}, out: io.Discard}
	cl, err := c.apiClient()
	require.NoError(t, err)
	assert.NotNil(t, cl)

	sc, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999/rig", serverURL(sc.Server))

	sc.Server.TLS.Enabled = true
	sc.Server.Listen = "rig.lan:443"
	assert.Equal(t, "https://rig.lan:443/rig", serverURL(sc.Server))
}

func TestCertCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "cert", "--dir", dir, "--name", "rig.lan")
	require.NoError(t, err)
	assert.Contains(t, out, "tls.crt")
	assert.FileExists(t, filepath.Join(dir, "tls.key"))
}

func TestChildArgs(t *testing.T) {
	got := childArgs([]string{"serve", "--daemonize", "--logfile", "/tmp/x.log", "--pidfile", "/run/h.pid", "--config=a.toml", "--logfile=/y"})
	assert.Equal(t, []string{"serve", "--pidfile", "/run/h.pid", "--config=a.toml"}, got)
}

func TestPidFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "h.pid")
	require.NoError(t, writePidFile(p, 4242))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(b))
	require.NoError(t, removePidFile(p))
	assert.NoFileExists(t, p)
	assert.NoError(t, removePidFile(""))
}

func TestServeRequiresConfig(t *testing.T) {
	_, err := run(t, "serve")
	assert.ErrorContains(t, err, "config file required")
}
