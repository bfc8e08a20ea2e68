package watchdog

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/pubapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func TestNodePollGetInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json_rpc", r.URL.Path)
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "get_info", req.Method)
		_, _ = w.Write([]byte(`{"id":"0","jsonrpc":"2.0","result":{"height":3100000,"target_height":3100005,
			"difficulty":400000000000,"synchronized":true,"outgoing_connections_count":12,
			"incoming_connections_count":3,"status":"OK","nettype":"mainnet","version":"0.18.3.4"}}`))
	}))
	defer srv.Close()
	host, port := hostPort(t, srv)
	n := NewNode(config.NodeConfig{RPCBindIP: host, RPCPort: port}, nil, srv.Client())

	var s pubapi.Node
	require.NoError(t, n.PollAPI(context.Background(), &s))
	assert.Equal(t, uint64(3100000), s.Height)
	assert.True(t, s.Synchronized)
	assert.Equal(t, 12, s.OutgoingConnections)
	assert.Equal(t, "mainnet", s.Nettype)
}

func TestNodePollRPCErrorKeepsStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"0","jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"}}`))
	}))
	defer srv.Close()
	host, port := hostPort(t, srv)
	n := NewNode(config.NodeConfig{RPCBindIP: host, RPCPort: port}, nil, srv.Client())
	s := pubapi.Node{Height: 42}
	assert.Error(t, n.PollAPI(context.Background(), &s))
	assert.Equal(t, uint64(42), s.Height)
}

func TestXMRigPollSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/1/summary", r.URL.Path)
		_, _ = w.Write([]byte(`{"version":"6.21.0","worker_id":"rig","uptime":120,
			"hashrate":{"total":[1000.5,990.0,null],"highest":1100},
			"results":{"diff_current":120000,"shares_good":5,"shares_total":6},
			"connection":{"pool":"127.0.0.1:3333","ping":12},"cpu":{"threads":8}}`))
	}))
	defer srv.Close()
	host, port := hostPort(t, srv)

	x := NewXMRig(config.XMRigConfig{MinerHTTP: config.MinerHTTP{Host: host, Port: port, Token: "tok"}}, nil, testAddrs, nil, srv.Client())
	s := pubapi.XMRig{ActivePool: "kept"}
	require.NoError(t, x.PollAPI(context.Background(), &s))
	assert.Equal(t, 1000.5, s.Hashrate10s)
	assert.Equal(t, 990.0, s.Hashrate1m)
	assert.Zero(t, s.Hashrate15m)
	assert.Equal(t, uint64(5), s.SharesGood)
	assert.Equal(t, "kept", s.ActivePool)

	bad := NewXMRig(config.XMRigConfig{MinerHTTP: config.MinerHTTP{Host: host, Port: port, Token: "wrong"}}, nil, testAddrs, nil, srv.Client())
	s = pubapi.XMRig{Hashrate10s: 7}
	assert.Error(t, bad.PollAPI(context.Background(), &s))
	assert.Equal(t, 7.0, s.Hashrate10s)
}

func TestProxyPollConvertsKiloHashes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"version":"6.21.0","uptime":60,"hashrate":{"total":[12.5,10.0,9.5,9.0,8.5]},
			"miners":{"now":3,"max":4},"results":{"accepted":10,"rejected":1},"upstreams":{"active":1}}`))
	}))
	defer srv.Close()
	host, port := hostPort(t, srv)
	p := NewProxy(config.ProxyConfig{MinerHTTP: config.MinerHTTP{Host: host, Port: port}}, nil, testAddrs, srv.Client())
	var s pubapi.Proxy
	require.NoError(t, p.PollAPI(context.Background(), &s))
	assert.Equal(t, 12_500.0, s.Hashrate1m)
	assert.Equal(t, 10_000.0, s.Hashrate10m)
	assert.Equal(t, 8_500.0, s.Hashrate24h)
	assert.Equal(t, 3, s.Miners)
}

func writeP2PoolAPI(t *testing.T, dir string, withPool bool) {
	t.Helper()
	files := map[string]string{
		"local/stratum": `{"hashrate_15m":5000,"hashrate_1h":4800,"hashrate_24h":4700,"shares_found":3,"connections":2}`,
		"network/stats": `{"difficulty":350000000000,"height":3100000}`,
	}
	if withPool {
		files["pool/stats"] = `{"pool_list":["pplns"],"pool_statistics":{"hashRate":9000000,"miners":800,
			"pplnsWindowSize":2160,"sidechainDifficulty":90000000,"sidechainHeight":7000000}}`
	}
	for name, body := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func TestP2PoolPollFiles(t *testing.T) {
	dir := t.TempDir()
	p := NewP2Pool(config.P2PoolConfig{DataAPI: dir}, nil, nil)

	writeP2PoolAPI(t, dir, false)
	s := pubapi.P2Pool{SidechainEHR: 1234}
	assert.Error(t, p.PollAPI(context.Background(), &s))
	assert.Zero(t, s.Hashrate15m)

	writeP2PoolAPI(t, dir, true)
	require.NoError(t, p.PollAPI(context.Background(), &s))
	assert.Equal(t, 5000.0, s.Hashrate15m)
	assert.Equal(t, uint64(3), s.SharesFound)
	assert.Equal(t, uint64(350000000000), s.NetworkDifficulty)
	assert.Equal(t, uint64(90000000), s.SidechainDifficulty)
	assert.Equal(t, 2160, s.PPLNSWindow)
	assert.Equal(t, 1234.0, s.SidechainEHR)
}
