package watchdog

import (
	"strings"
	"testing"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeCommand(t *testing.T) {
	n := NewNode(config.NodeConfig{
		Path: "/opt/monero/monerod", DataDir: "/data", RPCBindIP: "127.0.0.1", RPCPort: 18081,
		ZMQPort: 18083, OutPeers: 32, InPeers: 64, Prune: true, DNSBlocklist: true,
		Args: []string{"--no-igd"},
	}, nil, nil)
	cmd, err := n.BuildCommand()
	require.NoError(t, err)
	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "--data-dir /data")
	assert.Contains(t, args, "--rpc-bind-port 18081")
	assert.Contains(t, args, "--zmq-pub tcp://127.0.0.1:18083")
	assert.Contains(t, args, "--prune-blockchain --sync-pruned-blocks")
	assert.Contains(t, args, "--enable-dns-blocklist")
	assert.NotContains(t, args, "--confirm-external-bind")
	assert.True(t, strings.HasSuffix(args, "--no-igd"))

	n = NewNode(config.NodeConfig{Path: "/x/monerod", RPCBindIP: "0.0.0.0", RPCPort: 1, ZMQPort: 2}, nil, nil)
	cmd, err = n.BuildCommand()
	require.NoError(t, err)
	assert.Contains(t, cmd.Args, "--confirm-external-bind")
	assert.Equal(t, "http://127.0.0.1:1/json_rpc", n.RPCURL())

	_, err = NewNode(config.NodeConfig{}, nil, nil).BuildCommand()
	assert.Error(t, err)
}

func TestP2PoolCommandFollowsEveryHost(t *testing.T) {
	hosts := []config.NodeHost{{IP: "127.0.0.1", RPC: 18081, ZMQ: 18083}, {IP: "backup.example", RPC: 18089, ZMQ: 18084}}
	p := NewP2Pool(config.P2PoolConfig{
		Path: "/opt/p2pool/p2pool", Wallet: "4wallet", Mini: true, Stratum: "0.0.0.0:3333",
		OutPeers: 10, InPeers: 10, LogLevel: 3,
	}, nil, func() []config.NodeHost { return hosts })
	cmd, err := p.BuildCommand()
	require.NoError(t, err)
	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "--wallet 4wallet")
	assert.Contains(t, args, "--host 127.0.0.1 --rpc-port 18081 --zmq-port 18083 --host backup.example --rpc-port 18089 --zmq-port 18084")
	assert.Contains(t, args, "--data-api /opt/p2pool/api")
	assert.Contains(t, args, "--local-api")
	assert.Contains(t, args, "--mini")
	assert.Contains(t, args, "--loglevel 3")

	_, err = NewP2Pool(config.P2PoolConfig{Path: "/p2pool", Wallet: "4w"}, nil, func() []config.NodeHost { return nil }).BuildCommand()
	assert.Error(t, err)
	_, err = NewP2Pool(config.P2PoolConfig{Path: "/p2pool"}, nil, nil).BuildCommand()
	assert.Error(t, err)
}

func TestMinerCommands(t *testing.T) {
	x := NewXMRig(config.XMRigConfig{
		Path: "/opt/xmrig/xmrig", Pool: "127.0.0.1:3333", User: "rig", Threads: 6, Keepalive: true,
		PauseOnActive: 60,
		MinerHTTP:     config.MinerHTTP{Host: "127.0.0.1", Port: 18088, Token: "tok"},
	}, nil, testAddrs, nil, nil)
	cmd, err := x.BuildCommand()
	require.NoError(t, err)
	args := strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "--url 127.0.0.1:3333 --user rig")
	assert.Contains(t, args, "--threads 6")
	assert.Contains(t, args, "--http-access-token tok --http-no-restricted")
	assert.Contains(t, args, "--pause-on-active 60")
	assert.Contains(t, args, "--keepalive")

	p := NewProxy(config.ProxyConfig{
		Path: "/opt/proxy/xmrig-proxy", Pool: "127.0.0.1:3333", User: "proxy", Bind: "0.0.0.0:3355",
		MinerHTTP: config.MinerHTTP{Host: "127.0.0.1", Port: 18089},
	}, nil, testAddrs, nil)
	cmd, err = p.BuildCommand()
	require.NoError(t, err)
	args = strings.Join(cmd.Args, " ")
	assert.Contains(t, args, "--bind 0.0.0.0:3355")
	assert.NotContains(t, args, "--http-access-token")
	assert.Contains(t, args, "--http-no-restricted")
}

func TestCommandEnv(t *testing.T) {
	e := env.New(false)
	e.Set("GLOBAL", "1")
	x := NewXMRig(config.XMRigConfig{Path: "/xmrig", Env: []string{"LOCAL=2"}}, e, testAddrs, nil, nil)
	cmd, err := x.BuildCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"GLOBAL=1", "LOCAL=2"}, cmd.Env)
}
