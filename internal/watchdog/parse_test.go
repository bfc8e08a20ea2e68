package watchdog

import (
	"testing"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/pool"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/pubapi"
	"github.com/stretchr/testify/assert"
)

var testAddrs = pool.Addresses{
	P2PoolURL: "127.0.0.1:3333",
	Wallet:    "4wallet",
	Token:     "12345",
}

func TestNodeParseLine(t *testing.T) {
	n := NewNode(config.NodeConfig{}, nil, nil)
	var s pubapi.Node
	eff := n.ParseLine("2024-01-01 I You are now synchronized with the network. You may now start monero-wallet-cli.", process.Syncing, &s)
	assert.Equal(t, Effect{SetState: true, State: process.Alive}, eff)

	eff = n.ParseLine("You are now synchronized with the network", process.Alive, &s)
	assert.False(t, eff.SetState)
	eff = n.ParseLine("Synced 100/3000000", process.Syncing, &s)
	assert.False(t, eff.SetState)
}

func TestP2PoolSingleSyncMarker(t *testing.T) {
	p := NewP2Pool(config.P2PoolConfig{}, nil, nil)
	var s pubapi.P2Pool
	eff := p.ParseLine("SideChain SYNCHRONIZED", process.Syncing, &s)
	assert.Equal(t, process.Alive, eff.State)
	assert.True(t, eff.SetState)
}

func TestP2PoolBootstrapNeedsSecondMarker(t *testing.T) {
	p := NewP2Pool(config.P2PoolConfig{}, nil, nil)
	var s pubapi.P2Pool
	assert.False(t, p.ParseLine("SideChain add_block: height = 0, next height = 1", process.Syncing, &s).SetState)
	assert.False(t, p.ParseLine("SideChain SYNCHRONIZED", process.Syncing, &s).SetState)
	eff := p.ParseLine("SideChain SYNCHRONIZED", process.Syncing, &s)
	assert.True(t, eff.SetState)
	assert.Equal(t, process.Alive, eff.State)

	p.Reset()
	assert.True(t, p.ParseLine("SideChain SYNCHRONIZED", process.Syncing, &s).SetState)
}

func TestP2PoolStatusReport(t *testing.T) {
	p := NewP2Pool(config.P2PoolConfig{}, nil, nil)
	var s pubapi.P2Pool
	p.ParseLine("Your shares               = 7 blocks (+0 uncles, 0 orphans)", process.Alive, &s)
	p.ParseLine("Your hashrate (pool-side) = 12.5 KH/s", process.Alive, &s)
	assert.Equal(t, uint64(7), s.ConsoleShares)
	assert.InDelta(t, 12_500, s.SidechainEHR, 0.001)
	p.ParseLine("Your hashrate (pool-side) = 0 H/s", process.Alive, &s)
	assert.Zero(t, s.SidechainEHR)
	p.ParseLine("Your hashrate (pool-side) = 1.2 MH/s", process.Alive, &s)
	assert.InDelta(t, 1_200_000, s.SidechainEHR, 0.001)
}

func TestP2PoolStatusInput(t *testing.T) {
	p := NewP2Pool(config.P2PoolConfig{StatusEvery: 3}, nil, nil)
	assert.Nil(t, p.Input(1))
	assert.Nil(t, p.Input(2))
	assert.Equal(t, []string{"status"}, p.Input(3))
	assert.Equal(t, []string{"status"}, p.Input(6))
	assert.Equal(t, 60, NewP2Pool(config.P2PoolConfig{}, nil, nil).every)
}

func TestXMRigParseLine(t *testing.T) {
	current := pool.P2Pool
	x := NewXMRig(config.XMRigConfig{}, nil, testAddrs, func() pool.Node { return current }, nil)
	var s pubapi.XMRig

	eff := x.ParseLine("[2024-01-01 00:00:00.000]  net      use pool 127.0.0.1:3333  127.0.0.1", process.NotMining, &s)
	assert.Equal(t, "127.0.0.1:3333", s.ActivePool)
	assert.False(t, eff.SetState)

	eff = x.ParseLine("net      new job from 127.0.0.1:3333 diff 100000 algo rx/0 height 3000000", process.NotMining, &s)
	assert.Equal(t, Effect{SetState: true, State: process.Alive}, eff)

	eff = x.ParseLine("net      no active pools, stop mining", process.Alive, &s)
	assert.Equal(t, Effect{SetState: true, State: process.NotMining}, eff)

	// failing donation node that is not in use: no failover
	eff = x.ParseLine(`net      eu.xmrvsbeast.com:4247 connect error: "connection refused"`, process.Alive, &s)
	assert.False(t, eff.Failover)
	assert.False(t, eff.SetState)

	current = pool.Europe
	eff = x.ParseLine(`net      eu.xmrvsbeast.com:4247 connect error: "connection refused"`, process.Alive, &s)
	assert.True(t, eff.Failover)
	assert.Equal(t, pool.Europe, eff.Failed)
	assert.False(t, eff.SetState)

	// p2pool itself failing is never a donation failover
	eff = x.ParseLine(`net      127.0.0.1:3333 read error: "end of file"`, process.Alive, &s)
	assert.False(t, eff.Failover)
}

func TestProxyParseLine(t *testing.T) {
	p := NewProxy(config.ProxyConfig{}, nil, testAddrs, nil)
	var s pubapi.Proxy

	eff := p.ParseLine("new job from 127.0.0.1:3333 diff 1000", process.NotMining, &s)
	assert.Equal(t, process.Alive, eff.State)

	eff = p.ParseLine("[na.xmrvsbeast.com:4247] timeout", process.Alive, &s)
	assert.True(t, eff.SetState)
	assert.Equal(t, process.NotMining, eff.State)
	assert.True(t, eff.Failover)
	assert.Equal(t, pool.NorthAmerica, eff.Failed)

	eff = p.ParseLine("127.0.0.1:3333 connection error", process.Alive, &s)
	assert.Equal(t, process.NotMining, eff.State)
	assert.False(t, eff.Failover)
}
