package watchdog

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/env"
	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/pubapi"
)

const (
	p2poolSyncedMarker    = "SideChain SYNCHRONIZED"
	p2poolBootstrapMarker = "next height = 1"
)

var (
	p2poolShares   = regexp.MustCompile(`Your shares\s*=\s*(\d+)`)
	p2poolHashrate = regexp.MustCompile(`Your hashrate \(pool-side\)\s*=\s*([0-9.]+)\s*([KMG]?)H/s`)
)

// P2Pool runs the side-chain node. Stats come from the files under its data-api
// directory plus the answer to a periodic "status" console command.
type P2Pool struct {
	cfg   config.P2PoolConfig
	env   *env.Env
	hosts func() []config.NodeHost
	every int

	bootstrapping bool
	firstSync     bool
}

// NewP2Pool builds the capability. hosts returns the nodes to follow, primary first.
func NewP2Pool(cfg config.P2PoolConfig, e *env.Env, hosts func() []config.NodeHost) *P2Pool {
	every := cfg.StatusEvery
	if every <= 0 {
		every = 60
	}
	return &P2Pool{cfg: cfg, env: e, hosts: hosts, every: every}
}

func (p *P2Pool) Kind() process.Kind                          { return process.P2Pool }
func (p *P2Pool) StartingState() process.State                { return process.Syncing }
func (p *P2Pool) ClassifyExit(c int, err error) process.State { return ClassifyExit(c, err) }

func (p *P2Pool) Reset() {
	p.bootstrapping = false
	p.firstSync = false
}

// DataAPI is the directory P2Pool writes its JSON stats into.
func (p *P2Pool) DataAPI() string {
	if p.cfg.DataAPI != "" {
		return p.cfg.DataAPI
	}
	return filepath.Join(binDir(p.cfg.Path), "api")
}

func (p *P2Pool) BuildCommand() (process.Command, error) {
	c := p.cfg
	if c.Path == "" {
		return process.Command{}, fmt.Errorf("p2pool path not configured")
	}
	if c.Wallet == "" {
		return process.Command{}, fmt.Errorf("p2pool wallet not configured")
	}
	var hosts []config.NodeHost
	if p.hosts != nil {
		hosts = p.hosts()
	}
	if len(hosts) == 0 {
		return process.Command{}, fmt.Errorf("p2pool has no node to follow")
	}
	args := []string{"--wallet", c.Wallet}
	for _, h := range hosts {
		args = append(args,
			"--host", h.IP,
			"--rpc-port", strconv.Itoa(h.RPC),
			"--zmq-port", strconv.Itoa(h.ZMQ),
		)
	}
	args = append(args,
		"--data-api", p.DataAPI(),
		"--local-api",
		"--no-color",
	)
	if c.Mini {
		args = append(args, "--mini")
	}
	args = append(args,
		"--stratum", c.Stratum,
		"--out-peers", strconv.Itoa(c.OutPeers),
		"--in-peers", strconv.Itoa(c.InPeers),
		"--loglevel", strconv.Itoa(c.LogLevel),
	)
	args = append(args, c.Args...)
	return command(c.Path, args, p.env, c.Env), nil
}

// Input asks P2Pool for its status report every p.every ticks.
func (p *P2Pool) Input(tick int) []string {
	if tick%p.every == 0 {
		return []string{"status"}
	}
	return nil
}

// ParseLine promotes Syncing to Alive on the side-chain sync marker. When the
// side-chain reported starting from height 1 the first marker only means the
// bootstrap finished, so a second one is required. This is a heuristic and can
// be fooled by unusual log interleavings.
func (p *P2Pool) ParseLine(line string, cur process.State, s *pubapi.P2Pool) Effect {
	if m := p2poolShares.FindStringSubmatch(line); m != nil {
		if n, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			s.ConsoleShares = n
		}
		return Effect{}
	}
	if m := p2poolHashrate.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.SidechainEHR = v * unitScale(m[2])
		}
		return Effect{}
	}
	if strings.Contains(line, p2poolBootstrapMarker) {
		p.bootstrapping = true
		return Effect{}
	}
	if cur != process.Syncing || !strings.Contains(line, p2poolSyncedMarker) {
		return Effect{}
	}
	if p.bootstrapping && !p.firstSync {
		p.firstSync = true
		return Effect{}
	}
	return Effect{SetState: true, State: process.Alive}
}

func unitScale(prefix string) float64 {
	switch prefix {
	case "K":
		return 1e3
	case "M":
		return 1e6
	case "G":
		return 1e9
	default:
		return 1
	}
}

type p2poolLocalStratum struct {
	Hashrate15m             float64 `json:"hashrate_15m"`
	Hashrate1h              float64 `json:"hashrate_1h"`
	Hashrate24h             float64 `json:"hashrate_24h"`
	TotalHashes             uint64  `json:"total_hashes"`
	SharesFound             uint64  `json:"shares_found"`
	SharesFailed            uint64  `json:"shares_failed"`
	AverageEffort           float64 `json:"average_effort"`
	CurrentEffort           float64 `json:"current_effort"`
	Connections             int     `json:"connections"`
	BlockRewardSharePercent float64 `json:"block_reward_share_percent"`
}

type p2poolNetworkStats struct {
	Difficulty uint64 `json:"difficulty"`
	Height     uint64 `json:"height"`
}

type p2poolPoolStats struct {
	PoolStatistics struct {
		HashRate            float64 `json:"hashRate"`
		Miners              int     `json:"miners"`
		TotalBlocksFound    uint64  `json:"totalBlocksFound"`
		PPLNSWindowSize     int     `json:"pplnsWindowSize"`
		SidechainDifficulty uint64  `json:"sidechainDifficulty"`
		SidechainHeight     uint64  `json:"sidechainHeight"`
	} `json:"pool_statistics"`
}

// PollAPI reads local/stratum, network/stats and pool/stats. All three must decode
// before anything is written.
func (p *P2Pool) PollAPI(ctx context.Context, s *pubapi.P2Pool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := p.DataAPI()
	var (
		local p2poolLocalStratum
		net   p2poolNetworkStats
		ps    p2poolPoolStats
	)
	if err := readJSONFile(filepath.Join(dir, "local", "stratum"), &local); err != nil {
		return err
	}
	if err := readJSONFile(filepath.Join(dir, "network", "stats"), &net); err != nil {
		return err
	}
	if err := readJSONFile(filepath.Join(dir, "pool", "stats"), &ps); err != nil {
		return err
	}
	s.Hashrate15m = local.Hashrate15m
	s.Hashrate1h = local.Hashrate1h
	s.Hashrate24h = local.Hashrate24h
	s.TotalHashes = local.TotalHashes
	s.SharesFound = local.SharesFound
	s.SharesFailed = local.SharesFailed
	s.AverageEffort = local.AverageEffort
	s.CurrentEffort = local.CurrentEffort
	s.Connections = local.Connections
	s.RewardSharePct = local.BlockRewardSharePercent
	s.NetworkDifficulty = net.Difficulty
	s.NetworkHeight = net.Height
	st := ps.PoolStatistics
	s.PoolHashrate = st.HashRate
	s.Miners = st.Miners
	s.TotalBlocksFound = st.TotalBlocksFound
	s.PPLNSWindow = st.PPLNSWindowSize
	s.SidechainDifficulty = st.SidechainDifficulty
	s.SidechainHeight = st.SidechainHeight
	metrics.SetHashrate(process.P2Pool.String(), "15m", s.Hashrate15m)
	return nil
}
