package watchdog

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/env"
	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/pool"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/pubapi"
)

// XMRig runs the CPU miner.
type XMRig struct {
	cfg     config.XMRigConfig
	env     *env.Env
	addrs   pool.Addresses
	current func() pool.Node
	client  *http.Client
}

// NewXMRig builds the capability. current reports the node the donation loop has
// the miner on; it may be nil when the loop is not used.
func NewXMRig(cfg config.XMRigConfig, e *env.Env, addrs pool.Addresses, current func() pool.Node, client *http.Client) *XMRig {
	return &XMRig{cfg: cfg, env: e, addrs: addrs, current: current, client: defaultClient(client)}
}

func (x *XMRig) Kind() process.Kind                          { return process.XMRig }
func (x *XMRig) StartingState() process.State                { return process.NotMining }
func (x *XMRig) ClassifyExit(c int, err error) process.State { return ClassifyExit(c, err) }

func (x *XMRig) BuildCommand() (process.Command, error) {
	c := x.cfg
	if c.Path == "" {
		return process.Command{}, fmt.Errorf("xmrig path not configured")
	}
	args := []string{"--url", c.Pool, "--user", c.User}
	if c.RigID != "" {
		args = append(args, "--rig-id", c.RigID)
	}
	if c.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(c.Threads))
	}
	args = append(args, "--no-color")
	args = append(args, minerHTTPArgs(c.MinerHTTP)...)
	if c.Keepalive {
		args = append(args, "--keepalive")
	}
	if c.PauseOnActive > 0 {
		args = append(args, "--pause-on-active", strconv.Itoa(c.PauseOnActive))
	}
	args = append(args, c.Args...)
	return command(c.Path, args, x.env, c.Env), nil
}

// ParseLine toggles NotMining/Alive and reports a failing pool when it is the
// donation node currently in use. XMRig fails over on its own, so no demotion.
func (x *XMRig) ParseLine(line string, cur process.State, s *pubapi.XMRig) Effect {
	m := scanMinerLine(line)
	if m.usePool != "" {
		s.ActivePool = m.usePool
	}
	var eff Effect
	if next, ok := m.toggle(cur); ok {
		eff.SetState, eff.State = true, next
	}
	if m.failing && x.current != nil {
		if n, ok := failingDonation(x.addrs, line); ok && n == x.current() {
			eff.Failover, eff.Failed = true, n
		}
	}
	return eff
}

type xmrigSummary struct {
	Version  string `json:"version"`
	WorkerID string `json:"worker_id"`
	Uptime   uint64 `json:"uptime"`
	Hashrate struct {
		Total   []float64 `json:"total"`
		Highest float64   `json:"highest"`
	} `json:"hashrate"`
	Results struct {
		DiffCurrent uint64 `json:"diff_current"`
		SharesGood  uint64 `json:"shares_good"`
		SharesTotal uint64 `json:"shares_total"`
	} `json:"results"`
	Connection struct {
		Pool string `json:"pool"`
		Ping uint64 `json:"ping"`
	} `json:"connection"`
	CPU struct {
		Threads int `json:"threads"`
	} `json:"cpu"`
}

func (x *XMRig) PollAPI(ctx context.Context, s *pubapi.XMRig) error {
	var sum xmrigSummary
	if err := doJSON(ctx, x.client, http.MethodGet, x.cfg.BaseURL()+summaryPath, x.cfg.Token, nil, &sum); err != nil {
		return err
	}
	s.Version = sum.Version
	s.WorkerID = sum.WorkerID
	s.Uptime = sum.Uptime
	s.Hashrate10s = at(sum.Hashrate.Total, 0)
	s.Hashrate1m = at(sum.Hashrate.Total, 1)
	s.Hashrate15m = at(sum.Hashrate.Total, 2)
	s.HashrateMax = sum.Hashrate.Highest
	s.Difficulty = sum.Results.DiffCurrent
	s.SharesGood = sum.Results.SharesGood
	s.SharesTotal = sum.Results.SharesTotal
	s.Pool = sum.Connection.Pool
	s.PingMs = sum.Connection.Ping
	s.Threads = sum.CPU.Threads
	metrics.SetHashrate(process.XMRig.String(), "15m", s.Hashrate15m)
	return nil
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}
