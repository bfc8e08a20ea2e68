package watchdog

import (
	"context"
	"fmt"
	"net/http"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/env"
	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/pool"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/pubapi"
)

// Proxy runs xmrig-proxy. Its API reports hashrates in kH/s.
type Proxy struct {
	cfg    config.ProxyConfig
	env    *env.Env
	addrs  pool.Addresses
	client *http.Client
}

func NewProxy(cfg config.ProxyConfig, e *env.Env, addrs pool.Addresses, client *http.Client) *Proxy {
	return &Proxy{cfg: cfg, env: e, addrs: addrs, client: defaultClient(client)}
}

func (p *Proxy) Kind() process.Kind                          { return process.XMRigProxy }
func (p *Proxy) StartingState() process.State                { return process.NotMining }
func (p *Proxy) ClassifyExit(c int, err error) process.State { return ClassifyExit(c, err) }

func (p *Proxy) BuildCommand() (process.Command, error) {
	c := p.cfg
	if c.Path == "" {
		return process.Command{}, fmt.Errorf("xmrig-proxy path not configured")
	}
	args := []string{"--url", c.Pool, "--user", c.User}
	if c.RigID != "" {
		args = append(args, "--rig-id", c.RigID)
	}
	args = append(args, "--bind", c.Bind, "--no-color")
	args = append(args, minerHTTPArgs(c.MinerHTTP)...)
	if c.Keepalive {
		args = append(args, "--keepalive")
	}
	args = append(args, c.Args...)
	return command(c.Path, args, p.env, c.Env), nil
}

// ParseLine toggles like XMRig and additionally demotes Alive to NotMining on
// upstream errors. A failing donation node is reported for failover.
func (p *Proxy) ParseLine(line string, cur process.State, s *pubapi.Proxy) Effect {
	m := scanMinerLine(line)
	if m.usePool != "" {
		s.ActivePool = m.usePool
	}
	var eff Effect
	if next, ok := m.toggle(cur); ok {
		eff.SetState, eff.State = true, next
	}
	if m.failing {
		if cur == process.Alive {
			eff.SetState, eff.State = true, process.NotMining
		}
		if n, ok := failingDonation(p.addrs, line); ok {
			eff.Failover, eff.Failed = true, n
		}
	}
	return eff
}

type proxySummary struct {
	Version  string `json:"version"`
	Uptime   uint64 `json:"uptime"`
	Hashrate struct {
		Total []float64 `json:"total"`
	} `json:"hashrate"`
	Miners struct {
		Now int `json:"now"`
		Max int `json:"max"`
	} `json:"miners"`
	Results struct {
		Accepted uint64 `json:"accepted"`
		Rejected uint64 `json:"rejected"`
	} `json:"results"`
	Upstreams struct {
		Active int `json:"active"`
	} `json:"upstreams"`
}

const kilo = 1000

func (p *Proxy) PollAPI(ctx context.Context, s *pubapi.Proxy) error {
	var sum proxySummary
	if err := doJSON(ctx, p.client, http.MethodGet, p.cfg.BaseURL()+summaryPath, p.cfg.Token, nil, &sum); err != nil {
		return err
	}
	t := sum.Hashrate.Total
	s.Version = sum.Version
	s.Uptime = sum.Uptime
	s.Hashrate1m = at(t, 0) * kilo
	s.Hashrate10m = at(t, 1) * kilo
	s.Hashrate1h = at(t, 2) * kilo
	s.Hashrate12h = at(t, 3) * kilo
	s.Hashrate24h = at(t, 4) * kilo
	s.Miners = sum.Miners.Now
	s.MinersMax = sum.Miners.Max
	s.Accepted = sum.Results.Accepted
	s.Rejected = sum.Results.Rejected
	s.Upstreams = sum.Upstreams.Active
	metrics.SetHashrate(process.XMRigProxy.String(), "10m", s.Hashrate10m)
	return nil
}
