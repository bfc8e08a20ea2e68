package xvb

import (
	"context"
	"errors"
	"net"
	"sort"
	"time"

	"github.com/loykin/hashvisr/internal/pool"
	"golang.org/x/sync/errgroup"
)

// ErrNoReachableNode is returned when every candidate failed its probe.
var ErrNoReachableNode = errors.New("xvb: no donation node reachable")

// ProbeFunc checks that addr accepts connections and returns the round trip.
type ProbeFunc func(ctx context.Context, addr string) (time.Duration, error)

// TCPProbe dials addr and closes the connection right away.
func TCPProbe(ctx context.Context, addr string) (time.Duration, error) {
	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	_ = conn.Close()
	return time.Since(start), nil
}

// Ranked is a reachable node and its probe latency.
type Ranked struct {
	Node    pool.Node
	Latency time.Duration
}

// Ranker orders donation nodes by liveness.
type Ranker struct {
	Addrs   pool.Addresses
	Probe   ProbeFunc
	Timeout time.Duration
}

// Rank probes every candidate concurrently and returns the reachable ones, fastest
// first. Ties keep the candidates' order.
func (r Ranker) Rank(ctx context.Context, candidates []pool.Node) ([]Ranked, error) {
	probe := r.Probe
	if probe == nil {
		probe = TCPProbe
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	results := make([]*Ranked, len(candidates))
	var g errgroup.Group
	for i, n := range candidates {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			lat, err := probe(pctx, r.Addrs.Endpoint(n).URL)
			if err == nil {
				results[i] = &Ranked{Node: n, Latency: lat}
			}
			return nil
		})
	}
	_ = g.Wait()
	var out []Ranked
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoReachableNode
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Latency < out[j].Latency })
	return out, nil
}

// Best returns the fastest reachable candidate, excluding skip.
func (r Ranker) Best(ctx context.Context, skip pool.Node) (pool.Node, error) {
	var cands []pool.Node
	for _, n := range pool.DonationNodes() {
		if n != skip {
			cands = append(cands, n)
		}
	}
	ranked, err := r.Rank(ctx, cands)
	if err != nil {
		return pool.P2Pool, err
	}
	return ranked[0].Node, nil
}
