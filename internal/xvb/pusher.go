package xvb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/pool"
)

// MinerAPI locates the HTTP API of the miner that receives the pool change.
type MinerAPI struct {
	BaseURL string
	Token   string
}

// Task is one config push. Wait blocks until it finished or was cancelled.
type Task struct {
	Node   pool.Node
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Done is closed when the push is over.
func (t *Task) Done() <-chan struct{} { return t.done }

// Pusher rewrites the active pool of the miner's live config. At most one push
// runs at a time; submitting a new one cancels and awaits the old one first.
type Pusher struct {
	client *http.Client
	target func() MinerAPI
	addrs  func() pool.Addresses

	mu       sync.Mutex
	current  pool.Node
	inflight *Task
}

// NewPusher returns a pusher. target picks the miner API at push time; addrs gives
// the endpoint parameters per node.
func NewPusher(client *http.Client, target func() MinerAPI, addrs func() pool.Addresses) *Pusher {
	if client == nil {
		client = &http.Client{}
	}
	return &Pusher{client: client, target: target, addrs: addrs, current: pool.P2Pool}
}

// Current is the node the last successful push selected.
func (p *Pusher) Current() pool.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Reset forgets the cached node after the miner restarted with its configured pool.
func (p *Pusher) Reset() {
	p.mu.Lock()
	p.current = pool.P2Pool
	p.mu.Unlock()
}

// Busy reports whether a push is running.
func (p *Pusher) Busy() bool {
	p.mu.Lock()
	t := p.inflight
	p.mu.Unlock()
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Submit starts pushing n in the background, after cancelling and awaiting any
// push still running.
func (p *Pusher) Submit(ctx context.Context, n pool.Node) *Task {
	p.mu.Lock()
	prev := p.inflight
	p.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &Task{Node: n, done: make(chan struct{}), cancel: cancel}
	p.mu.Lock()
	p.inflight = t
	p.mu.Unlock()
	go func() {
		defer close(t.done)
		defer cancel()
		t.err = p.push(tctx, n)
		if t.err == nil {
			p.mu.Lock()
			p.current = n
			p.mu.Unlock()
		}
		metrics.RecordPush(t.err == nil)
	}()
	return t
}

// Push runs a push synchronously.
func (p *Pusher) Push(ctx context.Context, n pool.Node) error {
	return p.Submit(ctx, n).Wait()
}

// Cancel stops and awaits the running push, if any.
func (p *Pusher) Cancel() {
	p.mu.Lock()
	t := p.inflight
	p.mu.Unlock()
	if t != nil {
		t.cancel()
		<-t.done
	}
}

// push is all-or-nothing: any failed step returns before the cache is touched.
func (p *Pusher) push(ctx context.Context, n pool.Node) error {
	api := p.target()
	if api.BaseURL == "" {
		return errors.New("xvb: no miner to push to")
	}
	ep := p.addrs().Endpoint(n)
	var cfg map[string]any
	if err := p.do(ctx, http.MethodGet, api, nil, &cfg); err != nil {
		return fmt.Errorf("read miner config: %w", err)
	}
	if err := rewritePool(cfg, ep); err != nil {
		return err
	}
	if err := p.do(ctx, http.MethodPut, api, cfg, nil); err != nil {
		return fmt.Errorf("write miner config: %w", err)
	}
	return nil
}

// rewritePool sets the connection fields of the first pool entry and leaves the
// rest of the document as it was.
func rewritePool(cfg map[string]any, ep pool.Endpoint) error {
	pools, ok := cfg["pools"].([]any)
	if !ok || len(pools) == 0 {
		return errors.New("miner config has no pools")
	}
	p0, ok := pools[0].(map[string]any)
	if !ok {
		return errors.New("miner config pools[0] is not an object")
	}
	p0["url"] = ep.URL
	p0["user"] = ep.User
	if ep.RigID != "" {
		p0["rig-id"] = ep.RigID
	} else {
		p0["rig-id"] = nil
	}
	p0["tls"] = ep.TLS
	p0["keepalive"] = ep.Keepalive
	return nil
}

func (p *Pusher) do(ctx context.Context, method string, api MinerAPI, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, api.BaseURL+"/1/config", rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if api.Token != "" {
		req.Header.Set("Authorization", "Bearer "+api.Token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s /1/config: status %d", method, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
