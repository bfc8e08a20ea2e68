// Package supervisor owns the five process handles, their live/display buffers and
// the loops that drive them. It runs the one-second tick that publishes live state
// to the front end and exposes the start/stop/restart entry points.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/cron"
	"github.com/loykin/hashvisr/internal/detector"
	"github.com/loykin/hashvisr/internal/env"
	"github.com/loykin/hashvisr/internal/lockorder"
	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/pool"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/pubapi"
	"github.com/loykin/hashvisr/internal/watchdog"
	"github.com/loykin/hashvisr/internal/xvb"
)

var (
	// ErrNotStartable is returned by Start when the kind is still running or stopping.
	ErrNotStartable = errors.New("process is not startable")
	ErrUnknownKind  = errors.New("unknown process kind")
	// ErrNotRunning is returned by SendStdin and Restart for a kind with no live run.
	ErrNotRunning = errors.New("process is not running")
	ErrBusy       = errors.New("process already has a pending stop or restart")
	ErrNoConsole  = errors.New("process has no console")
)

// Telemetry samples host and per-child resource usage once per tick.
type Telemetry interface {
	Sample(ctx context.Context, children map[string]int32) (metrics.Host, error)
}

// Options are the collaborators tests and embedders may replace.
type Options struct {
	Logger *slog.Logger
	// Telemetry defaults to a gopsutil sampler when the config enables it.
	Telemetry Telemetry
	// HTTPClient is used for child stats APIs and the donation service.
	HTTPClient *http.Client
	// Probe overrides the donation node liveness probe.
	Probe xvb.ProbeFunc
	// Console returns the writer that receives a copy of a child's console.
	// Defaults to the rotated console logs from the [log] section.
	Console func(name string) io.WriteCloser
}

type runner interface {
	Run(ctx context.Context)
}

type pider interface {
	PID() int32
}

// Supervisor coordinates every supervised kind.
type Supervisor struct {
	cfg     *config.Config
	log     *slog.Logger
	env     *env.Env
	addrs   pool.Addresses
	runtime *config.Runtime

	procs   map[process.Kind]*process.ManagedProcess
	mergers []pubapi.Merger
	runners map[process.Kind]runner

	node   *pubapi.Pair[pubapi.Node]
	p2pool *pubapi.Pair[pubapi.P2Pool]
	xmrig  *pubapi.Pair[pubapi.XMRig]
	proxy  *pubapi.Pair[pubapi.Proxy]
	xvb    *pubapi.Pair[pubapi.Xvb]

	pusher *xvb.Pusher

	pids  *detector.Dir
	sched *cron.Scheduler

	telemetry Telemetry
	teleMu    *lockorder.Mutex
	host      metrics.Host

	backupMu sync.Mutex
	backups  func() []config.NodeHost

	runMu   sync.Mutex
	running map[process.Kind]chan struct{}

	// Run goroutines take only flushMu, so done closes even while Start waits
	// on it under runMu.
	flushMu sync.Mutex
	flush   map[process.Kind]bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
	closers   []io.Closer
}

// New wires the supervisor from configuration. Nothing runs until Run.
func New(cfg *config.Config, opts Options) (*Supervisor, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	e, err := cfg.ChildEnv()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:       cfg,
		log:       log,
		env:       e,
		runtime:   config.NewRuntime(cfg.Xvb.Runtime()),
		procs:     map[process.Kind]*process.ManagedProcess{},
		runners:   map[process.Kind]runner{},
		node:      pubapi.NewPair[pubapi.Node](process.Node),
		p2pool:    pubapi.NewPair[pubapi.P2Pool](process.P2Pool),
		xmrig:     pubapi.NewPair[pubapi.XMRig](process.XMRig),
		proxy:     pubapi.NewPair[pubapi.Proxy](process.XMRigProxy),
		xvb:       pubapi.NewPair[pubapi.Xvb](process.XvB),
		teleMu:    lockorder.New(lockorder.BandTelemetry, "telemetry"),
		running:   map[process.Kind]chan struct{}{},
		flush:     map[process.Kind]bool{},
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	s.mergers = []pubapi.Merger{s.node, s.p2pool, s.xmrig, s.proxy, s.xvb}
	s.addrs = pool.Addresses{
		P2PoolURL:        cfg.XMRig.Pool,
		P2PoolUser:       cfg.XMRig.User,
		P2PoolRigID:      cfg.XMRig.RigID,
		EuropeAddr:       cfg.Xvb.EuropeAddr,
		NorthAmericaAddr: cfg.Xvb.NorthAmericaAddr,
		Wallet:           cfg.P2Pool.Wallet,
		Token:            cfg.Xvb.Token,
	}

	for _, k := range process.Kinds() {
		p := process.NewManagedProcess(k)
		p.SetHook(s.onTransition)
		s.procs[k] = p
	}

	if cfg.Supervisor.PIDDir != "" {
		if s.pids, err = detector.NewDir(cfg.Supervisor.PIDDir); err != nil {
			cancel()
			return nil, err
		}
	}

	if s.sched, err = cron.NewScheduler(s, cfg.Schedules, log); err != nil {
		cancel()
		return nil, err
	}

	s.telemetry = opts.Telemetry
	if s.telemetry == nil && cfg.Supervisor.Telemetry {
		s.telemetry = metrics.NewSampler()
	}

	console := opts.Console
	if console == nil {
		console = cfg.Log.ConsoleWriter
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Supervisor.PollTimeout}
	}
	wdOpts := func(k process.Kind) watchdog.Options {
		w := console(k.String())
		s.closers = append(s.closers, w)
		return watchdog.Options{
			Tick:        cfg.Supervisor.Tick,
			PollTimeout: cfg.Supervisor.PollTimeout,
			StopGrace:   cfg.Supervisor.StopGrace,
			Console:     w,
			Failover:    s.failover,
			Logger:      log,
		}
	}

	s.pusher = xvb.NewPusher(client, s.minerAPI, func() pool.Addresses { return s.addrs })
	s.runners[process.Node] = watchdog.New[pubapi.Node](
		watchdog.NewNode(cfg.Node, e, client), s.procs[process.Node], s.node, wdOpts(process.Node))
	s.runners[process.P2Pool] = watchdog.New[pubapi.P2Pool](
		watchdog.NewP2Pool(cfg.P2Pool, e, s.nodeHosts), s.procs[process.P2Pool], s.p2pool, wdOpts(process.P2Pool))
	s.runners[process.XMRig] = watchdog.New[pubapi.XMRig](
		watchdog.NewXMRig(cfg.XMRig, e, s.addrs, s.pusher.Current, client), s.procs[process.XMRig], s.xmrig, wdOpts(process.XMRig))
	s.runners[process.XMRigProxy] = watchdog.New[pubapi.Proxy](
		watchdog.NewProxy(cfg.Proxy, e, s.addrs, client), s.procs[process.XMRigProxy], s.proxy, wdOpts(process.XMRigProxy))

	xvbClient := &http.Client{Timeout: cfg.Xvb.HTTPTimeout}
	if opts.HTTPClient != nil {
		xvbClient = opts.HTTPClient
	}
	loopOpts := xvb.OptionsFrom(cfg.Xvb, cfg.P2Pool.Wallet, cfg.Supervisor.Tick)
	loopOpts.Logger = log
	s.runners[process.XvB] = xvb.NewLoop(
		s.procs[process.XvB], s.xvb,
		xvb.NewClient(xvbClient, cfg.Xvb.PublicURL, cfg.Xvb.PrivateURL),
		xvb.Ranker{Addrs: s.addrs, Probe: opts.Probe, Timeout: cfg.Xvb.ProbeTimeout},
		s.pusher, s.runtime, sources{s}, loopOpts,
	)
	return s, nil
}

// Run autostarts the configured kinds and ticks until ctx is done. It does not stop
// the children; call Shutdown for that.
func (s *Supervisor) Run(ctx context.Context) {
	if s.pids != nil {
		if n := len(s.pids.Reap(s.cfg.Supervisor.StopGrace, s.log)); n > 0 {
			s.log.Info("stopped children left by a previous run", "count", n)
		}
	}
	if s.sched.Len() > 0 {
		s.sched.Start()
		defer s.sched.Stop()
	}
	for _, k := range process.Kinds() {
		if s.autostart(k) {
			if err := s.Start(k); err != nil {
				s.log.Warn("autostart failed", "kind", k.String(), "error", err)
			}
		}
	}
	tick := s.cfg.Supervisor.Tick
	if tick <= 0 {
		tick = time.Second
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

func (s *Supervisor) autostart(k process.Kind) bool {
	switch k {
	case process.Node:
		return s.cfg.Node.Autostart
	case process.P2Pool:
		return s.cfg.P2Pool.Autostart
	case process.XMRig:
		return s.cfg.XMRig.Autostart
	case process.XMRigProxy:
		return s.cfg.Proxy.Autostart
	case process.XvB:
		return s.cfg.Xvb.Autostart
	}
	return false
}

// Start spawns the loop for k. The kind must be Dead, Failed or Waiting.
func (s *Supervisor) Start(k process.Kind) error {
	if _, _, err := s.lookup(k); err != nil {
		return err
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.startLocked(k)
}

func (s *Supervisor) startLocked(k process.Kind) error {
	p, r := s.procs[k], s.runners[k]
	if st := p.State(); !st.CanStart() {
		return fmt.Errorf("%w: %s is %s", ErrNotStartable, k, st)
	}
	// A run that just reached a terminal state may still be unwinding.
	if done, ok := s.running[k]; ok {
		<-done
	}
	if err := p.RequestStart(); err != nil {
		return err
	}
	s.launch(k, r)
	s.log.Info("start requested", "kind", k.String())
	return nil
}

// launch runs r under the supervisor context. The caller holds runMu.
func (s *Supervisor) launch(k process.Kind, r runner) {
	done := make(chan struct{})
	s.running[k] = done
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.flushMu.Lock()
			s.flush[k] = true
			s.flushMu.Unlock()
			close(done)
		}()
		r.Run(s.ctx)
	}()
}

func (s *Supervisor) runningDone(k process.Kind) (chan struct{}, bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.activeLocked(k)
}

func (s *Supervisor) activeLocked(k process.Kind) (chan struct{}, bool) {
	done, ok := s.running[k]
	if !ok {
		return nil, false
	}
	select {
	case <-done:
		return done, false
	default:
		return done, true
	}
}

// Stop asks the loop for k to stop. Stopping a kind that is not running is a no-op.
func (s *Supervisor) Stop(k process.Kind) error {
	p, _, err := s.lookup(k)
	if err != nil {
		return err
	}
	s.runMu.Lock()
	if _, active := s.activeLocked(k); !active {
		defer s.runMu.Unlock()
		// Between the two halves of a restart there is no loop to act on the signal.
		if p.State() == process.Waiting {
			return p.SetState(process.Dead)
		}
		return nil
	}
	s.runMu.Unlock()
	s.log.Info("stop requested", "kind", k.String())
	return p.RequestStop()
}

// Restart stops the loop for k and starts it again once it reports Waiting. It
// returns as soon as the request is posted. A kind that is not running is started.
func (s *Supervisor) Restart(k process.Kind) error {
	p, _, err := s.lookup(k)
	if err != nil {
		return err
	}
	done, active := s.runningDone(k)
	if !active {
		if p.State().CanStart() {
			return s.Start(k)
		}
		return fmt.Errorf("%w: %s", ErrNotRunning, k)
	}
	if sig := p.Signal(); sig.Type == process.SignalStop || sig.Type == process.SignalRestart {
		return fmt.Errorf("%w: %s has %s", ErrBusy, k, sig)
	}
	if err := p.RequestRestart(); err != nil {
		return err
	}
	s.log.Info("restart requested", "kind", k.String())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-done:
		case <-s.ctx.Done():
			return
		}
		s.runMu.Lock()
		defer s.runMu.Unlock()
		// A Stop between the two halves moves Waiting to Dead and cancels the restart.
		if p.State() != process.Waiting {
			return
		}
		if err := s.startLocked(k); err != nil {
			s.log.Warn("restart failed", "kind", k.String(), "error", err)
		}
	}()
	return nil
}

// SendStdin queues a console line for a running child.
func (s *Supervisor) SendStdin(k process.Kind, line string) error {
	p, _, err := s.lookup(k)
	if err != nil {
		return err
	}
	if !k.HasChild() {
		return fmt.Errorf("%w: %s", ErrNoConsole, k)
	}
	if _, active := s.runningDone(k); !active {
		return fmt.Errorf("%w: %s", ErrNotRunning, k)
	}
	p.PushStdin(line)
	return nil
}

// Shutdown stops every kind and waits for the loops to finish. The donation loop
// goes first so it can return the miner to P2Pool while the miner still runs.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	defer s.closeConsoles()
	s.stopAndWait(ctx, process.XvB)
	for _, k := range []process.Kind{process.XMRigProxy, process.XMRig, process.P2Pool, process.Node} {
		if err := s.Stop(k); err != nil {
			s.log.Warn("stop failed", "kind", k.String(), "error", err)
		}
	}
	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	var err error
	select {
	case <-waited:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.cancel()
	s.Tick(context.Background())
	return err
}

func (s *Supervisor) stopAndWait(ctx context.Context, k process.Kind) {
	done, active := s.runningDone(k)
	if !active {
		return
	}
	if err := s.Stop(k); err != nil {
		s.log.Warn("stop failed", "kind", k.String(), "error", err)
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Supervisor) closeConsoles() {
	for _, c := range s.closers {
		_ = c.Close()
	}
	s.closers = nil
}

func (s *Supervisor) lookup(k process.Kind) (*process.ManagedProcess, runner, error) {
	p, ok := s.procs[k]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return p, s.runners[k], nil
}

// onTransition feeds metrics and forgets the pushed pool when a miner restarts,
// since a fresh miner comes up on its configured P2Pool endpoint.
func (s *Supervisor) onTransition(k process.Kind, from, to process.State) {
	metrics.RecordStateTransition(k.String(), from.String(), to.String())
	s.log.Debug("state", "kind", k.String(), "from", from.String(), "to", to.String())
	if (k == process.XMRig || k == process.XMRigProxy) && from == process.Middle && to == process.NotMining {
		s.pusher.Reset()
	}
}

// failover is called from a miner watchdog when the active donation node fails.
func (s *Supervisor) failover(failed pool.Node) {
	p := s.procs[process.XvB]
	if !p.IsAlive() {
		return
	}
	if err := p.Raise(process.UpdateNodes(failed)); err != nil {
		s.log.Debug("failover not raised", "node", failed.String(), "error", err)
	}
}

// minerAPI is where config pushes go: the proxy when it is mining, else XMRig.
func (s *Supervisor) minerAPI() xvb.MinerAPI {
	if s.procs[process.XMRigProxy].State() == process.Alive {
		return xvb.MinerAPI{BaseURL: s.cfg.Proxy.BaseURL(), Token: s.cfg.Proxy.Token}
	}
	if s.procs[process.XMRig].IsAlive() {
		return xvb.MinerAPI{BaseURL: s.cfg.XMRig.BaseURL(), Token: s.cfg.XMRig.Token}
	}
	return xvb.MinerAPI{}
}

// SetBackupHosts installs the source of fallback nodes P2Pool may follow.
func (s *Supervisor) SetBackupHosts(f func() []config.NodeHost) {
	s.backupMu.Lock()
	s.backups = f
	s.backupMu.Unlock()
}

func (s *Supervisor) nodeHosts() []config.NodeHost {
	hosts := []config.NodeHost{s.cfg.PrimaryHost()}
	hosts = append(hosts, s.cfg.P2Pool.Hosts...)
	s.backupMu.Lock()
	f := s.backups
	s.backupMu.Unlock()
	if f != nil {
		hosts = append(hosts, f()...)
	}
	return hosts
}

// sources adapts the display side for the donation loop.
type sources struct{ s *Supervisor }

func (src sources) P2Pool() (pubapi.P2Pool, bool) {
	return src.s.p2pool.DisplayStats(), src.s.procs[process.P2Pool].State() == process.Alive
}

func (src sources) XMRig() (pubapi.XMRig, bool) {
	return src.s.xmrig.DisplayStats(), src.s.procs[process.XMRig].State() == process.Alive
}

func (src sources) Proxy() (pubapi.Proxy, bool) {
	return src.s.proxy.DisplayStats(), src.s.procs[process.XMRigProxy].State() == process.Alive
}
