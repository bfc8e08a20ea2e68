// Package xvb runs the donation loop: it polls the remote raffle service, decides
// once per interval how much local hashrate to donate, and points the miner at a
// donation node or back at P2Pool through the miner's config API.
package xvb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/pool"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/pubapi"
)

// Sources gives the loop read access to the other kinds' published stats and
// whether they are running.
type Sources interface {
	P2Pool() (pubapi.P2Pool, bool)
	XMRig() (pubapi.XMRig, bool)
	Proxy() (pubapi.Proxy, bool)
}

var (
	walletRe = regexp.MustCompile(`^[48][1-9A-HJ-NP-Za-km-z]{94}$`)
	tokenRe  = regexp.MustCompile(`^[0-9]{1,16}$`)
)

// ValidWallet reports whether s looks like a Monero primary or subaddress.
func ValidWallet(s string) bool { return walletRe.MatchString(s) }

// ValidToken reports whether s looks like a raffle token.
func ValidToken(s string) bool { return tokenRe.MatchString(s) }

// Options tunes a Loop. Zero durations fall back to the config defaults.
type Options struct {
	Tick             time.Duration
	DecisionInterval time.Duration
	PublicInterval   time.Duration
	PrivateInterval  time.Duration
	RetryInterval    time.Duration
	RerankInterval   time.Duration
	HTTPTimeout      time.Duration
	Wallet           string
	Token            string
	Logger           *slog.Logger
	// Now is the clock; tests replace it.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&o.Tick, time.Second)
	def(&o.DecisionInterval, 600*time.Second)
	def(&o.PublicInterval, 60*time.Second)
	def(&o.PrivateInterval, 60*time.Second)
	def(&o.RetryInterval, 10*time.Second)
	def(&o.RerankInterval, 10*time.Second)
	def(&o.HTTPTimeout, 10*time.Second)
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// OptionsFrom maps the [xvb] section and the P2Pool wallet onto Options.
func OptionsFrom(c config.XvbConfig, wallet string, tick time.Duration) Options {
	return Options{
		Tick:             tick,
		DecisionInterval: c.DecisionInterval,
		PublicInterval:   c.PublicInterval,
		PrivateInterval:  c.PrivateInterval,
		RetryInterval:    c.RetryInterval,
		RerankInterval:   c.RerankInterval,
		HTTPTimeout:      c.HTTPTimeout,
		Wallet:           wallet,
		Token:            c.Token,
	}
}

// Loop is the donation loop. It owns the XvB process state and live buffer while
// running, the same way a Watchdog owns a child.
type Loop struct {
	proc    *process.ManagedProcess
	api     *pubapi.Pair[pubapi.Xvb]
	client  *Client
	ranker  Ranker
	pusher  *Pusher
	runtime *config.Runtime
	src     Sources
	opts    Options
	log     *slog.Logger

	// per run
	stats       pubapi.Xvb
	decision    AlgorithmStats
	best        pool.Node
	ranked      bool
	rejected    bool
	lastPublic  time.Time
	lastPrivate time.Time
	lastRerank  time.Time
	task        *Task
	failedAt    time.Time
	failedNode  pool.Node
	// unsure is set when a push failed or was cut short, so the miner may be on a
	// node other than the one the pusher has cached.
	unsure bool
}

func NewLoop(proc *process.ManagedProcess, api *pubapi.Pair[pubapi.Xvb], client *Client, ranker Ranker,
	pusher *Pusher, rt *config.Runtime, src Sources, opts Options) *Loop {
	opts = opts.withDefaults()
	return &Loop{
		proc:    proc,
		api:     api,
		client:  client,
		ranker:  ranker,
		pusher:  pusher,
		runtime: rt,
		src:     src,
		opts:    opts,
		log:     opts.Logger.With("kind", process.XvB.String()),
	}
}

// Current is the node the miner was last successfully pointed at.
func (l *Loop) Current() pool.Node { return l.pusher.Current() }

// Run loops until told to stop. The caller has already moved the process to
// Middle with a Start signal.
func (l *Loop) Run(ctx context.Context) {
	l.reset()
	l.api.Reset()
	l.api.AppendLive(fmt.Sprintf("%s\n[XvB] started at %s\n%s\n",
		process.HorizontalRule, l.opts.Now().Format(time.RFC3339), process.HorizontalRule))
	l.proc.MarkStarted(l.opts.Now())
	l.setState(l.initialState(ctx))
	l.proc.ClearSignalIf(process.StartSignal)
	l.log.Info("started", "state", l.proc.State().String())

	ticker := time.NewTicker(l.opts.Tick)
	defer ticker.Stop()
	for {
		if done := l.step(ctx); done {
			return
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

func (l *Loop) reset() {
	l.stats = pubapi.Xvb{}
	l.decision = AlgorithmStats{}
	l.best = pool.Europe
	l.ranked = false
	l.rejected = false
	l.lastPublic = time.Time{}
	l.lastPrivate = time.Time{}
	l.lastRerank = time.Time{}
	l.task = nil
	l.failedAt = time.Time{}
	l.unsure = false
}

// ready is the precondition for decisions: well-formed credentials, P2Pool alive
// and at least one miner alive.
func (l *Loop) ready() (bool, string) {
	if !ValidWallet(l.opts.Wallet) {
		return false, "p2pool wallet address is not valid"
	}
	if !ValidToken(l.opts.Token) {
		return false, "xvb token is not valid"
	}
	if _, ok := l.src.P2Pool(); !ok {
		return false, "p2pool is not alive"
	}
	_, xAlive := l.src.XMRig()
	_, pAlive := l.src.Proxy()
	if !xAlive && !pAlive {
		return false, "no miner is alive"
	}
	return true, ""
}

func (l *Loop) initialState(ctx context.Context) process.State {
	ok, why := l.ready()
	if !ok {
		l.api.AppendLive(fmt.Sprintf("[XvB] waiting: %s\n", why))
		return process.Syncing
	}
	if !l.rank(ctx, pool.P2Pool) {
		return process.OfflineNodesAll
	}
	return process.Alive
}

// step runs one tick. It returns true when the run is over.
func (l *Loop) step(ctx context.Context) bool {
	now := l.opts.Now()

	sig := l.proc.Signal()
	if ctx.Err() != nil {
		sig = process.StopSignal
	}
	switch sig.Type {
	case process.SignalStop, process.SignalRestart:
		l.shutdown(sig)
		return true
	case process.SignalUpdateNodes:
		l.proc.ClearSignalIf(sig)
		l.failover(ctx, sig.Target)
	}

	l.updateState(ctx, now)
	cur := l.proc.State()

	if now.Sub(l.lastPublic) >= l.opts.PublicInterval {
		l.pollPublic(ctx)
		l.lastPublic = now
	}

	if (cur == process.Alive || cur == process.Retry) && l.privateDue(cur, now) {
		l.pollPrivate(ctx)
		l.lastPrivate = now
		cur = l.proc.State()
	}

	if (cur == process.Alive || cur == process.Retry) && l.decisionDue(now) {
		l.decide(now)
	}

	l.reconcile(ctx, cur, now)
	l.publish(now)
	return false
}

// updateState moves between Syncing and the running states as the precondition
// comes and goes, and re-ranks while every node is offline.
func (l *Loop) updateState(ctx context.Context, now time.Time) {
	cur := l.proc.State()
	ok, why := l.ready()
	switch {
	case !ok && cur != process.Syncing && cur != process.NotMining:
		l.log.Warn("precondition lost", "reason", why)
		l.api.AppendLive(fmt.Sprintf("[XvB] waiting: %s\n", why))
		l.setState(process.Syncing)
	case ok && cur == process.Syncing:
		if !l.ranked && !l.rank(ctx, pool.P2Pool) {
			l.setState(process.OfflineNodesAll)
			return
		}
		l.log.Info("precondition met")
		l.setState(process.Alive)
	case cur == process.OfflineNodesAll && now.Sub(l.lastRerank) >= l.opts.RerankInterval:
		if l.rank(ctx, pool.P2Pool) {
			l.api.AppendLive(fmt.Sprintf("[XvB] %s is reachable again\n", l.best))
			l.setState(process.Alive)
		}
	}
}

// rank picks the best donation node other than skip. It records the attempt time
// and reports whether any node answered.
func (l *Loop) rank(ctx context.Context, skip pool.Node) bool {
	l.lastRerank = l.opts.Now()
	n, err := l.ranker.Best(ctx, skip)
	if err != nil {
		l.log.Warn("no donation node reachable", "error", err)
		l.ranked = false
		return false
	}
	if n != l.best {
		l.log.Info("donation node selected", "node", n.String())
	}
	l.best = n
	l.ranked = true
	return true
}

// failover handles a failing donation node reported by a miner watchdog.
func (l *Loop) failover(ctx context.Context, failed pool.Node) {
	l.api.AppendLive(fmt.Sprintf("[XvB] %s stopped answering, looking for another node\n", failed))
	if l.rank(ctx, failed) {
		return
	}
	l.api.AppendLive("[XvB] no donation node reachable, mining on p2pool\n")
	if !l.rejected {
		l.setState(process.OfflineNodesAll)
	}
}

func (l *Loop) privateDue(cur process.State, now time.Time) bool {
	every := l.opts.PrivateInterval
	if cur == process.Retry {
		every = l.opts.RetryInterval
	}
	return now.Sub(l.lastPrivate) >= every
}

func (l *Loop) decisionDue(now time.Time) bool {
	return l.decision.DecidedAt.IsZero() || now.Sub(l.decision.DecidedAt) >= l.opts.DecisionInterval
}

func (l *Loop) pollPublic(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, l.opts.HTTPTimeout)
	defer cancel()
	p, err := l.client.Public(pctx)
	if err != nil {
		l.log.Debug("public stats failed", "error", err)
		return
	}
	l.stats.TimeRemain = p.TimeRemain
	l.stats.BonusHr = p.BonusHr
	l.stats.DonateHr = p.DonateHr
	l.stats.DonateMiners = p.DonateMiners
	l.stats.DonateWorkers = p.DonateWorkers
	l.stats.Players = p.Players
	l.stats.PlayersRound = p.PlayersRound
	l.stats.Winner = p.Winner
	l.stats.RoundType = p.RoundType
}

func (l *Loop) pollPrivate(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, l.opts.HTTPTimeout)
	defer cancel()
	p, err := l.client.Private(pctx, l.opts.Wallet, l.opts.Token)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		l.rejected = true
		l.stats.PrivateOK = false
		l.log.Error("xvb rejected the wallet and token; donations disabled for this run")
		l.api.AppendLive("[XvB] wallet/token rejected by the service, donations disabled\n")
		l.setState(process.NotMining)
	case errors.Is(err, context.Canceled):
	case err != nil:
		if l.proc.State() != process.Retry {
			l.log.Warn("private stats failed, retrying", "error", err)
		}
		l.stats.PrivateOK = false
		l.setState(process.Retry)
	default:
		if l.proc.State() == process.Retry {
			l.log.Info("private stats reachable again")
			l.setState(process.Alive)
		}
		l.stats.Fails = p.Fails
		l.stats.Donor1hAvg = p.Donor1hAvg
		l.stats.Donor24hAvg = p.Donor24hAvg
		l.stats.PrivateOK = true
	}
}

func (l *Loop) decide(now time.Time) {
	p2, _ := l.src.P2Pool()
	x, _ := l.src.XMRig()
	px, pAlive := l.src.Proxy()
	in := Inputs{
		Settings:            l.runtime.Get(),
		Hashrate:            TrailingHashrate(pAlive, px, x),
		SidechainDifficulty: p2.SidechainDifficulty,
		PPLNSWindow:         p2.PPLNSWindow,
		SidechainEHR:        p2.SidechainEHR,
	}
	l.decision = Decide(in, l.best, l.opts.DecisionInterval, now)
	metrics.RecordDecision(string(in.Settings.Mode), l.decision.TargetDonation)
	l.log.Info("decision", "mode", string(in.Settings.Mode), "hashrate", in.Hashrate,
		"target", l.decision.TargetDonation, "donate_for", l.decision.DonateFor.String(), "node", l.decision.CurrentNode.String())
	l.api.AppendLive(fmt.Sprintf("[XvB] %s\n", l.decision.Indicator))
}

// desired is where the miner should be now.
func (l *Loop) desired(cur process.State, now time.Time) pool.Node {
	if cur != process.Alive && cur != process.Retry {
		return pool.P2Pool
	}
	if l.decision.Donating(now) {
		return l.best
	}
	return pool.P2Pool
}

// reconcile submits a push when the miner is not where it should be. Pushes run in
// the background. A push that no longer matches the wanted node is cancelled at
// once; only a push that failed is held back for RetryInterval before it is
// tried again.
func (l *Loop) reconcile(ctx context.Context, cur process.State, now time.Time) {
	want := l.desired(cur, now)
	if l.task != nil {
		select {
		case <-l.task.Done():
		default:
			if want == l.task.Node {
				return
			}
			l.log.Info("superseding miner config push", "from", l.task.Node.String(), "to", want.String())
			l.pusher.Cancel()
		}
		l.finishPush(now)
	}
	if want == l.pusher.Current() && !l.unsure {
		return
	}
	if !l.failedAt.IsZero() && want == l.failedNode && now.Sub(l.failedAt) < l.opts.RetryInterval {
		return
	}
	l.task = l.pusher.Submit(ctx, want)
}

// finishPush records the outcome of the completed task.
func (l *Loop) finishPush(now time.Time) {
	t := l.task
	l.task = nil
	err := t.Wait()
	switch {
	case err == nil:
		l.failedAt = time.Time{}
		l.unsure = false
		l.log.Info("miner switched", "node", t.Node.String())
		l.api.AppendLive(fmt.Sprintf("[XvB] miner now on %s\n", t.Node))
	case errors.Is(err, context.Canceled):
		l.unsure = true
	default:
		l.unsure = true
		l.failedAt, l.failedNode = now, t.Node
		l.log.Warn("miner config push failed", "node", t.Node.String(), "error", err)
	}
}

func (l *Loop) publish(now time.Time) {
	s := l.stats
	s.Mode = string(l.runtime.Get().Mode)
	s.TargetDonation = l.decision.TargetDonation
	s.DonateFor = l.decision.DonateFor
	s.Indicator = l.decision.Indicator
	s.DecidedAt = l.decision.DecidedAt
	s.TimeUntilSwitch = l.decision.TimeUntilSwitch(now)
	s.CurrentNode = l.pusher.Current().String()
	l.api.PublishStats(s)
}

// shutdown pins the miner back to P2Pool before leaving, so a stopped loop never
// leaves it donating.
func (l *Loop) shutdown(sig process.Signal) {
	l.pusher.Cancel()
	l.task = nil
	if l.pusher.Current() != pool.P2Pool {
		ctx, cancel := context.WithTimeout(context.Background(), l.opts.HTTPTimeout)
		if err := l.pusher.Push(ctx, pool.P2Pool); err != nil {
			l.log.Warn("could not return miner to p2pool", "error", err)
		}
		cancel()
	}
	next, verb := process.Dead, "stopped"
	if sig.Type == process.SignalRestart {
		next, verb = process.Waiting, "stopped for restart"
	}
	l.api.AppendLive(fmt.Sprintf("%s\n[XvB] %s\n%s\n", process.HorizontalRule, verb, process.HorizontalRule))
	l.log.Info(verb)
	l.proc.MarkExited(0, nil)
	l.setState(next)
	l.proc.ClearSignal()
}

func (l *Loop) setState(s process.State) {
	if err := l.proc.SetState(s); err != nil {
		l.log.Warn("state change rejected", "error", err)
	}
}
