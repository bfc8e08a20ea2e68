// Package watchdog runs one supervised child program end to end: spawn on a
// pseudo-terminal, a cooperative tick loop that reacts to signals, parses console
// output, polls the child's stats API and publishes everything to the live buffer.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/pool"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/pubapi"
)

// Effect is what a console line asks the loop to do.
type Effect struct {
	// SetState requests a move to State; illegal moves are logged and ignored.
	SetState bool
	State    process.State
	// Failover reports that Failed, an active donation node, stopped answering.
	Failover bool
	Failed   pool.Node
}

// Capability is everything kind-specific about a child.
type Capability[T any] interface {
	Kind() process.Kind
	// BuildCommand resolves the program and its arguments from configuration.
	BuildCommand() (process.Command, error)
	StartingState() process.State
	// ParseLine inspects one console line. It may update the console-derived part
	// of stats in place.
	ParseLine(line string, current process.State, stats *T) Effect
	// PollAPI reads the child's stats API into stats. On error stats must be left
	// untouched.
	PollAPI(ctx context.Context, stats *T) error
	// ClassifyExit maps an unexpected exit to Dead or Failed.
	ClassifyExit(code int, err error) process.State
}

// Resetter is implemented by capabilities with per-run parse state.
type Resetter interface{ Reset() }

// PeriodicInput is implemented by capabilities that write console commands on a
// schedule. tick counts from 1 for each run.
type PeriodicInput interface {
	Input(tick int) []string
}

// Options tunes a Watchdog.
type Options struct {
	Tick        time.Duration
	PollTimeout time.Duration
	StopGrace   time.Duration
	// Console receives a copy of every console line, for example a rotated file.
	Console io.Writer
	// Failover is called when a line reports a failing donation node.
	Failover func(failed pool.Node)
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Watchdog owns one child and its live buffer for the duration of one run.
type Watchdog[T any] struct {
	cap  Capability[T]
	proc *process.ManagedProcess
	api  *pubapi.Pair[T]
	opts Options
	log  *slog.Logger

	pid   atomic.Int32
	stats T

	pollFailing bool
}

func New[T any](c Capability[T], proc *process.ManagedProcess, api *pubapi.Pair[T], opts Options) *Watchdog[T] {
	opts = opts.withDefaults()
	return &Watchdog[T]{
		cap:  c,
		proc: proc,
		api:  api,
		opts: opts,
		log:  opts.Logger.With("kind", c.Kind().String()),
	}
}

// PID of the running child, 0 when none.
func (w *Watchdog[T]) PID() int32 { return w.pid.Load() }

// Run spawns the child and loops until it exits or is told to stop. The caller has
// already moved the process to Middle with a Start signal.
func (w *Watchdog[T]) Run(ctx context.Context) {
	k := w.cap.Kind()
	title := k.Title()
	var zero T
	w.stats = zero
	w.pollFailing = false
	if r, ok := w.cap.(Resetter); ok {
		r.Reset()
	}
	w.api.Reset()

	cmd, err := w.cap.BuildCommand()
	if err == nil {
		err = cmd.Validate()
	}
	var child *process.Child
	if err == nil {
		child, err = process.Spawn(cmd, w.opts.Console)
	}
	if err != nil {
		w.log.Error("start failed", "error", err)
		w.api.AppendLive(fmt.Sprintf("[%s] start failed: %v\n", title, err))
		w.proc.MarkExited(-1, err)
		w.setState(process.Failed)
		w.proc.ClearSignal()
		return
	}
	defer child.Close()

	w.pid.Store(int32(child.PID()))
	defer w.pid.Store(0)
	w.proc.MarkStarted(child.StartedAt())
	w.setState(w.cap.StartingState())
	w.proc.ClearSignalIf(process.StartSignal)
	metrics.IncStart(k.String())
	w.log.Info("started", "pid", child.PID(), "command", cmd.String())
	w.api.AppendLive(banner(title, cmd, child.PID()))

	ticker := time.NewTicker(w.opts.Tick)
	defer ticker.Stop()
	tick := 0
	for {
		tick++
		if done := w.step(ctx, child, tick); done {
			return
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// step runs one iteration. It returns true when the run is over.
func (w *Watchdog[T]) step(ctx context.Context, child *process.Child, tick int) bool {
	title := w.cap.Kind().Title()

	// (a) unexpected exit
	if child.HasExited() {
		w.drainFinal(child, finalDrain)
		code, err := child.ExitStatus()
		st := w.cap.ClassifyExit(code, err)
		w.proc.MarkExited(code, err)
		w.setState(st)
		w.proc.ClearSignal()
		metrics.IncStop(w.cap.Kind().String())
		w.log.Warn("exited", "code", code, "state", st.String())
		w.api.AppendLive(exitLine(title, "exited", code, child.StartedAt()))
		return true
	}

	// (b) stop or restart; supervisor shutdown counts as stop
	sig := w.proc.Signal()
	if ctx.Err() != nil {
		sig = process.StopSignal
	}
	if sig.Type == process.SignalStop || sig.Type == process.SignalRestart {
		code, err := child.Stop(w.opts.StopGrace)
		w.drainFinal(child, finalDrain)
		w.proc.MarkExited(code, err)
		metrics.IncStop(w.cap.Kind().String())
		verb := "stopped"
		next := process.Dead
		if sig.Type == process.SignalRestart {
			verb = "stopped for restart"
			next = process.Waiting
		}
		w.api.AppendLive(exitLine(title, verb, code, child.StartedAt()))
		w.log.Info(verb, "code", code)
		w.setState(next)
		w.proc.ClearSignal()
		return true
	}

	// (c) stdin
	input := w.proc.DrainStdin()
	if p, ok := w.cap.(PeriodicInput); ok {
		input = append(input, p.Input(tick)...)
	}
	for _, line := range input {
		if err := child.WriteLine(line); err != nil {
			w.log.Warn("stdin write failed", "line", line, "error", err)
		}
	}

	// (d) console
	w.drain(child)

	// (e) stats API
	pctx, cancel := context.WithTimeout(ctx, w.opts.PollTimeout)
	err := w.cap.PollAPI(pctx, &w.stats)
	cancel()
	switch {
	case err == nil:
		if w.pollFailing {
			w.log.Info("stats api reachable again")
		}
		w.pollFailing = false
	case errors.Is(err, context.Canceled):
	case !w.pollFailing:
		w.pollFailing = true
		w.log.Warn("stats api poll failed", "error", err)
	default:
		w.log.Debug("stats api poll failed", "error", err)
	}
	w.api.PublishStats(w.stats)
	return false
}

// drain moves every line the reader has produced through the parser into live output.
func (w *Watchdog[T]) drain(child *process.Child) {
	var lines []string
	for {
		select {
		case l, ok := <-child.Lines():
			if !ok {
				w.parse(lines)
				return
			}
			lines = append(lines, l)
		default:
			w.parse(lines)
			return
		}
	}
}

// drainFinal waits for the reader to reach EOF after the child is gone, so the last
// lines are not lost. A grandchild holding the terminal open is cut off by wait.
func (w *Watchdog[T]) drainFinal(child *process.Child, wait time.Duration) {
	var lines []string
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case l, ok := <-child.Lines():
			if !ok {
				w.parse(lines)
				return
			}
			lines = append(lines, l)
		case <-timer.C:
			w.parse(lines)
			return
		}
	}
}

func (w *Watchdog[T]) parse(lines []string) {
	if len(lines) == 0 {
		return
	}
	w.proc.AppendRaw(lines...)
	raw := w.proc.TakeRaw()
	for _, l := range raw {
		eff := w.cap.ParseLine(l, w.proc.State(), &w.stats)
		if eff.SetState {
			w.setState(eff.State)
		}
		if eff.Failover && w.opts.Failover != nil {
			w.log.Warn("donation node failing", "node", eff.Failed.String())
			w.opts.Failover(eff.Failed)
		}
	}
	w.api.AppendLiveLines(raw)
}

func (w *Watchdog[T]) setState(s process.State) {
	if err := w.proc.SetState(s); err != nil {
		w.log.Warn("state change rejected", "error", err)
	}
}

func banner(title string, cmd process.Command, pid int) string {
	return fmt.Sprintf("%s\n[%s] started (pid %d) at %s\n%s\n%s\n",
		process.HorizontalRule, title, pid, time.Now().Format(time.RFC3339), cmd.String(), process.HorizontalRule)
}

func exitLine(title, verb string, code int, started time.Time) string {
	return fmt.Sprintf("%s\n[%s] %s, exit code %d, uptime %s\n%s\n",
		process.HorizontalRule, title, verb, code, time.Since(started).Truncate(time.Second), process.HorizontalRule)
}

const finalDrain = 500 * time.Millisecond
