//go:build !windows

package watchdog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/hashvisr/internal/pool"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/pubapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	Polls int
	Seen  int
}

// scriptCap is a Node-kind capability backed by a shell script.
type scriptCap struct {
	path     string
	pollErr  atomic.Bool
	failover bool
}

func (c *scriptCap) Kind() process.Kind           { return process.Node }
func (c *scriptCap) StartingState() process.State { return process.Syncing }
func (c *scriptCap) BuildCommand() (process.Command, error) {
	return process.Command{Path: c.path}, nil
}
func (c *scriptCap) ParseLine(line string, cur process.State, s *fakeStats) Effect {
	s.Seen++
	switch {
	case line == "synced" && cur == process.Syncing:
		return Effect{SetState: true, State: process.Alive}
	case line == "donation down" && c.failover:
		return Effect{Failover: true, Failed: pool.Europe}
	}
	return Effect{}
}
func (c *scriptCap) PollAPI(_ context.Context, s *fakeStats) error {
	if c.pollErr.Load() {
		return errors.New("unreachable")
	}
	s.Polls++
	return nil
}
func (c *scriptCap) ClassifyExit(code int, err error) process.State { return ClassifyExit(code, err) }

func script(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "child.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o700))
	return p
}

type harness struct {
	proc *process.ManagedProcess
	api  *pubapi.Pair[fakeStats]
	wd   *Watchdog[fakeStats]
	done chan struct{}
}

func start(t *testing.T, c *scriptCap, opts Options) *harness {
	t.Helper()
	if opts.Tick == 0 {
		opts.Tick = 20 * time.Millisecond
	}
	if opts.StopGrace == 0 {
		opts.StopGrace = time.Second
	}
	h := &harness{
		proc: process.NewManagedProcess(process.Node),
		api:  pubapi.NewPair[fakeStats](process.Node),
		done: make(chan struct{}),
	}
	h.wd = New[fakeStats](c, h.proc, h.api, opts)
	require.NoError(t, h.proc.RequestStart())
	go func() {
		defer close(h.done)
		h.wd.Run(context.Background())
	}()
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(10 * time.Second):
		t.Fatal("watchdog did not finish")
	}
}

func TestWatchdogPromotesAndStops(t *testing.T) {
	c := &scriptCap{path: script(t, "echo booting; echo synced; exec sleep 30\n")}
	h := start(t, c, Options{})

	require.Eventually(t, func() bool { return h.proc.State() == process.Alive }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, process.NoSignal, h.proc.Signal())
	assert.NotZero(t, h.wd.PID())
	require.Eventually(t, func() bool { return h.api.Live().Stats.Polls > 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.proc.RequestStop())
	h.wait(t)
	assert.Equal(t, process.Dead, h.proc.State())
	assert.Equal(t, process.NoSignal, h.proc.Signal())
	assert.Zero(t, h.wd.PID())

	h.api.Merge()
	out := h.api.Display().Output
	assert.Contains(t, out, process.HorizontalRule+"\n[Node] started")
	assert.Contains(t, out, "booting\nsynced\n")
	assert.Contains(t, out, process.HorizontalRule+"\n[Node] stopped")
}

func TestWatchdogRestartEndsInWaiting(t *testing.T) {
	c := &scriptCap{path: script(t, "exec sleep 30\n")}
	h := start(t, c, Options{})
	require.Eventually(t, func() bool { return h.proc.State() == process.Syncing }, 5*time.Second, 10*time.Millisecond)

	var seen []process.State
	h.proc.SetHook(func(_ process.Kind, _, to process.State) { seen = append(seen, to) })
	require.NoError(t, h.proc.RequestRestart())
	h.wait(t)
	assert.Equal(t, process.Waiting, h.proc.State())
	assert.Equal(t, []process.State{process.Middle, process.Waiting}, seen)
	assert.Equal(t, process.NoSignal, h.proc.Signal())
}

func TestWatchdogClassifiesSecretDeath(t *testing.T) {
	for _, tc := range []struct {
		body string
		want process.State
	}{
		{"echo bye; exit 0\n", process.Dead},
		{"echo boom; exit 3\n", process.Failed},
	} {
		c := &scriptCap{path: script(t, "sleep 0.2; "+tc.body)}
		h := start(t, c, Options{})
		h.wait(t)
		assert.Equal(t, tc.want, h.proc.State(), tc.body)
		h.api.Merge()
		assert.Contains(t, h.api.Display().Output, "exited")
	}
}

func TestWatchdogSpawnFailure(t *testing.T) {
	c := &scriptCap{path: "/definitely/missing/monerod"}
	h := start(t, c, Options{})
	h.wait(t)
	assert.Equal(t, process.Failed, h.proc.State())
	assert.Contains(t, h.api.Live().Output, "start failed")
}

func TestWatchdogStdinAndFailover(t *testing.T) {
	var failed atomic.Int32
	failed.Store(-1)
	c := &scriptCap{
		path:     script(t, "while read l; do echo \"$l\"; done\n"),
		failover: true,
	}
	h := start(t, c, Options{Failover: func(n pool.Node) { failed.Store(int32(n)) }})
	require.Eventually(t, func() bool { return h.proc.State() == process.Syncing }, 5*time.Second, 10*time.Millisecond)

	h.proc.PushStdin("donation down")
	require.Eventually(t, func() bool { return failed.Load() == int32(pool.Europe) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.proc.RequestStop())
	h.wait(t)
	assert.Equal(t, process.Dead, h.proc.State())
}

func TestWatchdogKeepsLastStatsOnPollFailure(t *testing.T) {
	c := &scriptCap{path: script(t, "exec sleep 30\n")}
	h := start(t, c, Options{})
	require.Eventually(t, func() bool { return h.api.Live().Stats.Polls >= 2 }, 5*time.Second, 10*time.Millisecond)
	c.pollErr.Store(true)
	time.Sleep(100 * time.Millisecond)
	h.api.Merge()
	polls := h.api.DisplayStats().Polls
	time.Sleep(100 * time.Millisecond)
	h.api.Merge()
	assert.Equal(t, polls, h.api.DisplayStats().Polls)
	assert.Positive(t, polls)
	assert.Equal(t, process.Syncing, h.proc.State())

	require.NoError(t, h.proc.RequestStop())
	h.wait(t)
}

func TestWatchdogContextCancelStops(t *testing.T) {
	c := &scriptCap{path: script(t, "exec sleep 30\n")}
	proc := process.NewManagedProcess(process.Node)
	api := pubapi.NewPair[fakeStats](process.Node)
	wd := New[fakeStats](c, proc, api, Options{Tick: 20 * time.Millisecond, StopGrace: time.Second})
	require.NoError(t, proc.RequestStart())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); wd.Run(ctx) }()
	require.Eventually(t, func() bool { return proc.State() == process.Syncing }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("watchdog ignored cancellation")
	}
	assert.Equal(t, process.Dead, proc.State())
	assert.True(t, strings.Contains(api.Live().Output, "stopped"))
}
