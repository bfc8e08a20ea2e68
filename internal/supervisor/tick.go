package supervisor

import (
	"context"
	"time"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/cron"
	"github.com/loykin/hashvisr/internal/lockorder"
	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/pubapi"
)

// Tick publishes live state to the display side and refreshes telemetry. Run calls
// it once per tick; tests call it directly.
func (s *Supervisor) Tick(ctx context.Context) {
	s.merge()
	pids := s.childPIDs()
	s.recordPIDs(pids)
	s.sampleHost(ctx, pids)
	s.exportHashrates()
}

// merge takes every process, live and display lock in rank order and copies live
// to display for each kind that is alive or whose run ended since the last tick.
func (s *Supervisor) merge() {
	s.flushMu.Lock()
	flush := s.flush
	s.flush = map[process.Kind]bool{}
	s.flushMu.Unlock()

	ms := make([]*lockorder.Mutex, 0, 3*len(s.mergers))
	for _, m := range s.mergers {
		ms = append(ms, s.procs[m.Kind()].Mutex(), m.LiveMutex(), m.DisplayMutex())
	}
	release := lockorder.MustSet(ms...).Lock()
	defer release()
	for _, m := range s.mergers {
		if s.procs[m.Kind()].IsAliveLocked() || flush[m.Kind()] {
			m.MergeLocked()
		}
	}
}

// childPIDs maps every child kind to its PID, 0 when nothing runs.
func (s *Supervisor) childPIDs() map[string]int32 {
	out := map[string]int32{}
	for k, r := range s.runners {
		if p, ok := r.(pider); ok {
			out[k.String()] = p.PID()
		}
	}
	return out
}

func (s *Supervisor) recordPIDs(pids map[string]int32) {
	if s.pids == nil {
		return
	}
	m := make(map[string]int, len(pids))
	for k, pid := range pids {
		m[k] = int(pid)
	}
	if err := s.pids.Sync(m); err != nil {
		s.log.Warn("pid files not updated", "dir", s.pids.Path(), "error", err)
	}
}

func (s *Supervisor) sampleHost(ctx context.Context, pids map[string]int32) {
	if s.telemetry == nil {
		return
	}
	children := map[string]int32{}
	for k, pid := range pids {
		if pid > 0 {
			children[k] = pid
		}
	}
	h, err := s.telemetry.Sample(ctx, children)
	if err != nil {
		s.log.Debug("telemetry sample failed", "error", err)
		return
	}
	s.teleMu.Lock()
	s.host = h
	s.teleMu.Unlock()
}

func (s *Supervisor) exportHashrates() {
	if s.procs[process.XMRig].IsAlive() {
		x := s.xmrig.DisplayStats()
		metrics.SetHashrate(process.XMRig.String(), "10s", x.Hashrate10s)
		metrics.SetHashrate(process.XMRig.String(), "1m", x.Hashrate1m)
		metrics.SetHashrate(process.XMRig.String(), "15m", x.Hashrate15m)
	}
	if s.procs[process.XMRigProxy].IsAlive() {
		p := s.proxy.DisplayStats()
		metrics.SetHashrate(process.XMRigProxy.String(), "1m", p.Hashrate1m)
		metrics.SetHashrate(process.XMRigProxy.String(), "10m", p.Hashrate10m)
	}
	if s.procs[process.P2Pool].IsAlive() {
		p := s.p2pool.DisplayStats()
		metrics.SetHashrate(process.P2Pool.String(), "15m", p.Hashrate15m)
		metrics.SetHashrate(process.P2Pool.String(), "sidechain", p.SidechainEHR)
	}
}

// Node and the other per-kind getters return the display copy.
func (s *Supervisor) Node() pubapi.Snapshot[pubapi.Node]     { return s.node.Display() }
func (s *Supervisor) P2Pool() pubapi.Snapshot[pubapi.P2Pool] { return s.p2pool.Display() }
func (s *Supervisor) XMRig() pubapi.Snapshot[pubapi.XMRig]   { return s.xmrig.Display() }
func (s *Supervisor) Proxy() pubapi.Snapshot[pubapi.Proxy]   { return s.proxy.Display() }
func (s *Supervisor) Xvb() pubapi.Snapshot[pubapi.Xvb]       { return s.xvb.Display() }

// KindStatus is one kind's lifecycle plus its display snapshot.
type KindStatus struct {
	Status process.Status `json:"status"`
	Output string         `json:"output"`
	Stats  any            `json:"stats"`
}

// Status returns the status and display snapshot of k.
func (s *Supervisor) Status(k process.Kind) (KindStatus, error) {
	p, _, err := s.lookup(k)
	if err != nil {
		return KindStatus{}, err
	}
	ks := KindStatus{Status: p.Snapshot()}
	switch k {
	case process.Node:
		snap := s.node.Display()
		ks.Output, ks.Stats = snap.Output, snap.Stats
	case process.P2Pool:
		snap := s.p2pool.Display()
		ks.Output, ks.Stats = snap.Output, snap.Stats
	case process.XMRig:
		snap := s.xmrig.Display()
		ks.Output, ks.Stats = snap.Output, snap.Stats
	case process.XMRigProxy:
		snap := s.proxy.Display()
		ks.Output, ks.Stats = snap.Output, snap.Stats
	case process.XvB:
		snap := s.xvb.Display()
		ks.Output, ks.Stats = snap.Output, snap.Stats
	}
	return ks, nil
}

// States lists every kind's lifecycle in lock order.
func (s *Supervisor) States() []process.Status {
	out := make([]process.Status, 0, len(s.procs))
	for _, k := range process.Kinds() {
		out = append(out, s.procs[k].Snapshot())
	}
	return out
}

// Host is the last telemetry sample.
func (s *Supervisor) Host() metrics.Host {
	s.teleMu.Lock()
	defer s.teleMu.Unlock()
	return s.host
}

// Uptime of the supervisor itself.
func (s *Supervisor) Uptime() time.Duration { return time.Since(s.startedAt).Truncate(time.Second) }

// Runtime is the live donation settings, shared with the config watcher.
func (s *Supervisor) Runtime() *config.Runtime { return s.runtime }

// CurrentNode is where the donation loop last pointed the miner.
func (s *Supervisor) CurrentNode() string { return s.pusher.Current().String() }

// Schedules lists the configured scheduled actions with their next activation.
func (s *Supervisor) Schedules() []cron.Entry { return s.sched.Entries() }
