package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessUsage is the resource usage of one running program.
type ProcessUsage struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
	NumThreads int32   `json:"num_threads"`
}

// Host is one telemetry sample.
type Host struct {
	CPUPercent  float64                 `json:"cpu_percent"`
	CPUCount    int                     `json:"cpu_count"`
	MemoryTotal uint64                  `json:"memory_total"`
	MemoryUsed  uint64                  `json:"memory_used"`
	Self        ProcessUsage            `json:"self"`
	Children    map[string]ProcessUsage `json:"children,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
}

// Sampler reads host and per-process numbers with gopsutil. Process handles are
// kept between samples so CPUPercent measures the interval since the last call.
type Sampler struct {
	procs map[int32]*process.Process
}

func NewSampler() *Sampler { return &Sampler{procs: map[int32]*process.Process{}} }

// Sample collects host totals, this process and every pid in children (name → pid).
// Per-process failures are logged and skipped.
func (s *Sampler) Sample(ctx context.Context, children map[string]int32) (Host, error) {
	h := Host{Timestamp: time.Now(), Children: map[string]ProcessUsage{}}
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return h, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pcts) > 0 {
		h.CPUPercent = pcts[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		h.CPUCount = n
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return h, fmt.Errorf("virtual memory: %w", err)
	}
	h.MemoryTotal = vm.Total
	h.MemoryUsed = vm.Used

	live := map[int32]bool{}
	if u, err := s.usage(ctx, int32(os.Getpid())); err == nil {
		h.Self = u
		live[u.PID] = true
	}
	for name, pid := range children {
		if pid <= 0 {
			continue
		}
		u, err := s.usage(ctx, pid)
		if err != nil {
			slog.Debug("Failed to collect usage for child", "name", name, "pid", pid, "error", err)
			continue
		}
		h.Children[name] = u
		live[pid] = true
	}
	for pid := range s.procs {
		if !live[pid] {
			delete(s.procs, pid)
		}
	}
	SetHost(h.CPUPercent, h.MemoryUsed)
	return h, nil
}

func (s *Sampler) usage(ctx context.Context, pid int32) (ProcessUsage, error) {
	p, ok := s.procs[pid]
	if !ok {
		var err error
		p, err = process.NewProcessWithContext(ctx, pid)
		if err != nil {
			return ProcessUsage{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		s.procs[pid] = p
	}
	u := ProcessUsage{PID: pid}
	if pct, err := p.PercentWithContext(ctx, 0); err == nil {
		u.CPUPercent = pct
	}
	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return u, fmt.Errorf("failed to get memory info: %w", err)
	}
	u.MemoryRSS = mi.RSS
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		u.NumThreads = n
	}
	return u, nil
}
