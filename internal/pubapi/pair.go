// Package pubapi holds the per-kind snapshots the front end reads. Each kind has a
// live copy written by its owning loop and a display copy written by the supervisor
// once per tick.
package pubapi

import (
	"strings"

	"github.com/loykin/hashvisr/internal/lockorder"
	"github.com/loykin/hashvisr/internal/process"
)

// Snapshot is the latest console output plus the latest parsed stats.
type Snapshot[T any] struct {
	Output string `json:"output"`
	Stats  T      `json:"stats"`
}

// Pair is the live/display double buffer of one kind.
type Pair[T any] struct {
	kind process.Kind

	liveMu   *lockorder.Mutex
	liveOut  *process.OutputBuffer
	liveStat T
	liveSet  bool

	dispMu   *lockorder.Mutex
	dispOut  *process.OutputBuffer
	dispStat T
}

func NewPair[T any](k process.Kind) *Pair[T] {
	return &Pair[T]{
		kind:    k,
		liveMu:  lockorder.New(lockorder.BandLive+lockorder.Rank(k), "live/"+k.String()),
		dispMu:  lockorder.New(lockorder.BandDisplay+lockorder.Rank(k), "display/"+k.String()),
		liveOut: process.NewOutputBuffer(k.Title()),
		dispOut: process.NewOutputBuffer(k.Title()),
	}
}

func (p *Pair[T]) Kind() process.Kind { return p.kind }

// LiveMutex and DisplayMutex expose the ranked locks for supervisor lock sets.
func (p *Pair[T]) LiveMutex() *lockorder.Mutex    { return p.liveMu }
func (p *Pair[T]) DisplayMutex() *lockorder.Mutex { return p.dispMu }

// AppendLive adds console text for the next merge.
func (p *Pair[T]) AppendLive(s string) {
	if s == "" {
		return
	}
	p.liveMu.Lock()
	p.liveOut.Append(s)
	p.liveMu.Unlock()
}

// AppendLiveLines adds lines, each newline terminated.
func (p *Pair[T]) AppendLiveLines(lines []string) {
	if len(lines) == 0 {
		return
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	p.liveMu.Lock()
	p.liveOut.Append(b.String())
	p.liveMu.Unlock()
}

// PublishStats replaces the live stats.
func (p *Pair[T]) PublishStats(s T) {
	p.liveMu.Lock()
	p.liveStat = s
	p.liveSet = true
	p.liveMu.Unlock()
}

// Live returns a copy of the live side. Mostly useful to the owning loop and tests.
func (p *Pair[T]) Live() Snapshot[T] {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	return Snapshot[T]{Output: p.liveOut.String(), Stats: p.liveStat}
}

// Display returns a copy of what the front end should show.
func (p *Pair[T]) Display() Snapshot[T] {
	p.dispMu.Lock()
	defer p.dispMu.Unlock()
	return Snapshot[T]{Output: p.dispOut.String(), Stats: p.dispStat}
}

// DisplayStats is Display without the console text.
func (p *Pair[T]) DisplayStats() T {
	p.dispMu.Lock()
	defer p.dispMu.Unlock()
	return p.dispStat
}

// MergeLocked appends the live output to display, copies the stats when live has
// any, and clears live. The caller holds both locks.
func (p *Pair[T]) MergeLocked() {
	if p.liveOut.Len() > 0 {
		p.dispOut.Append(p.liveOut.String())
		p.liveOut.Clear()
	}
	if p.liveSet {
		p.dispStat = p.liveStat
		var zero T
		p.liveStat = zero
		p.liveSet = false
	}
}

// Merge takes both locks in rank order and merges.
func (p *Pair[T]) Merge() {
	release := lockorder.MustSet(p.liveMu, p.dispMu).Lock()
	defer release()
	p.MergeLocked()
}

// Reset empties both sides, used when a loop (re)starts.
func (p *Pair[T]) Reset() {
	release := lockorder.MustSet(p.liveMu, p.dispMu).Lock()
	defer release()
	var zero T
	p.liveOut.Clear()
	p.liveStat = zero
	p.liveSet = false
	p.dispOut.Clear()
	p.dispStat = zero
}

// Merger is the type-erased view the supervisor iterates over.
type Merger interface {
	Kind() process.Kind
	LiveMutex() *lockorder.Mutex
	DisplayMutex() *lockorder.Mutex
	MergeLocked()
}

var _ Merger = (*Pair[Node])(nil)
