// Package lockorder makes the process-wide lock order an explicit, checked invariant.
//
// Every mutex that may be held together with another one is a *Mutex carrying a Rank.
// Code that needs more than one of them goes through Acquire or a Set, which always
// locks in ascending rank and unlocks in reverse. Two mutexes with the same rank may
// never be held together.
package lockorder

import (
	"fmt"
	"sort"
	"sync"
)

// Rank orders mutexes globally. Lower ranks are acquired first.
type Rank uint16

// Rank bands. A component's rank is its band plus the kind index of the child it belongs to.
const (
	BandProcess   Rank = 100
	BandLive      Rank = 200
	BandDisplay   Rank = 300
	BandTelemetry Rank = 400
)

// Mutex is a sync.Mutex tagged with its global rank.
type Mutex struct {
	mu   sync.Mutex
	rank Rank
	name string
}

func New(rank Rank, name string) *Mutex { return &Mutex{rank: rank, name: name} }

func (m *Mutex) Lock()        { m.mu.Lock() }
func (m *Mutex) Unlock()      { m.mu.Unlock() }
func (m *Mutex) Rank() Rank   { return m.rank }
func (m *Mutex) Name() string { return m.name }

// Set is a fixed collection of mutexes validated once and always locked in rank order.
type Set struct {
	ms []*Mutex
}

// NewSet sorts ms by rank and rejects duplicate ranks.
func NewSet(ms ...*Mutex) (*Set, error) {
	sorted := make([]*Mutex, 0, len(ms))
	for _, m := range ms {
		if m != nil {
			sorted = append(sorted, m)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].rank < sorted[j].rank })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].rank == sorted[i-1].rank {
			return nil, fmt.Errorf("lock order violation: %s and %s share rank %d",
				sorted[i-1].name, sorted[i].name, sorted[i].rank)
		}
	}
	return &Set{ms: sorted}, nil
}

// MustSet is NewSet for statically known sets.
func MustSet(ms ...*Mutex) *Set {
	s, err := NewSet(ms...)
	if err != nil {
		panic(err)
	}
	return s
}

// Lock acquires every mutex in ascending rank and returns the release func,
// which unlocks in descending rank.
func (s *Set) Lock() (release func()) {
	for _, m := range s.ms {
		m.Lock()
	}
	return func() {
		for i := len(s.ms) - 1; i >= 0; i-- {
			s.ms[i].Unlock()
		}
	}
}

// Names lists the set members in acquisition order.
func (s *Set) Names() []string {
	out := make([]string, len(s.ms))
	for i, m := range s.ms {
		out[i] = m.name
	}
	return out
}

// Acquire is a one-shot Set. It panics on a rank collision since that is a programming error.
func Acquire(ms ...*Mutex) (release func()) {
	return MustSet(ms...).Lock()
}
