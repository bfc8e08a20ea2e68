package pubapi

import (
	"strings"
	"sync"
	"testing"

	"github.com/loykin/hashvisr/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAppendsOutputAndOverwritesStats(t *testing.T) {
	p := NewPair[XMRig](process.XMRig)
	p.AppendLiveLines([]string{"new job from pool"})
	p.PublishStats(XMRig{Hashrate15m: 100})
	p.Merge()

	d := p.Display()
	assert.Equal(t, "new job from pool\n", d.Output)
	assert.Equal(t, 100.0, d.Stats.Hashrate15m)

	live := p.Live()
	assert.Empty(t, live.Output)
	assert.Zero(t, live.Stats.Hashrate15m)

	p.AppendLive("second\n")
	p.PublishStats(XMRig{Hashrate15m: 200})
	p.Merge()
	d = p.Display()
	assert.Equal(t, "new job from pool\nsecond\n", d.Output)
	assert.Equal(t, 200.0, d.Stats.Hashrate15m)
}

func TestMergeWithoutNewStatsKeepsDisplay(t *testing.T) {
	p := NewPair[Node](process.Node)
	p.PublishStats(Node{Height: 10})
	p.Merge()
	p.AppendLive("line\n")
	p.Merge()
	assert.Equal(t, uint64(10), p.DisplayStats().Height)
}

func TestDisplayOutputIsCapped(t *testing.T) {
	p := NewPair[P2Pool](process.P2Pool)
	chunk := strings.Repeat("z", 50_000)
	for i := 0; i < 40; i++ {
		p.AppendLive(chunk)
		p.Merge()
		assert.LessOrEqual(t, len(p.Display().Output), process.MaxOutputBytes)
	}
	assert.Contains(t, p.Display().Output, process.TruncationMarker("P2Pool"))
}

func TestLiveOutputIsCappedBetweenMerges(t *testing.T) {
	p := NewPair[XMRig](process.XMRig)
	line := strings.Repeat("h", 999)
	for i := 0; i < 1200; i++ {
		p.AppendLiveLines([]string{line})
		require.LessOrEqual(t, len(p.Live().Output), process.MaxOutputBytes)
	}
	out := p.Live().Output
	assert.True(t, strings.HasPrefix(out, process.TruncationMarker("XMRig")))
	assert.Equal(t, 1, strings.Count(out, process.TruncationMarker("XMRig")))

	p.Merge()
	assert.Empty(t, p.Live().Output)
	assert.LessOrEqual(t, len(p.Display().Output), process.MaxOutputBytes)
}

func TestReset(t *testing.T) {
	p := NewPair[Proxy](process.XMRigProxy)
	p.AppendLive("x")
	p.PublishStats(Proxy{Miners: 3})
	p.Merge()
	p.AppendLive("y")
	p.Reset()
	assert.Equal(t, Snapshot[Proxy]{}, p.Display())
	assert.Equal(t, Snapshot[Proxy]{}, p.Live())
}

func TestConcurrentWriterAndMerger(t *testing.T) {
	p := NewPair[Xvb](process.XvB)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			p.AppendLive("a")
			p.PublishStats(Xvb{Players: uint32(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			p.Merge()
			_ = p.Display()
		}
	}()
	wg.Wait()
	p.Merge()
	assert.Equal(t, 1000, len(p.Display().Output))
}

func TestRanksDistinctAcrossKinds(t *testing.T) {
	a := NewPair[Node](process.Node)
	b := NewPair[P2Pool](process.P2Pool)
	assert.Less(t, a.LiveMutex().Rank(), b.LiveMutex().Rank())
	assert.Less(t, b.LiveMutex().Rank(), a.DisplayMutex().Rank())
}
