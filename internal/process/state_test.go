package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStates = []State{Dead, Middle, Waiting, Syncing, Alive, Failed, NotMining, Retry, OfflineNodesAll}

func TestIsAliveMatchesAliveSet(t *testing.T) {
	aliveSet := map[State]bool{Alive: true, Middle: true, Syncing: true, Retry: true, NotMining: true, OfflineNodesAll: true}
	for _, k := range Kinds() {
		for _, s := range allStates {
			mp := NewManagedProcess(k)
			mp.state = s
			assert.Equal(t, aliveSet[s], mp.IsAlive(), "kind=%s state=%s", k, s)
		}
	}
}

func TestIsWaiting(t *testing.T) {
	for _, s := range allStates {
		assert.Equal(t, s == Middle || s == Waiting, s.IsWaiting(), s.String())
	}
}

func TestCanStart(t *testing.T) {
	for _, s := range allStates {
		want := s == Dead || s == Failed || s == Waiting
		assert.Equal(t, want, s.CanStart(), s.String())
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		got, ok := ParseKind(k.String())
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
	k, ok := ParseKind("proxy")
	assert.True(t, ok)
	assert.Equal(t, XMRigProxy, k)
	_, ok = ParseKind("gpu")
	assert.False(t, ok)
}
