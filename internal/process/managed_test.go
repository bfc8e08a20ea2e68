package process

import (
	"testing"
	"time"

	"github.com/loykin/hashvisr/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopIsIdempotentOnTerminalStates(t *testing.T) {
	for _, s := range []State{Dead, Failed} {
		mp := NewManagedProcess(P2Pool)
		mp.state = s
		require.NoError(t, mp.RequestStop())
		require.NoError(t, mp.RequestStop())
		assert.Equal(t, s, mp.State())
		assert.Equal(t, SignalNone, mp.Signal().Type)
	}
}

func TestRequestsFlipToMiddle(t *testing.T) {
	mp := NewManagedProcess(XMRig)
	require.NoError(t, mp.RequestStart())
	assert.Equal(t, Middle, mp.State())
	assert.Equal(t, StartSignal, mp.Signal())

	require.NoError(t, mp.SetState(NotMining))
	require.NoError(t, mp.SetState(Alive))
	require.NoError(t, mp.RequestRestart())
	assert.Equal(t, Middle, mp.State())
	assert.Equal(t, RestartSignal, mp.Signal())
}

func TestRestartPathGoesThroughWaiting(t *testing.T) {
	mp := NewManagedProcess(Node)
	var seen []State
	mp.SetHook(func(_ Kind, _, to State) { seen = append(seen, to) })

	require.NoError(t, mp.RequestStart())
	require.NoError(t, mp.SetState(Syncing))
	require.NoError(t, mp.SetState(Alive))
	require.NoError(t, mp.RequestRestart())
	// watchdog: kill, promote to Waiting
	require.NoError(t, mp.SetState(Waiting))
	mp.ClearSignal()
	// restarter
	require.True(t, mp.State().CanStart())
	require.NoError(t, mp.RequestStart())
	require.Error(t, mp.SetState(Alive))
	require.NoError(t, mp.SetState(Syncing))

	assert.Equal(t, []State{Middle, Syncing, Alive, Middle, Waiting, Middle, Syncing}, seen)
}

func TestRaiseRespectsOutstandingSignal(t *testing.T) {
	mp := NewManagedProcess(XvB)
	require.NoError(t, mp.Raise(UpdateNodes(pool.Europe)))
	require.NoError(t, mp.Raise(UpdateNodes(pool.Europe)))
	require.Error(t, mp.Raise(UpdateNodes(pool.NorthAmerica)))

	mp.ClearSignalIf(UpdateNodes(pool.NorthAmerica))
	assert.Equal(t, UpdateNodes(pool.Europe), mp.Signal())
	mp.ClearSignalIf(UpdateNodes(pool.Europe))
	assert.Equal(t, NoSignal, mp.Signal())

	x := NewManagedProcess(XMRig)
	require.Error(t, x.Raise(UpdateNodes(pool.Europe)))
}

func TestStdinAndRawQueues(t *testing.T) {
	mp := NewManagedProcess(P2Pool)
	mp.PushStdin("status")
	mp.PushStdin("peers")
	assert.Equal(t, []string{"status", "peers"}, mp.DrainStdin())
	assert.Empty(t, mp.DrainStdin())

	mp.AppendRaw("a", "b")
	assert.Equal(t, []string{"a", "b"}, mp.TakeRaw())
	assert.Empty(t, mp.TakeRaw())
}

func TestSnapshot(t *testing.T) {
	mp := NewManagedProcess(XMRigProxy)
	require.NoError(t, mp.RequestStart())
	mp.MarkStarted(time.Now().Add(-3 * time.Second))
	st := mp.Snapshot()
	assert.Equal(t, "xmrig-proxy", st.Kind)
	assert.Equal(t, "middle", st.State)
	assert.True(t, st.Alive)
	assert.GreaterOrEqual(t, st.Uptime, 2*time.Second)
}
