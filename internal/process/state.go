package process

import (
	"time"

	"github.com/loykin/hashvisr/internal/pool"
)

// State is the lifecycle state shared by every kind. Some states are only
// reachable for specific kinds, see the transition table.
type State int

const (
	Dead State = iota
	Middle
	Waiting
	Syncing
	Alive
	Failed
	NotMining
	Retry
	OfflineNodesAll
)

func (s State) String() string {
	switch s {
	case Dead:
		return "dead"
	case Middle:
		return "middle"
	case Waiting:
		return "waiting"
	case Syncing:
		return "syncing"
	case Alive:
		return "alive"
	case Failed:
		return "failed"
	case NotMining:
		return "not_mining"
	case Retry:
		return "retry"
	case OfflineNodesAll:
		return "offline_nodes_all"
	default:
		return "unknown"
	}
}

// IsAlive is true for every state in which the program (or loop) is running or about to.
func (s State) IsAlive() bool {
	switch s {
	case Alive, Middle, Syncing, Retry, NotMining, OfflineNodesAll:
		return true
	}
	return false
}

// IsWaiting is true while a request is in flight.
func (s State) IsWaiting() bool { return s == Middle || s == Waiting }

// IsTerminal is true for Dead and Failed.
func (s State) IsTerminal() bool { return s == Dead || s == Failed }

// CanStart reports whether a Start request is legal from s.
func (s State) CanStart() bool { return s == Dead || s == Failed || s == Waiting }

// SignalType is the kind of request pending on a ManagedProcess.
type SignalType int

const (
	SignalNone SignalType = iota
	SignalStart
	SignalStop
	SignalRestart
	SignalUpdateNodes
)

func (t SignalType) String() string {
	switch t {
	case SignalNone:
		return "none"
	case SignalStart:
		return "start"
	case SignalStop:
		return "stop"
	case SignalRestart:
		return "restart"
	case SignalUpdateNodes:
		return "update_nodes"
	default:
		return "unknown"
	}
}

// Signal is a request from the front end (or a failover raiser) to the owning loop.
// Target is only meaningful for SignalUpdateNodes: the node that failed.
type Signal struct {
	Type   SignalType `json:"type"`
	Target pool.Node  `json:"target"`
}

var (
	NoSignal      = Signal{Type: SignalNone}
	StartSignal   = Signal{Type: SignalStart}
	StopSignal    = Signal{Type: SignalStop}
	RestartSignal = Signal{Type: SignalRestart}
)

// UpdateNodes asks the donation loop to re-rank its nodes because failed stopped answering.
func UpdateNodes(failed pool.Node) Signal { return Signal{Type: SignalUpdateNodes, Target: failed} }

func (s Signal) String() string {
	if s.Type == SignalUpdateNodes {
		return s.Type.String() + "(" + s.Target.String() + ")"
	}
	return s.Type.String()
}

// Status is a read-only copy of a ManagedProcess.
type Status struct {
	Kind      string        `json:"kind"`
	State     string        `json:"state"`
	Signal    string        `json:"signal"`
	Alive     bool          `json:"alive"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime"`
	ExitCode  int           `json:"exit_code"`
	ExitErr   string        `json:"exit_error,omitempty"`
}
