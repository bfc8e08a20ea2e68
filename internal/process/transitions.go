package process

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a state change is not in the kind's table.
var ErrIllegalTransition = errors.New("illegal state transition")

type edgeSet map[State]map[State]bool

type kindRules struct {
	starting []State
	running  []State
	signals  []SignalType
}

var rules = map[Kind]kindRules{
	Node: {
		starting: []State{Syncing},
		running:  []State{Syncing, Alive},
	},
	P2Pool: {
		starting: []State{Syncing},
		running:  []State{Syncing, Alive},
	},
	XMRig: {
		starting: []State{NotMining},
		running:  []State{NotMining, Alive},
	},
	XMRigProxy: {
		starting: []State{NotMining},
		running:  []State{NotMining, Alive},
	},
	XvB: {
		starting: []State{Syncing, Alive, Retry, NotMining, OfflineNodesAll},
		running:  []State{Syncing, Alive, Retry, NotMining, OfflineNodesAll},
		signals:  []SignalType{SignalUpdateNodes},
	},
}

var transitions = func() map[Kind]edgeSet {
	out := make(map[Kind]edgeSet, len(rules))
	for k, r := range rules {
		t := buildEdges(r)
		if err := validateEdges(k, t); err != nil {
			panic(err)
		}
		out[k] = t
	}
	return out
}()

func buildEdges(r kindRules) edgeSet {
	t := edgeSet{}
	add := func(from State, to ...State) {
		if t[from] == nil {
			t[from] = map[State]bool{}
		}
		for _, s := range to {
			t[from][s] = true
		}
	}
	add(Dead, Middle)
	add(Failed, Middle)
	add(Waiting, Middle, Dead)
	add(Middle, r.starting...)
	add(Middle, Dead, Failed, Waiting)
	for _, s := range r.running {
		add(s, r.running...)
		add(s, Middle, Dead, Failed, Waiting)
	}
	return t
}

// validateEdges checks that every state in the table is reachable from Dead and can
// get back to Dead.
func validateEdges(k Kind, t edgeSet) error {
	reach := func(from State, next func(State) []State) map[State]bool {
		seen := map[State]bool{from: true}
		queue := []State{from}
		for len(queue) > 0 {
			s := queue[0]
			queue = queue[1:]
			for _, n := range next(s) {
				if !seen[n] {
					seen[n] = true
					queue = append(queue, n)
				}
			}
		}
		return seen
	}
	forward := reach(Dead, func(s State) []State {
		var out []State
		for n := range t[s] {
			out = append(out, n)
		}
		return out
	})
	backward := reach(Dead, func(s State) []State {
		var out []State
		for from, tos := range t {
			if tos[s] {
				out = append(out, from)
			}
		}
		return out
	})
	for s := range t {
		if !forward[s] {
			return fmt.Errorf("%s: state %s unreachable from dead", k, s)
		}
		if !backward[s] {
			return fmt.Errorf("%s: state %s cannot return to dead", k, s)
		}
	}
	return nil
}

// Transition validates from→to for kind. A self-transition is always legal.
func Transition(k Kind, from, to State) error {
	if from == to {
		return nil
	}
	if transitions[k][from][to] {
		return nil
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, k, from, to)
}

// StartingStates returns the states a freshly spawned loop of kind k may enter.
func StartingStates(k Kind) []State {
	return append([]State(nil), rules[k].starting...)
}

// SignalAllowed reports whether sig may be raised on kind k. Start, Stop and Restart
// apply to every kind; other signals are kind-specific.
func SignalAllowed(k Kind, sig SignalType) bool {
	switch sig {
	case SignalNone, SignalStart, SignalStop, SignalRestart:
		return true
	}
	for _, s := range rules[k].signals {
		if s == sig {
			return true
		}
	}
	return false
}
