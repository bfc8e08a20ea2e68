package process

import (
	"fmt"
	"time"

	"github.com/loykin/hashvisr/internal/lockorder"
)

// TransitionHook observes every accepted state change. It runs outside the lock.
type TransitionHook func(k Kind, from, to State)

// ManagedProcess is the mutable handle of one supervised program.
//
// Ownership: the front end writes the signal and the stdin queue and reads state;
// the owning loop (Watchdog or donation loop) advances state past Middle/Waiting,
// drains stdin and owns outputRaw. Every access goes through mu.
type ManagedProcess struct {
	mu        *lockorder.Mutex
	kind      Kind
	state     State
	signal    Signal
	stdin     []string
	outputRaw []string
	startedAt time.Time
	exitCode  int
	exitErr   error
	hook      TransitionHook
}

func NewManagedProcess(k Kind) *ManagedProcess {
	return &ManagedProcess{
		mu:    lockorder.New(lockorder.BandProcess+lockorder.Rank(k), "process/"+k.String()),
		kind:  k,
		state: Dead,
	}
}

// Mutex exposes the ranked lock for supervisor-wide lock sets.
func (p *ManagedProcess) Mutex() *lockorder.Mutex { return p.mu }

func (p *ManagedProcess) Kind() Kind { return p.kind }

// SetHook installs the transition observer (metrics, logging).
func (p *ManagedProcess) SetHook(h TransitionHook) {
	p.mu.Lock()
	p.hook = h
	p.mu.Unlock()
}

func (p *ManagedProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *ManagedProcess) Signal() Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signal
}

func (p *ManagedProcess) IsAlive() bool   { return p.State().IsAlive() }
func (p *ManagedProcess) IsWaiting() bool { return p.State().IsWaiting() }

// StateLocked and IsAliveLocked are for callers already holding Mutex() through a lock set.
func (p *ManagedProcess) StateLocked() State  { return p.state }
func (p *ManagedProcess) IsAliveLocked() bool { return p.state.IsAlive() }

// SetState moves to s if the kind's table allows it.
func (p *ManagedProcess) SetState(s State) error {
	p.mu.Lock()
	from := p.state
	if err := Transition(p.kind, from, s); err != nil {
		p.mu.Unlock()
		return err
	}
	p.state = s
	hook := p.hook
	p.mu.Unlock()
	if hook != nil && from != s {
		hook(p.kind, from, s)
	}
	return nil
}

// RequestStart flips to Middle with a Start signal. The caller must have checked
// State().CanStart(); see Supervisor.Start.
func (p *ManagedProcess) RequestStart() error {
	return p.request(StartSignal)
}

// RequestStop asks the owning loop to stop. It is a no-op on Dead or Failed.
func (p *ManagedProcess) RequestStop() error {
	if p.State().IsTerminal() {
		return nil
	}
	return p.request(StopSignal)
}

// RequestRestart asks the owning loop to stop and promote to Waiting.
func (p *ManagedProcess) RequestRestart() error {
	return p.request(RestartSignal)
}

func (p *ManagedProcess) request(sig Signal) error {
	p.mu.Lock()
	if sig.Type == SignalStop && p.state.IsTerminal() {
		p.mu.Unlock()
		return nil
	}
	from := p.state
	if err := Transition(p.kind, from, Middle); err != nil {
		p.mu.Unlock()
		return err
	}
	p.signal = sig
	p.state = Middle
	hook := p.hook
	p.mu.Unlock()
	if hook != nil && from != Middle {
		hook(p.kind, from, Middle)
	}
	return nil
}

// Raise posts a kind-specific signal without touching state. It refuses to
// overwrite another outstanding signal.
func (p *ManagedProcess) Raise(sig Signal) error {
	if !SignalAllowed(p.kind, sig.Type) {
		return fmt.Errorf("signal %s not allowed for %s", sig, p.kind)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signal.Type != SignalNone && p.signal != sig {
		return fmt.Errorf("%s already has pending signal %s", p.kind, p.signal)
	}
	p.signal = sig
	return nil
}

// ClearSignal resets the pending signal to None.
func (p *ManagedProcess) ClearSignal() {
	p.mu.Lock()
	p.signal = NoSignal
	p.mu.Unlock()
}

// ClearSignalIf resets the pending signal only if it is still sig.
func (p *ManagedProcess) ClearSignalIf(sig Signal) {
	p.mu.Lock()
	if p.signal == sig {
		p.signal = NoSignal
	}
	p.mu.Unlock()
}

// MarkStarted records the spawn time and forgets the previous exit status.
func (p *ManagedProcess) MarkStarted(t time.Time) {
	p.mu.Lock()
	p.startedAt = t
	p.exitCode = 0
	p.exitErr = nil
	p.mu.Unlock()
}

// MarkExited records how the program ended.
func (p *ManagedProcess) MarkExited(code int, err error) {
	p.mu.Lock()
	p.exitCode = code
	p.exitErr = err
	p.mu.Unlock()
}

func (p *ManagedProcess) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// PushStdin queues a console line for the child.
func (p *ManagedProcess) PushStdin(line string) {
	p.mu.Lock()
	p.stdin = append(p.stdin, line)
	p.mu.Unlock()
}

// DrainStdin returns and clears the queued console lines.
func (p *ManagedProcess) DrainStdin() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stdin
	p.stdin = nil
	return out
}

// AppendRaw adds console lines read this tick.
func (p *ManagedProcess) AppendRaw(lines ...string) {
	p.mu.Lock()
	p.outputRaw = append(p.outputRaw, lines...)
	p.mu.Unlock()
}

// TakeRaw returns and clears this tick's console lines.
func (p *ManagedProcess) TakeRaw() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.outputRaw
	p.outputRaw = nil
	return out
}

// Snapshot returns a copy of the current status.
func (p *ManagedProcess) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Kind:      p.kind.String(),
		State:     p.state.String(),
		Signal:    p.signal.String(),
		Alive:     p.state.IsAlive(),
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
	}
	if p.exitErr != nil {
		st.ExitErr = p.exitErr.Error()
	}
	if st.Alive && !p.startedAt.IsZero() {
		st.Uptime = time.Since(p.startedAt).Truncate(time.Second)
	}
	return st
}
