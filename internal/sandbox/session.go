package sandbox

import (
	"fmt"
	"sync"

	"github.com/rs/xid"
)

// State is a session lifecycle stage. Sessions move through states
// monotonically (no state is ever revisited) and end in exactly one of
// the terminal states.
type State string

const (
	StateProvisioning State = "Provisioning"
	StateInstalling   State = "Installing"
	StateRunning      State = "Running"
	StateCapturing    State = "Capturing"
	StateCompleted    State = "Completed"
	StateFailed       State = "Failed"
	StateTimedOut     State = "TimedOut"
)

// stateRank orders the non-terminal states; a transition must strictly
// increase the rank. Terminal states are reachable from any non-terminal
// state (a timeout can fire during install; a host fault during capture).
var stateRank = map[State]int{
	StateProvisioning: 0,
	StateInstalling:   1,
	StateRunning:      2,
	StateCapturing:    3,
}

// Terminal reports whether s is one of the three end states.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// Session is the transient identity of one ExecutionRequest: a globally
// unique id (which names the workspace directory and the environment
// instance), the resolved language variant, and the current state.
//
// A session's workspace and environment handle are never shared across
// requests. The state is guarded by a mutex because the timeout path and
// the normal completion path may race to reach a terminal state.
type Session struct {
	ID       string
	Language Language

	// WorkspacePath is the exclusive, request-scoped scratch directory,
	// set by the provisioner and owned solely by this session.
	WorkspacePath string

	mu    sync.Mutex
	state State
}

// NewSession admits a validated request: it mints the session id and
// enters the Provisioning state.
func NewSession(lang Language) *Session {
	return &Session{
		ID:       xid.New().String(),
		Language: lang,
		state:    StateProvisioning,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Advance moves the session to next, enforcing monotonicity: non-terminal
// transitions must strictly increase stage order, terminal transitions are
// allowed from any non-terminal state, and nothing moves out of a terminal
// state. Racing terminal transitions (timeout vs. normal completion) are
// resolved first-wins; the loser gets an error and must treat it as a
// no-op.
func (s *Session) Advance(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return fmt.Errorf("session %s: already terminal in %s, cannot enter %s", s.ID, s.state, next)
	}
	if next.Terminal() {
		s.state = next
		return nil
	}
	cur, ok := stateRank[s.state]
	if !ok {
		return fmt.Errorf("session %s: unknown state %s", s.ID, s.state)
	}
	nxt, ok := stateRank[next]
	if !ok {
		return fmt.Errorf("session %s: unknown state %s", s.ID, next)
	}
	if nxt <= cur {
		return fmt.Errorf("session %s: cannot move backwards from %s to %s", s.ID, s.state, next)
	}
	s.state = next
	return nil
}
