package application

import (
	"sync"

	"github.com/pkg/errors"
)

// State is the submission lifecycle phase of one form instance.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

var ErrSubmissionInFlight = errors.New("a submission is already in progress for this application")

// machine tracks the submission lifecycle of a single form instance.
// A terminal state (succeeded/failed) is not final: a new attempt may begin
// from either.
type machine struct {
	mu      sync.Mutex
	state   State
	lastErr error
}

func newMachine() *machine { return &machine{state: StateIdle} }

// begin enters submitting unless an attempt is already in flight, clearing
// the error of any previous attempt.
func (m *machine) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateSubmitting {
		return ErrSubmissionInFlight
	}
	m.state = StateSubmitting
	m.lastErr = nil
	return nil
}

func (m *machine) succeed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateSucceeded
}

func (m *machine) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateFailed
	m.lastErr = err
}

func (m *machine) current() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastErr
}

// Tracker hands out at most one machine per form instance key, so concurrent
// submit attempts for the same instance contend on the same machine. Entries
// are reused across attempts and live for the tracker's lifetime.
type Tracker struct {
	mu       sync.RWMutex
	machines map[string]*machine
}

func NewTracker() *Tracker {
	return &Tracker{machines: make(map[string]*machine)}
}

func (t *Tracker) acquire(key string) *machine {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.machines[key]
	if !ok {
		m = newMachine()
		t.machines[key] = m
	}
	return m
}

// State reports the submission state of a form instance; instances with no
// recorded attempt are idle.
func (t *Tracker) State(key string) State {
	t.mu.RLock()
	m, ok := t.machines[key]
	t.mu.RUnlock()
	if !ok {
		return StateIdle
	}
	state, _ := m.current()
	return state
}

// LastError reports the failure of the last attempt for a form instance, if
// any.
func (t *Tracker) LastError(key string) error {
	t.mu.RLock()
	m, ok := t.machines[key]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	_, err := m.current()
	return err
}
