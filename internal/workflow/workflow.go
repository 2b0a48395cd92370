// Package workflow tracks the submit state of each form action.
//
// Every action moves idle -> running -> done|failed and may be started again
// once it has settled. Starting an action that is already running is
// refused, which is what keeps a form's submit button disabled.
package workflow

import (
	"errors"
	"sync"
	"time"
)

type Phase string

const (
	Idle    Phase = "idle"
	Running Phase = "running"
	Done    Phase = "done"
	Failed  Phase = "failed"
)

var ErrInProgress = errors.New("action already in progress")

// State is the rendered status of one form action.
type State struct {
	Key       string
	Phase     Phase
	Message   string
	UpdatedAt time.Time
}

func (s State) Busy() bool    { return s.Phase == Running }
func (s State) Settled() bool { return s.Phase == Done || s.Phase == Failed }

type Tracker struct {
	now func() time.Time

	mu     sync.Mutex
	states map[string]State
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now, states: make(map[string]State)}
}

// Key builds the tracker key of an action within a form.
func Key(form, action string) string {
	return form + "/" + action
}

// Begin moves key to running. It fails with ErrInProgress when the action
// has not settled yet.
func (t *Tracker) Begin(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[key].Phase == Running {
		return ErrInProgress
	}
	t.states[key] = State{Key: key, Phase: Running, UpdatedAt: t.now()}
	return nil
}

func (t *Tracker) Succeed(key, message string) State {
	return t.settle(key, Done, message)
}

func (t *Tracker) Fail(key, message string) State {
	return t.settle(key, Failed, message)
}

func (t *Tracker) settle(key string, phase Phase, message string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := State{Key: key, Phase: phase, Message: message, UpdatedAt: t.now()}
	t.states[key] = s
	return s
}

// Get returns the state of key, idle if it never ran.
func (t *Tracker) Get(key string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key]
	if !ok {
		return State{Key: key, Phase: Idle}
	}
	return s
}
