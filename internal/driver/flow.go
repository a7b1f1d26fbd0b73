package driver

import (
	"fmt"
	"sync"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
)

// State is a step in a publish flow.
type State string

const (
	NotStarted State = "NotStarted"
	Navigated  State = "Navigated"
	FormFilled State = "FormFilled"
	Submitted  State = "Submitted"
	Confirmed  State = "Confirmed"
	Failed     State = "Failed"
	TimedOut   State = "TimedOut"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Confirmed || s == Failed || s == TimedOut
}

var forward = map[State]State{
	NotStarted: Navigated,
	Navigated:  FormFilled,
	FormFilled: Submitted,
	Submitted:  Confirmed,
}

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Flow tracks a single run through the publish state machine.
type Flow struct {
	mu          sync.Mutex
	state       State
	transitions []Transition
	now         func() time.Time
}

// NewFlow starts a flow in NotStarted.
func NewFlow() *Flow {
	return &Flow{state: NotStarted, now: time.Now}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Advance moves to the next forward state; skipping or repeating a step is
// an error.
func (f *Flow) Advance(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if next, ok := forward[f.state]; !ok || next != to {
		return fmt.Errorf("invalid transition %s -> %s", f.state, to)
	}
	f.record(to)
	return nil
}

// Fail moves the flow to TimedOut for timeout kinds and Failed otherwise,
// and returns err unchanged.
func (f *Flow) Fail(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Terminal() {
		return err
	}
	if platform.IsRetryable(err) {
		f.record(TimedOut)
	} else {
		f.record(Failed)
	}
	return err
}

// Transitions returns a copy of the recorded history.
func (f *Flow) Transitions() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transition, len(f.transitions))
	copy(out, f.transitions)
	return out
}

// Outcome snapshots the flow into a PublishOutcome.
func (f *Flow) Outcome(contentID, url string) PublishOutcome {
	return PublishOutcome{
		State:       f.State(),
		ContentID:   contentID,
		URL:         url,
		Transitions: f.Transitions(),
	}
}

func (f *Flow) record(to State) {
	f.transitions = append(f.transitions, Transition{From: f.state, To: to, At: f.now()})
	f.state = to
}
