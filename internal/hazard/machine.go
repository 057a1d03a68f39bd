package hazard

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ayusman/kitchensafe/internal/detector"
)

// ErrInvalidHysteresis is returned for a hysteresis window below one frame.
var ErrInvalidHysteresis = errors.New("hysteresis frames must be at least 1")

// State is a copy of the machine's debounced state.
type State struct {
	Current        Verdict          `json:"current"`
	Candidate      Verdict          `json:"candidate"`
	Count          int              `json:"count"`
	Raw            Verdict          `json:"raw"`
	LastTransition time.Time        `json:"last_transition"`
	Contributing   []detector.Label `json:"contributing"`
}

// Transition is emitted when the confirmed verdict changes.
type Transition struct {
	From         Verdict          `json:"from"`
	To           Verdict          `json:"to"`
	At           time.Time        `json:"at"`
	Contributing []detector.Label `json:"contributing"`
}

// Machine debounces raw verdicts. The confirmed verdict only moves to a
// candidate once that candidate has been the raw verdict for K consecutive
// frames. A Machine is owned by a single goroutine.
type Machine struct {
	k     int
	state State
	held  int
}

// NewMachine creates a machine confirming a verdict after hysteresisFrames
// consecutive frames. The initial state is SAFE with a zero count.
func NewMachine(hysteresisFrames int) (*Machine, error) {
	if hysteresisFrames < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHysteresis, hysteresisFrames)
	}
	return &Machine{k: hysteresisFrames}, nil
}

// Frames returns the hysteresis window.
func (m *Machine) Frames() int {
	return m.k
}

// Observe feeds the raw verdict of the next frame, captured at. It returns
// the transition and true when the confirmed verdict changed.
func (m *Machine) Observe(a Assessment, at time.Time) (Transition, bool) {
	s := &m.state

	if a.Verdict == s.Candidate {
		s.Count++
	} else {
		s.Candidate = a.Verdict
		s.Count = 1
	}
	s.Raw = a.Verdict

	if a.Verdict == s.Current {
		s.Contributing = slices.Clone(a.Contributing)
	}

	if s.Count < m.k || s.Candidate == s.Current {
		return Transition{}, false
	}

	t := Transition{
		From:         s.Current,
		To:           s.Candidate,
		At:           at,
		Contributing: slices.Clone(a.Contributing),
	}
	s.Current = s.Candidate
	s.LastTransition = at
	s.Contributing = slices.Clone(a.Contributing)

	return t, true
}

// Hold records a frame whose inference failed. The state is left untouched
// so a failed frame can neither confirm nor break a candidate run.
func (m *Machine) Hold() {
	m.held++
}

// Held returns how many frames were skipped with Hold.
func (m *Machine) Held() int {
	return m.held
}

// Reset restores the initial SAFE state.
func (m *Machine) Reset() {
	m.state = State{}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	s := m.state
	s.Contributing = slices.Clone(s.Contributing)
	return s
}
