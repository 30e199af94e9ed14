// Package submission implements the asynchronous submission lifecycle of a
// clinical record: Idle, InFlight, Succeeded or Failed.
package submission

import (
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-retinarisk/internal/prediction"
)

// Phase represents the submission phase
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseInFlight  Phase = "in_flight"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// State is the controller state. Result is set only when Succeeded and
// Failure only when Failed.
type State struct {
	Phase      Phase
	Generation uint64
	Result     *prediction.Result
	Failure    *prediction.Failure
}

// Settled reports whether the state is terminal for its generation
func (s State) Settled() bool {
	return s.Phase == PhaseSucceeded || s.Phase == PhaseFailed
}

func idle(gen uint64) State     { return State{Phase: PhaseIdle, Generation: gen} }
func inFlight(gen uint64) State { return State{Phase: PhaseInFlight, Generation: gen} }

func succeeded(gen uint64, r *prediction.Result) State {
	return State{Phase: PhaseSucceeded, Generation: gen, Result: r}
}

func failed(gen uint64, f *prediction.Failure) State {
	return State{Phase: PhaseFailed, Generation: gen, Failure: f}
}

// Transition records one state change
type Transition struct {
	ID         string            `json:"id"`
	Generation uint64            `json:"generation"`
	From       Phase             `json:"from"`
	To         Phase             `json:"to"`
	Reason     prediction.Reason `json:"reason,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

func newTransition(from, to State) Transition {
	t := Transition{
		ID:         uuid.New().String(),
		Generation: to.Generation,
		From:       from.Phase,
		To:         to.Phase,
		Timestamp:  time.Now().UTC(),
	}
	if to.Failure != nil {
		t.Reason = to.Failure.Reason
	}
	return t
}
