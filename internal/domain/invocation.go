package domain

import (
	"errors"
	"fmt"
	"time"
)

// State is the position of an invocation in the open-series workflow.
type State string

// Workflow states.
const (
	StateIdle              State = "idle"
	StateDownloading       State = "downloading"
	StateDownloadFailed    State = "download_failed"
	StatePollingReadiness  State = "polling_readiness"
	StateReadinessTimedOut State = "readiness_timed_out"
	StateLaunchingViewer   State = "launching_viewer"
	StateLaunchFailed      State = "launch_failed"
	StateSucceeded         State = "succeeded"
)

var transitions = map[State][]State{
	StateIdle:             {StateDownloading},
	StateDownloading:      {StateDownloadFailed, StatePollingReadiness},
	StatePollingReadiness: {StateReadinessTimedOut, StateLaunchingViewer},
	StateLaunchingViewer:  {StateLaunchFailed, StateSucceeded},
}

// IsTerminal returns true if no transition leaves this state.
func (s State) IsTerminal() bool {
	switch s {
	case StateDownloadFailed, StateReadinessTimedOut, StateLaunchFailed, StateSucceeded:
		return true
	default:
		return false
	}
}

// CanTransition reports whether to directly follows s.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Failure reasons reported back to the UI.
const (
	ReasonDownloadIncomplete = "download incomplete"
	ReasonNotMaterialized    = "files not materialized"
	ReasonLaunchFailed       = "viewer failed to launch"
)

// Outcome is the terminal signal of one invocation.
type Outcome struct {
	State      State
	Reason     string // empty on success
	StagingDir string
}

// OK returns true if the viewer was launched.
func (o Outcome) OK() bool {
	return o.State == StateSucceeded
}

// OutcomeFromError maps a workflow error to its terminal outcome. Anything
// that is neither a readiness timeout nor a launch failure counts as a
// failed download.
func OutcomeFromError(err error, stagingDir string) Outcome {
	switch {
	case err == nil:
		return Outcome{State: StateSucceeded, StagingDir: stagingDir}
	case errors.Is(err, ErrNotMaterialized):
		return Outcome{State: StateReadinessTimedOut, Reason: ReasonNotMaterialized, StagingDir: stagingDir}
	case errors.Is(err, ErrLaunchFailed):
		return Outcome{State: StateLaunchFailed, Reason: ReasonLaunchFailed, StagingDir: stagingDir}
	default:
		return Outcome{State: StateDownloadFailed, Reason: ReasonDownloadIncomplete, StagingDir: stagingDir}
	}
}

// ReasonFor returns the failure reason reported for a terminal state.
func ReasonFor(s State) string {
	switch s {
	case StateDownloadFailed:
		return ReasonDownloadIncomplete
	case StateReadinessTimedOut:
		return ReasonNotMaterialized
	case StateLaunchFailed:
		return ReasonLaunchFailed
	default:
		return ""
	}
}

// Invocation is one run of the open-series workflow.
type Invocation struct {
	ID         string
	Request    DownloadRequest
	StagingDir string
	State      State
	Outcome    *Outcome // nil until a terminal state is reached
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewInvocation creates an idle invocation.
func NewInvocation(id string, req DownloadRequest, now time.Time) *Invocation {
	return &Invocation{
		ID:        id,
		Request:   req,
		State:     StateIdle,
		StartedAt: now,
	}
}

// Transition moves the invocation to the given state.
func (inv *Invocation) Transition(to State) error {
	if !inv.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.State, to)
	}
	inv.State = to
	return nil
}

// Finish moves the invocation into the terminal state of the outcome.
func (inv *Invocation) Finish(outcome Outcome, now time.Time) error {
	if err := inv.Transition(outcome.State); err != nil {
		return err
	}
	inv.Outcome = &outcome
	inv.FinishedAt = now
	return nil
}

// Done returns true once the invocation has an outcome.
func (inv *Invocation) Done() bool {
	return inv.Outcome != nil
}

// Duration returns the elapsed run time, up to now for running invocations.
func (inv *Invocation) Duration(now time.Time) time.Duration {
	if inv.Done() {
		return inv.FinishedAt.Sub(inv.StartedAt)
	}
	return now.Sub(inv.StartedAt)
}
