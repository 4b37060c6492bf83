package sequencer

import "errors"

// State is a position in the experiment state machine.
type State int

const (
	StateBuildingTrials State = iota
	StateLoadingTrial
	StateAwaitingGoal
	StateScoring
	StateAdvancing
	StateInstruction
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateBuildingTrials:
		return "building_trials"
	case StateLoadingTrial:
		return "loading_trial"
	case StateAwaitingGoal:
		return "awaiting_goal"
	case StateScoring:
		return "scoring"
	case StateAdvancing:
		return "advancing"
	case StateInstruction:
		return "instruction"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name for logs and snapshots.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	// ErrNotAwaitingInstructions is returned when the participant resumes outside an instruction page.
	ErrNotAwaitingInstructions = errors.New("sequencer is not showing instructions")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("sequencer already started")
	// ErrNoTrials is returned when the trial list is empty.
	ErrNoTrials = errors.New("sequencer has no trials")
)

// EventType names the lifecycle notifications delivered to observers.
type EventType string

const (
	EventTrialLoading EventType = "trial_loading"
	EventTrialStarted EventType = "trial_started"
	EventCollision    EventType = "collision"
	EventTrialEnded   EventType = "trial_ended"
	EventInstructions EventType = "instructions"
	EventFinished     EventType = "finished"
	EventAborted      EventType = "aborted"
)
