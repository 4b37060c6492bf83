package presentation

import (
	"chicken/broker/internal/events"
	"chicken/broker/internal/scoring"
	"chicken/broker/internal/trial"
)

// AssetLoader selects scenery and avatars for the upcoming trial. Calls are fire and forget.
type AssetLoader interface {
	LoadEnvironment(env trial.Environment)
	LoadPlayerAvatar(gender trial.Gender, skin trial.SkinColor)
	LoadRobotAvatar(kind trial.RobotKind, color trial.RobotColor)
}

// Summary is shown on the ending screen.
type Summary struct {
	TotalPoints    int     `json:"totalPoints"`
	Bonus          float64 `json:"bonus"`
	CompletionCode string  `json:"completionCode"`
}

// Overlay drives the participant-facing screens layered over the scene.
type Overlay interface {
	DisplayLoadingScreen(robotMotivation trial.Motivation, test bool)
	DismissLoadingScreen()
	DisplayPayoffMatrix(playerMotivation trial.Motivation, payoffs scoring.Vector)
	DisplayScoreScreen(delta int)
	DisplayInstructions(playerMotivation trial.Motivation)
	DisplayEnding(summary Summary)
}

// Publisher appends signals to a participant's event stream. *events.Stream implements it.
type Publisher interface {
	Publish(kind events.Kind, name string, trialOrdinal int, payload any) (uint64, error)
}

// Signal names carried on the event stream.
const (
	SignalEnvironment  = "environment"
	SignalPlayerAvatar = "player_avatar"
	SignalRobotAvatar  = "robot_avatar"
	SignalLoading      = "loading"
	SignalLoadFinished = "load_finished"
	SignalPayoffMatrix = "payoff_matrix"
	SignalScore        = "score"
	SignalInstructions = "instructions"
	SignalEnding       = "ending"
)

// Texts are the participant-facing strings chosen per motivation.
type Texts struct {
	Loading   map[trial.Motivation]string
	Test      string
	RobotView map[trial.Motivation]string
}

// DefaultTexts returns the wording used in the study.
func DefaultTexts() Texts {
	return Texts{
		Loading: map[trial.Motivation]string{
			trial.MotivationNone:   "Get ready. Walk to the other side.",
			trial.MotivationSpeed:  "Get ready. Walk to the other side as fast as you can.",
			trial.MotivationSafety: "Get ready. Walk to the other side as safely as you can.",
		},
		Test: "This is a practice round. Hold the forward key to start walking.",
		RobotView: map[trial.Motivation]string{
			trial.MotivationNone:   "The robot is just walking.",
			trial.MotivationSpeed:  "The robot is in a hurry.",
			trial.MotivationSafety: "The robot wants to be safe.",
		},
	}
}
