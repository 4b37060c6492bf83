package trial

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Unset marks swerve distances for trials where the robot never swerved.
const Unset = -1.0

var ordinals atomic.Int64

// nextOrdinal hands out process-wide unique, increasing trial numbers starting at zero.
func nextOrdinal() int {
	return int(ordinals.Add(1) - 1)
}

// Sample is one trajectory point: planar position and velocity.
type Sample struct {
	X  float64
	Z  float64
	VX float64
	VZ float64
}

// MarshalJSON encodes the sample as a compact [x, z, vx, vz] array.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{s.X, s.Z, s.VX, s.VZ})
}

// UnmarshalJSON accepts the array form written by MarshalJSON.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw [4]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Sample{X: raw[0], Z: raw[1], VX: raw[2], VZ: raw[3]}
	return nil
}

// Outcome is what happened during a trial. It is recorded once when the trial ends.
type Outcome struct {
	Collision                 bool
	RobotSwerved              bool
	RobotPlayerSwerveDistance float64
	RobotStartSwerveDistance  float64
	Points                    int
	PlayerTrajectory          []Sample
	RobotTrajectory           []Sample
}

// Trial is one run of the participant toward the goal.
type Trial struct {
	ordinal          int
	environment      Environment
	kind             Kind
	robotKind        RobotKind
	robotMotivation  Motivation
	playerMotivation Motivation
	robotColor       RobotColor

	outcome  Outcome
	recorded bool
}

// NewTest builds the unscored warm-up trial.
func NewTest() *Trial {
	return &Trial{
		ordinal:          nextOrdinal(),
		environment:      EnvironmentOpen,
		kind:             KindTest,
		robotKind:        RobotTest,
		robotMotivation:  MotivationNone,
		playerMotivation: MotivationNone,
		robotColor:       ColorBlue,
	}
}

// NewRegular builds a scored trial with the given motivations.
func NewRegular(env Environment, robot RobotKind, robotMotivation, playerMotivation Motivation) *Trial {
	return &Trial{
		ordinal:          nextOrdinal(),
		environment:      env,
		kind:             KindRegular,
		robotKind:        robot,
		robotMotivation:  robotMotivation,
		playerMotivation: playerMotivation,
		robotColor:       ColorFor(robotMotivation),
	}
}

func (t *Trial) Ordinal() int                 { return t.ordinal }
func (t *Trial) Environment() Environment     { return t.environment }
func (t *Trial) Kind() Kind                   { return t.kind }
func (t *Trial) RobotKind() RobotKind         { return t.robotKind }
func (t *Trial) RobotMotivation() Motivation  { return t.robotMotivation }
func (t *Trial) PlayerMotivation() Motivation { return t.playerMotivation }
func (t *Trial) RobotColor() RobotColor       { return t.robotColor }
func (t *Trial) IsTest() bool                 { return t.kind == KindTest }

// Recorded reports whether the outcome has been finalized.
func (t *Trial) Recorded() bool { return t.recorded }

// Finalize stores the outcome. Distances are replaced by Unset when the robot did not
// swerve. Finalizing twice is a sequencing bug and panics.
func (t *Trial) Finalize(outcome Outcome) {
	if t.recorded {
		panic(fmt.Sprintf("trial %d: outcome already recorded", t.ordinal))
	}
	if !outcome.RobotSwerved {
		outcome.RobotPlayerSwerveDistance = Unset
		outcome.RobotStartSwerveDistance = Unset
	}
	t.outcome = outcome
	t.recorded = true
}

// Outcome returns the recorded outcome and panics when the trial has not ended.
func (t *Trial) Outcome() Outcome {
	if !t.recorded {
		panic(fmt.Sprintf("trial %d: outcome read before it was recorded", t.ordinal))
	}
	return t.outcome
}

// Record is the flat export form of a trial.
type Record struct {
	TrialNum            int         `json:"trialNum"`
	TrialType           Kind        `json:"trialType"`
	EnvironmentType     Environment `json:"environmentType"`
	RobotType           RobotKind   `json:"robotType"`
	RobotColor          RobotColor  `json:"robotColor"`
	RobotMotivation     Motivation  `json:"robotMotivation"`
	PlayerMotivation    Motivation  `json:"playerMotivation"`
	Collision           bool        `json:"collision"`
	RobotSwerve         bool        `json:"robotSwerve"`
	RobotPlayerDistance float64     `json:"robotPlayerDistance"`
	RobotStartDistance  float64     `json:"robotStartDistance"`
	PointsEarned        int         `json:"pointsEarned"`
	PlayerTrajectory    []Sample    `json:"playerTrajectory"`
	RobotTrajectory     []Sample    `json:"robotTrajectory"`
}

// Record flattens a finalized trial for export.
func (t *Trial) Record() Record {
	outcome := t.Outcome()
	return Record{
		TrialNum:            t.ordinal,
		TrialType:           t.kind,
		EnvironmentType:     t.environment,
		RobotType:           t.robotKind,
		RobotColor:          t.robotColor,
		RobotMotivation:     t.robotMotivation,
		PlayerMotivation:    t.playerMotivation,
		Collision:           outcome.Collision,
		RobotSwerve:         outcome.RobotSwerved,
		RobotPlayerDistance: outcome.RobotPlayerSwerveDistance,
		RobotStartDistance:  outcome.RobotStartSwerveDistance,
		PointsEarned:        outcome.Points,
		PlayerTrajectory:    append([]Sample(nil), outcome.PlayerTrajectory...),
		RobotTrajectory:     append([]Sample(nil), outcome.RobotTrajectory...),
	}
}
