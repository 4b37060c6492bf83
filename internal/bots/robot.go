package bots

import (
	"math"
	"math/rand"

	"chicken/broker/internal/physics"
	"chicken/broker/internal/randvar"
	"chicken/broker/internal/replay"
	"chicken/broker/internal/state"
	"chicken/broker/internal/trial"
)

// DebugTriggerDistance is the trigger used in debug mode; no separation is ever below it.
const DebugTriggerDistance = -10.0

// Direction is the side a robot swerves toward, relative to its own facing.
type Direction int

const (
	DirectionUndecided Direction = iota
	DirectionLeft
	DirectionRight
)

// Sign maps the direction onto the robot's right axis.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLeft:
		return -1
	case DirectionRight:
		return 1
	default:
		return 0
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionLeft:
		return "left"
	case DirectionRight:
		return "right"
	default:
		return "undecided"
	}
}

// MarshalText renders the direction name for snapshots.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// RobotConfig configures a robot for one trial.
type RobotConfig struct {
	Kinematics state.Kinematics
	Motivation trial.Motivation
	// Debug makes the robot never swerve.
	Debug bool
	// SwerveDistanceStdDev enables motivation-biased sampling of the trigger distance.
	SwerveDistanceStdDev float64
}

// Robot is the autonomous agent approaching the participant. It decides once per trial
// whether it is willing to swerve, and on which side, when the participant gets close.
type Robot struct {
	body    *physics.Body
	start   physics.Vec3
	kin     state.Kinematics
	shared  *state.Shared
	rng     *rand.Rand
	sampler *replay.Sampler
	ticker  replay.Ticker

	propensity   bool
	trigger      float64
	direction    Direction
	fullySwerved bool
	overridden   bool
	paused       bool
}

// NewRobot rolls the per-trial swerve propensity and trigger distance. The robot starts paused.
func NewRobot(cfg RobotConfig, body *physics.Body, shared *state.Shared, rng *rand.Rand, gauss *randvar.Gaussian) *Robot {
	robot := &Robot{
		body:   body,
		start:  body.Position,
		kin:    cfg.Kinematics,
		shared: shared,
		rng:    rng,
		paused: true,
	}
	//1.- Flip the 50/50 propensity regardless of motivation.
	robot.propensity = rng.Intn(2) > 0
	//2.- Derive the trigger distance from the larger agent's swerve width.
	robot.trigger = cfg.Kinematics.SwerveTriggerDistance()
	if cfg.SwerveDistanceStdDev > 0 && gauss != nil {
		robot.trigger = math.Max(0, gauss.SampleMotivationBiased(robot.trigger, cfg.SwerveDistanceStdDev, cfg.Motivation))
	}
	//3.- Debug runs pin the robot to a straight course.
	if cfg.Debug {
		robot.propensity = false
		robot.trigger = DebugTriggerDistance
	}
	return robot
}

// AttachSampler wires the trajectory sampler started on the first unpause.
func (r *Robot) AttachSampler(sampler *replay.Sampler, ticker replay.Ticker) {
	r.sampler = sampler
	r.ticker = ticker
}

// Pause freezes the robot in place.
func (r *Robot) Pause() {
	r.paused = true
	r.body.Hold()
}

// Unpause resumes motion and makes sure trajectory sampling is running.
func (r *Robot) Unpause() {
	r.paused = false
	r.sampler.Start(r.ticker)
}

// OverrideSwerve disables any future swerve decision for the rest of the trial.
func (r *Robot) OverrideSwerve() {
	r.overridden = true
	r.trigger = math.Inf(1)
}

// FixedUpdate advances the robot by one physics step given the player's position in the
// shared parent frame.
func (r *Robot) FixedUpdate(dt float64, player physics.Vec3) {
	if r.paused {
		r.body.Hold()
		return
	}
	distance := player.Sub(r.body.Position).PlanarLength()
	if !r.propensity || r.overridden || distance > r.trigger || r.fullySwerved {
		r.body.StepStraight(r.kin.AgentSpeed, r.kin.RotationSpeed, dt)
		return
	}
	if r.direction == DirectionUndecided {
		//1.- Commit to a side once and record where the decision happened.
		r.direction = r.chooseDirection(player)
		r.shared.RecordRobotSwerve(
			math.Abs(player.Z-r.body.Position.Z),
			math.Abs(r.start.Z-r.body.Position.Z),
		)
	}
	r.body.StepSplitSwerve(r.kin.AgentSpeed, r.kin.SwerveSideSpeedRatio, r.direction.Sign(), r.kin.RotationSpeed, dt)
}

// Update latches the fully swerved state once the lateral offset clears the swerve width.
func (r *Robot) Update() {
	if !r.fullySwerved && math.Abs(r.body.Position.X) >= r.kin.SwerveWidth() {
		r.fullySwerved = true
	}
}

// chooseDirection steers away from the side the player is on, seen from the robot.
func (r *Robot) chooseDirection(player physics.Vec3) Direction {
	lateral := player.Sub(r.body.Position).Dot(r.body.Right)
	switch {
	case lateral > 0:
		return DirectionLeft
	case lateral < 0:
		return DirectionRight
	case r.rng.Intn(2) == 0:
		return DirectionLeft
	default:
		return DirectionRight
	}
}

func (r *Robot) Body() *physics.Body      { return r.body }
func (r *Robot) Position() physics.Vec3   { return r.body.Position }
func (r *Robot) Direction() Direction     { return r.direction }
func (r *Robot) Propensity() bool         { return r.propensity }
func (r *Robot) TriggerDistance() float64 { return r.trigger }
func (r *Robot) FullySwerved() bool       { return r.fullySwerved }
func (r *Robot) Overridden() bool         { return r.overridden }
func (r *Robot) Paused() bool             { return r.paused }
func (r *Robot) Sampler() *replay.Sampler { return r.sampler }
