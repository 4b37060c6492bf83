package player

import (
	"math"

	"chicken/broker/internal/input"
	"chicken/broker/internal/physics"
	"chicken/broker/internal/replay"
	"chicken/broker/internal/state"
)

// Starter is notified when the participant first pushes forward. The robot implements it.
type Starter interface {
	Unpause()
}

// Player moves the participant's agent from input axes. It stays paused until the loading
// overlay finishes and does not move until the first forward input arrives.
type Player struct {
	body    *physics.Body
	kin     state.Kinematics
	shared  *state.Shared
	source  input.Source
	sampler *replay.Sampler
	ticker  replay.Ticker
	starter Starter

	speed          float64
	paused         bool
	startedMoving  bool
	swerveObserved bool
}

// New constructs a paused player reading axes from source.
func New(body *physics.Body, kin state.Kinematics, shared *state.Shared, source input.Source) *Player {
	return &Player{body: body, kin: kin, shared: shared, source: source, paused: true}
}

// AttachSampler wires the trajectory sampler started together with the first movement.
func (p *Player) AttachSampler(sampler *replay.Sampler, ticker replay.Ticker) {
	p.sampler = sampler
	p.ticker = ticker
}

// OnFirstMove registers the agent released by the participant's first forward input.
func (p *Player) OnFirstMove(starter Starter) {
	p.starter = starter
}

// Pause freezes the player.
func (p *Player) Pause() {
	p.paused = true
	p.body.Hold()
}

// Unpause lets the player react to input again.
func (p *Player) Unpause() {
	p.paused = false
}

// FixedUpdate advances the player by one physics step.
func (p *Player) FixedUpdate(dt float64) {
	if p.paused {
		return
	}
	axes := input.Axes{}
	if p.source != nil {
		axes = p.source.Axes().Clamp()
	}
	if !p.startedMoving {
		if axes.Vertical <= 0 {
			return
		}
		//1.- The first forward push aligns time zero for both agents.
		p.startedMoving = true
		if p.starter != nil {
			p.starter.Unpause()
		}
		p.sampler.Start(p.ticker)
	}
	//2.- Ramp the speed with the vertical axis inside the allowed band.
	p.speed = clamp(p.speed+axes.Vertical*p.kin.PlayerAcceleration*dt, p.kin.PlayerMinSpeed, p.kin.PlayerMaxSpeed)
	if axes.Horizontal == 0 {
		p.body.StepStraight(p.speed, p.kin.RotationSpeed, dt)
		return
	}
	p.swerveObserved = true
	p.shared.MarkPlayerSwerved()
	p.body.StepBlended(p.speed, axes.Horizontal, p.kin.RotationSpeed, dt)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func (p *Player) Body() *physics.Body      { return p.body }
func (p *Player) Position() physics.Vec3   { return p.body.Position }
func (p *Player) Speed() float64           { return p.speed }
func (p *Player) Paused() bool             { return p.paused }
func (p *Player) StartedMoving() bool      { return p.startedMoving }
func (p *Player) Swerved() bool            { return p.swerveObserved }
func (p *Player) Sampler() *replay.Sampler { return p.sampler }
