package match

import (
	"fmt"
	"math/rand"
	"time"

	"chicken/broker/internal/bots"
	"chicken/broker/internal/config"
	"chicken/broker/internal/input"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/physics"
	"chicken/broker/internal/player"
	"chicken/broker/internal/randvar"
	"chicken/broker/internal/replay"
	"chicken/broker/internal/simulation"
	"chicken/broker/internal/state"
	"chicken/broker/internal/trial"
)

// Dependencies are the session-owned collaborators a scene borrows for one trial.
type Dependencies struct {
	Shared    *state.Shared
	Scheduler *simulation.Scheduler
	Rand      *rand.Rand
	Gaussian  *randvar.Gaussian
	Input     input.Source
}

// Option configures optional scene behaviour at construction time.
type Option func(*Scene)

// WithLogger attaches a component logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scene) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithFrame places the track in world space.
func WithFrame(frame physics.Frame) Option {
	return func(s *Scene) {
		s.frame = frame
	}
}

// WithNeverSwerve pins the robot to a straight course.
func WithNeverSwerve(enabled bool) Option {
	return func(s *Scene) {
		s.neverSwerve = enabled
	}
}

// WithGameOverHandler registers the continuation invoked once the trial is over.
func WithGameOverHandler(fn func()) Option {
	return func(s *Scene) {
		s.onGameOver = fn
	}
}

// WithCollisionHandler registers a callback for the first agent contact of the trial.
func WithCollisionHandler(fn func(at physics.Vec3)) Option {
	return func(s *Scene) {
		s.onCollision = fn
	}
}

// Scene owns everything that lives for exactly one trial: both agents, the goal, the
// trajectory samplers and every timer they scheduled. Teardown releases them together.
type Scene struct {
	protocol config.Protocol
	trial    *trial.Trial
	shared   *state.Shared
	group    *simulation.Group
	frame    physics.Frame
	log      *logging.Logger
	registry *Registry

	player *player.Player
	robot  *bots.Robot
	goal   Goal

	neverSwerve bool
	onGameOver  func()
	onCollision func(physics.Vec3)

	goalLatched bool
	touching    bool
	torndown    bool
}

// NewScene resets the shared flags and places both agents at their start marks. The
// agents stay paused until LoadFinished is called.
func NewScene(protocol config.Protocol, current *trial.Trial, deps Dependencies, opts ...Option) *Scene {
	scene := &Scene{
		protocol: protocol,
		trial:    current,
		shared:   deps.Shared,
		group:    deps.Scheduler.NewGroup(),
		log:      logging.L(),
		registry: NewRegistry(),
		goal:     Goal{Line: protocol.GoalDistance},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(scene)
		}
	}
	scene.log = scene.log.Named("scene").With(logging.Trial(current.Ordinal()))
	//1.- Every trial starts from cleared flags.
	scene.shared.Reset()
	kin := state.NewKinematics(protocol)

	//2.- Resolve each agent's basis from its world facing once, at placement.
	playerBody := physics.NewBody(scene.frame, physics.Vec3{}, scene.frame.TransformDirection(physics.Vec3{Z: 1}))
	robotBody := physics.NewBody(scene.frame, physics.Vec3{Z: protocol.TrackLength}, scene.frame.TransformDirection(physics.Vec3{Z: -1}))

	scene.robot = bots.NewRobot(bots.RobotConfig{
		Kinematics:           kin,
		Motivation:           current.RobotMotivation(),
		Debug:                scene.neverSwerve,
		SwerveDistanceStdDev: protocol.SwerveDistanceStdDev,
	}, robotBody, scene.shared, deps.Rand, deps.Gaussian)
	scene.player = player.New(playerBody, kin, scene.shared, deps.Input)

	//3.- Samplers run on the scene's timer group so teardown stops them.
	scene.player.AttachSampler(replay.NewSampler(protocol.SampleInterval, scene.player.Position), scene.group)
	scene.robot.AttachSampler(replay.NewSampler(protocol.SampleInterval, scene.robot.Position), scene.group)
	scene.player.OnFirstMove(scene.robot)

	scene.mustRegister(RolePlayer, scene.player)
	scene.mustRegister(RoleRobot, scene.robot)
	scene.mustRegister(RoleGoal, scene.goal)

	scene.log.Debug("scene placed",
		logging.Bool("robot_propensity", scene.robot.Propensity()),
		logging.Float64("robot_trigger", scene.robot.TriggerDistance()),
	)
	return scene
}

// mustRegister binds a freshly placed occupant. A fresh scene has every role free, so a
// failure here is a wiring bug.
func (s *Scene) mustRegister(role Role, occupant Occupant) {
	if err := s.registry.Register(role, occupant); err != nil {
		panic(fmt.Sprintf("match: register %s: %v", role, err))
	}
}

// LoadFinished marks the loading overlay as dismissed and hands control to the participant.
func (s *Scene) LoadFinished() {
	if s == nil || s.torndown {
		return
	}
	s.shared.SetLoadFinished()
	s.player.Unpause()
}

// FixedUpdate advances both agents by one physics step and evaluates contacts.
func (s *Scene) FixedUpdate(dt float64) {
	if s == nil || s.torndown {
		return
	}
	s.player.FixedUpdate(dt)
	s.robot.FixedUpdate(dt, s.player.Position())
	s.detectCollision()
	s.detectGoal()
}

// Update runs the variable-rate checks once per frame.
func (s *Scene) Update() {
	if s == nil || s.torndown {
		return
	}
	s.robot.Update()
}

func (s *Scene) detectCollision() {
	overlapping := physics.Overlap(s.player.Position(), s.protocol.PlayerRadius, s.robot.Position(), s.protocol.RobotRadius)
	entered := overlapping && !s.touching
	s.touching = overlapping
	//1.- Only the entering edge of the first contact counts.
	if !entered || !s.shared.MarkCollision() {
		return
	}
	at := s.player.Position()
	s.log.Info("collision", logging.Float64("x", at.X), logging.Float64("z", at.Z))
	s.player.Pause()
	s.robot.Pause()
	if s.onCollision != nil {
		s.onCollision(at)
	}
	s.group.After(s.protocol.CollisionDelay, func() {
		if s.shared.GameIsOver() {
			return
		}
		//2.- Resume both agents with the robot locked onto a straight course.
		s.player.Unpause()
		s.robot.Unpause()
		s.robot.OverrideSwerve()
	})
}

func (s *Scene) detectGoal() {
	if s.goalLatched || s.shared.GameIsOver() || !s.goal.Reached(s.player.Position()) {
		return
	}
	s.goalLatched = true
	s.log.Debug("goal reached", logging.Duration("game_over_delay", s.protocol.GameOverDelay))
	s.group.After(s.protocol.GameOverDelay, s.finish)
}

func (s *Scene) finish() {
	s.player.Pause()
	s.robot.Pause()
	if !s.shared.SetGameOver() {
		return
	}
	//1.- Freeze the trajectories at the moment the trial ends.
	s.player.Sampler().Stop()
	s.robot.Sampler().Stop()
	if s.onGameOver != nil {
		s.onGameOver()
	}
}

// Teardown cancels every timer the scene scheduled and freezes both agents.
func (s *Scene) Teardown() {
	if s == nil || s.torndown {
		return
	}
	s.torndown = true
	s.group.Cancel()
	s.player.Pause()
	s.robot.Pause()
}

// Trajectories returns copies of both agents' sampled trajectories.
func (s *Scene) Trajectories() (playerTrajectory, robotTrajectory []trial.Sample) {
	return s.player.Sampler().Trajectory(), s.robot.Sampler().Trajectory()
}

// PendingTimers counts timers still owned by the scene.
func (s *Scene) PendingTimers() int { return s.group.Len() }

func (s *Scene) Player() *player.Player { return s.player }
func (s *Scene) Robot() *bots.Robot     { return s.robot }
func (s *Scene) Goal() Goal             { return s.goal }
func (s *Scene) Registry() *Registry    { return s.registry }
func (s *Scene) Trial() *trial.Trial    { return s.trial }
func (s *Scene) TornDown() bool         { return s.torndown }

// AgentSnapshot is one agent's pose in both the track frame and world space.
type AgentSnapshot struct {
	Position physics.Vec3 `json:"position"`
	World    physics.Vec3 `json:"world"`
	Facing   physics.Vec3 `json:"facing"`
	Velocity physics.Vec3 `json:"velocity"`
	Paused   bool         `json:"paused"`
}

// Snapshot is the observer view of a running trial.
type Snapshot struct {
	Trial          int                   `json:"trial"`
	Player         AgentSnapshot         `json:"player"`
	PlayerSpeed    float64               `json:"player_speed"`
	Robot          AgentSnapshot         `json:"robot"`
	RobotDirection bots.Direction        `json:"robot_direction"`
	Goal           float64               `json:"goal"`
	Flags          state.Flags           `json:"flags"`
	Occupants      map[Role]physics.Vec3 `json:"occupants"`
	Elapsed        time.Duration         `json:"elapsed_ns"`
}

// Snapshot captures the scene for observers.
func (s *Scene) Snapshot(elapsed time.Duration) Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		Trial:          s.trial.Ordinal(),
		Player:         s.agentSnapshot(s.player.Body(), s.player.Paused()),
		PlayerSpeed:    s.player.Speed(),
		Robot:          s.agentSnapshot(s.robot.Body(), s.robot.Paused()),
		RobotDirection: s.robot.Direction(),
		Goal:           s.goal.Line,
		Flags:          s.shared.Snapshot(),
		Occupants:      s.registry.Positions(),
		Elapsed:        elapsed,
	}
}

func (s *Scene) agentSnapshot(body *physics.Body, paused bool) AgentSnapshot {
	return AgentSnapshot{
		Position: body.Position,
		World:    s.frame.TransformPoint(body.Position),
		Facing:   s.frame.TransformDirection(body.Facing),
		Velocity: body.Velocity,
		Paused:   paused,
	}
}
