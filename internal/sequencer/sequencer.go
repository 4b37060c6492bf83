package sequencer

import (
	"math/rand"
	"time"

	"chicken/broker/internal/config"
	"chicken/broker/internal/export"
	"chicken/broker/internal/input"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/match"
	"chicken/broker/internal/physics"
	"chicken/broker/internal/presentation"
	"chicken/broker/internal/randvar"
	"chicken/broker/internal/scoring"
	"chicken/broker/internal/simulation"
	"chicken/broker/internal/state"
	"chicken/broker/internal/trial"
)

// DataCollector receives the finished experiment and supplies the participant's avatar.
// *export.DataManager implements it.
type DataCollector interface {
	Appearance() export.Appearance
	HandOff(trials []*trial.Trial, totalPoints int) string
}

// Event is a lifecycle notification. Fields not relevant to Type are zero.
type Event struct {
	Type           EventType
	Index          int
	Trial          *trial.Trial
	Points         int
	Total          int
	At             physics.Vec3
	Reason         string
	CompletionCode string
}

// Observer is called synchronously on every lifecycle transition.
type Observer func(Event)

// Dependencies are the session-owned collaborators the sequencer drives.
type Dependencies struct {
	Protocol  config.Protocol
	Table     scoring.Table
	Shared    *state.Shared
	Scheduler *simulation.Scheduler
	Rand      *rand.Rand
	Gaussian  *randvar.Gaussian
	Input     input.Source
	Assets    presentation.AssetLoader
	Overlay   presentation.Overlay
	Data      DataCollector
}

// Option customises a sequencer.
type Option func(*Sequencer)

// WithTrials replaces the randomized trial list.
func WithTrials(trials []*trial.Trial) Option {
	return func(s *Sequencer) {
		s.preset = trials
	}
}

// WithCutoffs replaces the instruction page indices derived from the block layout.
func WithCutoffs(cutoffs map[int]bool) Option {
	return func(s *Sequencer) {
		if cutoffs != nil {
			s.cutoffs = cutoffs
		}
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(observer Observer) Option {
	return func(s *Sequencer) {
		if observer != nil {
			s.observers = append(s.observers, observer)
		}
	}
}

// WithLogger attaches a component logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Sequencer) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithDebug enables the never-swerve robot and the collision statistics at the end.
func WithDebug(enabled bool) Option {
	return func(s *Sequencer) {
		s.debug = enabled
	}
}

// WithFrame places every trial scene in world space.
func WithFrame(frame physics.Frame) Option {
	return func(s *Sequencer) {
		s.frame = frame
	}
}

// Sequencer walks the participant through the trial list: it loads each trial scene,
// scores it on game over, shows the score and instruction pages and finally hands the
// results to the data collector. It is driven from the session goroutine only.
type Sequencer struct {
	deps      Dependencies
	log       *logging.Logger
	observers []Observer
	cutoffs   map[int]bool
	preset    []*trial.Trial
	debug     bool
	frame     physics.Frame

	state   State
	trials  []*trial.Trial
	index   int
	score   scoring.Score
	scene   *match.Scene
	timers  *simulation.Group
	code    string
	aborted bool
}

// New constructs a sequencer in the BuildingTrials state.
func New(deps Dependencies, opts ...Option) *Sequencer {
	if deps.Table == nil {
		deps.Table = scoring.DefaultTable()
	}
	s := &Sequencer{
		deps:    deps,
		log:     logging.L(),
		cutoffs: trial.InstructionCutoffs(trial.BlockCount, trial.BlockSize),
		state:   StateBuildingTrials,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.Named("sequencer")
	s.timers = deps.Scheduler.NewGroup()
	return s
}

// Start builds the trial list and loads the first trial.
func (s *Sequencer) Start() error {
	if s.state != StateBuildingTrials || s.trials != nil {
		return ErrAlreadyStarted
	}
	if s.preset != nil {
		s.trials = s.preset
	} else {
		s.trials = trial.BuildList(s.deps.Rand)
	}
	if len(s.trials) == 0 {
		return ErrNoTrials
	}
	s.log.Info("trial list built", logging.Int("trials", len(s.trials)))
	s.loadTrial()
	return nil
}

func (s *Sequencer) loadTrial() {
	current := s.trials[s.index]
	s.state = StateLoadingTrial
	s.emit(Event{Type: EventTrialLoading, Index: s.index, Trial: current})

	//1.- A fresh scene resets the shared flags and parks both agents at their marks.
	s.scene = match.NewScene(s.deps.Protocol, current, match.Dependencies{
		Shared:    s.deps.Shared,
		Scheduler: s.deps.Scheduler,
		Rand:      s.deps.Rand,
		Gaussian:  s.deps.Gaussian,
		Input:     s.deps.Input,
	},
		match.WithLogger(s.log),
		match.WithFrame(s.frame),
		match.WithNeverSwerve(s.debug || s.deps.Protocol.DebugNeverSwerve),
		match.WithGameOverHandler(s.onGameOver),
		match.WithCollisionHandler(s.onCollision),
	)

	s.deps.Overlay.DisplayLoadingScreen(current.RobotMotivation(), current.IsTest())
	appearance := export.DefaultAppearance()
	if s.deps.Data != nil {
		appearance = s.deps.Data.Appearance()
	}
	s.deps.Assets.LoadPlayerAvatar(appearance.Gender, appearance.SkinColor)
	s.deps.Assets.LoadRobotAvatar(current.RobotKind(), current.RobotColor())
	s.deps.Assets.LoadEnvironment(current.Environment())
	if !current.IsTest() {
		s.deps.Overlay.DisplayPayoffMatrix(current.PlayerMotivation(), s.deps.Table[current.PlayerMotivation()])
	}

	//2.- The overlay stays up for a uniformly drawn duration before control is handed over.
	wait := s.loadingDuration()
	s.log.Debug("trial loading", logging.Trial(current.Ordinal()), logging.Duration("loading", wait))
	s.timers.After(wait, func() {
		s.scene.LoadFinished()
		s.deps.Overlay.DismissLoadingScreen()
		s.state = StateAwaitingGoal
		s.emit(Event{Type: EventTrialStarted, Index: s.index, Trial: current})
	})
}

func (s *Sequencer) loadingDuration() time.Duration {
	mean := s.deps.Protocol.LoadingMean
	spread := s.deps.Protocol.LoadingRange
	if spread <= 0 {
		return mean
	}
	return mean - spread + time.Duration(s.deps.Rand.Int63n(int64(2*spread)+1))
}

func (s *Sequencer) onCollision(at physics.Vec3) {
	s.emit(Event{Type: EventCollision, Index: s.index, Trial: s.scene.Trial(), At: at})
}

func (s *Sequencer) onGameOver() {
	//1.- The scene latches game over, the state check guards against late callbacks after Abort.
	if s.state != StateAwaitingGoal {
		return
	}
	s.state = StateScoring
	current := s.trials[s.index]
	flags := s.deps.Shared.Snapshot()
	playerTrajectory, robotTrajectory := s.scene.Trajectories()

	points := 0
	if !current.IsTest() {
		points = s.deps.Table.ComputeDelta(current.PlayerMotivation(), flags.CollisionHasHappened, flags.PlayerSwerved, flags.RobotSwerved)
		s.score.Add(points)
	}
	current.Finalize(trial.Outcome{
		Collision:                 flags.CollisionHasHappened,
		RobotSwerved:              flags.RobotSwerved,
		RobotPlayerSwerveDistance: flags.RobotPlayerSwerveDistance,
		RobotStartSwerveDistance:  flags.RobotStartSwerveDistance,
		Points:                    points,
		PlayerTrajectory:          playerTrajectory,
		RobotTrajectory:           robotTrajectory,
	})
	s.log.Info("trial scored",
		logging.Trial(current.Ordinal()),
		logging.Bool("collision", flags.CollisionHasHappened),
		logging.Bool("player_swerved", flags.PlayerSwerved),
		logging.Bool("robot_swerved", flags.RobotSwerved),
		logging.Int("points", points),
		logging.Int("total", s.score.Total()),
	)
	s.emit(Event{Type: EventTrialEnded, Index: s.index, Trial: current, Points: points, Total: s.score.Total()})

	s.state = StateAdvancing
	s.deps.Overlay.DisplayScoreScreen(points)
	s.timers.After(s.deps.Protocol.ScoreDisplay, s.nextTrial)
}

func (s *Sequencer) nextTrial() {
	s.scene.Teardown()
	s.index++
	if s.index >= len(s.trials) {
		s.finish()
		return
	}
	if s.cutoffs[s.index] {
		s.state = StateInstruction
		upcoming := s.trials[s.index]
		s.deps.Overlay.DisplayInstructions(upcoming.PlayerMotivation())
		s.emit(Event{Type: EventInstructions, Index: s.index, Trial: upcoming})
		return
	}
	s.loadTrial()
}

// ResumeAfterInstructions loads the next trial once the participant closes the
// instruction page.
func (s *Sequencer) ResumeAfterInstructions() error {
	if s.state != StateInstruction {
		return ErrNotAwaitingInstructions
	}
	s.loadTrial()
	return nil
}

func (s *Sequencer) finish() {
	s.state = StateFinished
	if s.scene != nil {
		s.scene.Teardown()
	}
	s.timers.Cancel()
	total := s.score.Total()
	if s.deps.Data != nil {
		s.code = s.deps.Data.HandOff(s.trials, total)
	}
	s.deps.Overlay.DisplayEnding(presentation.Summary{
		TotalPoints:    total,
		Bonus:          s.score.Bonus(),
		CompletionCode: s.code,
	})
	if s.debug {
		collisions, rate := s.CollisionStats()
		s.log.Info("collision statistics",
			logging.Int("trials", len(s.trials)),
			logging.Int("collisions", collisions),
			logging.Float64("collision_rate", rate),
		)
	}
	s.log.Info("experiment finished", logging.Int("total_points", total), logging.Bool("aborted", s.aborted))
	s.emit(Event{Type: EventFinished, Index: s.index, Total: total, CompletionCode: s.code})
}

// Abort forces the experiment to finish without scoring the trial in flight. Test
// harnesses use it when a participant never reaches the goal.
func (s *Sequencer) Abort(reason string) {
	if s.state == StateFinished {
		return
	}
	s.aborted = true
	s.log.Warn("experiment aborted", logging.String("reason", reason), logging.String("state", s.state.String()))
	s.emit(Event{Type: EventAborted, Index: s.index, Trial: s.Current(), Reason: reason})
	s.finish()
}

// CollisionStats counts recorded trials that ended with a collision.
func (s *Sequencer) CollisionStats() (collisions int, rate float64) {
	for _, t := range s.trials {
		if t.Recorded() && t.Outcome().Collision {
			collisions++
		}
	}
	if len(s.trials) > 0 {
		rate = float64(collisions) / float64(len(s.trials))
	}
	return collisions, rate
}

// FixedUpdate advances the current trial scene by one physics step.
func (s *Sequencer) FixedUpdate(dt float64) {
	if s.state == StateFinished || s.state == StateInstruction {
		return
	}
	s.scene.FixedUpdate(dt)
}

// Update runs the variable-rate part of the current scene.
func (s *Sequencer) Update() {
	if s.state == StateFinished || s.state == StateInstruction {
		return
	}
	s.scene.Update()
}

func (s *Sequencer) emit(event Event) {
	for _, observer := range s.observers {
		observer(event)
	}
}

func (s *Sequencer) State() State           { return s.state }
func (s *Sequencer) Index() int             { return s.index }
func (s *Sequencer) Trials() []*trial.Trial { return s.trials }
func (s *Sequencer) Scene() *match.Scene    { return s.scene }
func (s *Sequencer) Score() *scoring.Score  { return &s.score }
func (s *Sequencer) CompletionCode() string { return s.code }
func (s *Sequencer) Aborted() bool          { return s.aborted }

// Current returns the trial being played, or nil before Start and after the end.
func (s *Sequencer) Current() *trial.Trial {
	if s.trials == nil || s.index >= len(s.trials) {
		return nil
	}
	return s.trials[s.index]
}
