package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"chicken/broker/internal/config"
	"chicken/broker/internal/events"
	"chicken/broker/internal/export"
	"chicken/broker/internal/input"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/match"
	"chicken/broker/internal/presentation"
	"chicken/broker/internal/randvar"
	"chicken/broker/internal/replay"
	"chicken/broker/internal/scoring"
	"chicken/broker/internal/sequencer"
	"chicken/broker/internal/simulation"
	"chicken/broker/internal/state"
	"chicken/broker/internal/trial"

	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Config captures what a session needs from the server configuration.
type Config struct {
	Protocol      config.Protocol
	Seed          int64
	SeedSet       bool
	BundleDir     string
	Debug         bool
	StreamRetain  int
	SubmitTimeout time.Duration
}

// Option customises a session.
type Option func(*options)

type options struct {
	id       string
	logger   *logging.Logger
	sinks    []export.Sink
	clock    func() time.Time
	trials   []*trial.Trial
	cutoffs  map[int]bool
	source   input.Source
	catalog  *presentation.Catalog
	observer sequencer.Observer
	look     *export.Appearance
}

// WithID fixes the session identifier instead of drawing a UUID.
func WithID(id string) Option { return func(o *options) { o.id = id } }

// WithLogger attaches the parent logger.
func WithLogger(logger *logging.Logger) Option { return func(o *options) { o.logger = logger } }

// WithSinks registers where the experiment document is submitted.
func WithSinks(sinks ...export.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithClock overrides the wall clock used for bundle timestamps.
func WithClock(clock func() time.Time) Option { return func(o *options) { o.clock = clock } }

// WithTrials replaces the randomized trial list.
func WithTrials(trials []*trial.Trial) Option { return func(o *options) { o.trials = trials } }

// WithCutoffs replaces the instruction page indices.
func WithCutoffs(cutoffs map[int]bool) Option { return func(o *options) { o.cutoffs = cutoffs } }

// WithInputSource drives the player from source instead of the participant connection.
func WithInputSource(source input.Source) Option { return func(o *options) { o.source = source } }

// WithCatalog overrides the asset catalog used to validate load requests.
func WithCatalog(catalog presentation.Catalog) Option {
	return func(o *options) { o.catalog = &catalog }
}

// WithObserver receives every sequencer lifecycle event after the session handled it.
func WithObserver(observer sequencer.Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithAppearance records the participant's avatar before the first trial loads.
func WithAppearance(appearance export.Appearance) Option {
	return func(o *options) { o.look = &appearance }
}

// Questionnaire is what the participant fills in after the last trial.
type Questionnaire struct {
	Participant export.Participant `json:"participant"`
	Comments    export.Comments    `json:"comments"`
	Browser     *export.Browser    `json:"browser,omitempty"`
	// FromMturk is left nil when the form omits it so the handshake flag survives.
	FromMturk *bool `json:"fromMturk,omitempty"`
}

// Session owns one participant's experiment: the sequencer and everything it drives.
// All simulation runs under the session mutex so the connection handler and the tick
// loop never race.
type Session struct {
	id      string
	cfg     Config
	seed    int64
	log     *logging.Logger
	created time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	sched    *simulation.Scheduler
	acc      *simulation.Accumulator
	shared   *state.Shared
	seq      *sequencer.Sequencer
	signaler *presentation.Signaler
	writer   *replay.Writer
	observer sequencer.Observer
	started  bool
	closed   bool

	stream *events.Stream
	data   *export.DataManager
	input  *input.Latest
}

// New prepares a session. The first trial loads when Start is called.
func New(cfg Config, opts ...Option) (*Session, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.logger == nil {
		o.logger = logging.L()
	}
	if err := cfg.Protocol.Validate(); err != nil {
		return nil, err
	}
	table, err := scoring.TableFromConfig(cfg.Protocol.Payoffs)
	if err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if !cfg.SeedSet {
		seed = time.Now().UnixNano()
	}

	s := &Session{
		id:       o.id,
		cfg:      cfg,
		seed:     seed,
		log:      o.logger.Named("session").With(logging.Session(o.id)),
		created:  o.clock(),
		rng:      rand.New(rand.NewSource(seed)),
		sched:    simulation.NewScheduler(),
		acc:      simulation.NewAccumulator(cfg.Protocol.FixedStep, simulation.DefaultMaxCatchUp),
		shared:   state.NewShared(),
		stream:   events.NewStream(events.Config{Retain: cfg.StreamRetain}),
		input:    &input.Latest{},
		observer: o.observer,
	}
	if cfg.BundleDir != "" {
		writer, _, err := replay.NewWriter(cfg.BundleDir, o.id, cfg.Protocol.SampleInterval, o.clock)
		if err != nil {
			return nil, fmt.Errorf("open experiment bundle: %w", err)
		}
		s.writer = writer
	}

	signalerOpts := []presentation.SignalerOption{}
	if o.catalog != nil {
		signalerOpts = append(signalerOpts, presentation.WithCatalog(*o.catalog))
	}
	s.signaler = presentation.NewSignaler(s.stream, s.log, signalerOpts...)
	s.data = export.NewDataManager(export.ManagerConfig{
		SessionID:     o.id,
		Version:       cfg.Protocol.GameVersion,
		CodeLength:    cfg.Protocol.CompletionCodeLength,
		SubmitTimeout: cfg.SubmitTimeout,
	}, s.rng, s.log, o.sinks...)
	if o.look != nil {
		s.data.SetAppearance(*o.look)
	}

	var source input.Source = s.input
	if o.source != nil {
		source = o.source
	}
	seqOpts := []sequencer.Option{
		sequencer.WithLogger(s.log),
		sequencer.WithDebug(cfg.Debug),
		sequencer.WithObserver(s.handleEvent),
	}
	if o.trials != nil {
		seqOpts = append(seqOpts, sequencer.WithTrials(o.trials))
	}
	if o.cutoffs != nil {
		seqOpts = append(seqOpts, sequencer.WithCutoffs(o.cutoffs))
	}
	s.seq = sequencer.New(sequencer.Dependencies{
		Protocol:  cfg.Protocol,
		Table:     table,
		Shared:    s.shared,
		Scheduler: s.sched,
		Rand:      s.rng,
		Gaussian:  randvar.NewGaussian(s.rng),
		Input:     source,
		Assets:    s.signaler,
		Overlay:   s.signaler,
		Data:      s.data,
	}, seqOpts...)
	s.log.Info("session created", logging.Int64("seed", seed), logging.Bool("debug", cfg.Debug))
	return s, nil
}

// Start builds the trial list and loads the first trial.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.seq.Start(); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Advance runs the fixed physics steps due for elapsed, firing scheduled continuations
// after every step, and then the variable-rate update once.
func (s *Session) Advance(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started {
		return
	}
	step := s.acc.Step()
	for n := s.acc.Add(elapsed); n > 0; n-- {
		s.seq.FixedUpdate(step.Seconds())
		s.sched.Advance(step)
	}
	s.seq.Update()
}

func (s *Session) handleEvent(event sequencer.Event) {
	ordinal := -1
	if event.Trial != nil {
		ordinal = event.Trial.Ordinal()
	}
	now := s.sched.Now()
	var payload any
	switch event.Type {
	case sequencer.EventTrialLoading:
		s.signaler.SetTrial(ordinal)
		payload = trialDescription(event.Index, event.Trial)
	case sequencer.EventCollision:
		payload = map[string]float64{"x": event.At.X, "z": event.At.Z}
	case sequencer.EventTrialEnded:
		payload = event.Trial.Record()
		outcome := event.Trial.Outcome()
		s.appendTrajectory(ordinal, replay.AgentPlayer, outcome.PlayerTrajectory)
		s.appendTrajectory(ordinal, replay.AgentRobot, outcome.RobotTrajectory)
	case sequencer.EventInstructions:
		payload = map[string]any{"index": event.Index, "playerMotivation": event.Trial.PlayerMotivation()}
	case sequencer.EventAborted:
		payload = map[string]string{"reason": event.Reason}
	case sequencer.EventFinished:
		payload = map[string]any{"totalPoints": event.Total, "completionCode": event.CompletionCode}
		if s.writer != nil {
			s.writer.SetSummary(s.seed, ProtocolParameters(s.cfg.Protocol), len(s.seq.Trials()), event.Total, event.CompletionCode)
		}
	default:
		payload = map[string]int{"index": event.Index}
	}
	if s.writer != nil {
		if err := s.writer.AppendEvent(now, string(event.Type), ordinal, payload); err != nil {
			s.log.Warn("bundle event append failed", logging.Error(err), logging.String("event", string(event.Type)))
		}
	}
	kind := events.KindLifecycle
	if event.Type == sequencer.EventFinished {
		kind = events.KindSummary
	}
	if _, err := s.stream.Publish(kind, string(event.Type), ordinal, payload); err != nil {
		s.log.Warn("lifecycle publish failed", logging.Error(err))
	}
	if s.observer != nil {
		s.observer(event)
	}
}

func (s *Session) appendTrajectory(ordinal int, agent replay.Agent, samples []trial.Sample) {
	if s.writer == nil {
		return
	}
	if err := s.writer.AppendTrajectory(ordinal, agent, samples); err != nil {
		s.log.Warn("bundle trajectory append failed", logging.Error(err), logging.String("agent", agent.String()))
	}
}

func trialDescription(index int, t *trial.Trial) map[string]any {
	return map[string]any{
		"index":            index,
		"trialType":        t.Kind(),
		"environmentType":  t.Environment(),
		"robotType":        t.RobotKind(),
		"robotColor":       t.RobotColor(),
		"robotMotivation":  t.RobotMotivation(),
		"playerMotivation": t.PlayerMotivation(),
	}
}

// ProtocolParameters flattens the numeric protocol fields recorded in the bundle header.
func ProtocolParameters(p config.Protocol) replay.ProtocolParameters {
	return replay.ProtocolParameters{
		"agent_speed":             p.AgentSpeed,
		"swerve_side_speed_ratio": p.SwerveSideSpeedRatio,
		"rotation_speed":          p.RotationSpeed,
		"swerve_margin":           p.SwerveMargin,
		"player_radius":           p.PlayerRadius,
		"robot_radius":            p.RobotRadius,
		"player_min_speed":        p.PlayerMinSpeed,
		"player_max_speed":        p.MaxPlayerSpeed(),
		"player_acceleration":     p.PlayerAcceleration,
		"track_length":            p.TrackLength,
		"goal_distance":           p.GoalDistance,
		"swerve_distance_stddev":  p.SwerveDistanceStdDev,
		"collision_delay_s":       p.CollisionDelay.Seconds(),
		"game_over_delay_s":       p.GameOverDelay.Seconds(),
		"loading_mean_s":          p.LoadingMean.Seconds(),
		"loading_range_s":         p.LoadingRange.Seconds(),
		"score_display_s":         p.ScoreDisplay.Seconds(),
		"fixed_step_s":            p.FixedStep.Seconds(),
	}
}

// SetAppearance records the avatar the participant picked.
func (s *Session) SetAppearance(appearance export.Appearance) {
	s.data.SetAppearance(appearance)
}

// StoreInput records the participant's latest input axes.
func (s *Session) StoreInput(axes input.Axes) {
	s.input.Store(axes)
}

// ResumeAfterInstructions closes the instruction page.
func (s *Session) ResumeAfterInstructions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.seq.ResumeAfterInstructions()
}

// SubmitQuestionnaire attaches the participant's answers and submits the experiment.
func (s *Session) SubmitQuestionnaire(ctx context.Context, answers Questionnaire) error {
	if err := s.data.SetParticipant(answers.Participant); err != nil {
		return err
	}
	s.data.SetComments(answers.Comments)
	if answers.FromMturk != nil {
		s.data.SetFromMturk(*answers.FromMturk)
	}
	if answers.Browser != nil {
		s.data.SetBrowser(*answers.Browser)
	}
	return s.data.Submit(ctx)
}

// Abort ends the experiment early without scoring the trial in flight.
func (s *Session) Abort(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started {
		return
	}
	s.seq.Abort(reason)
}

// Close finishes outstanding submissions and seals the bundle. When the participant
// left before the questionnaire, the experiment is still submitted without it.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if scene := s.seq.Scene(); scene != nil {
		scene.Teardown()
	}
	finished := s.seq.State() == sequencer.StateFinished
	s.mu.Unlock()

	if finished && !s.data.Submitted() {
		if err := s.data.Submit(ctx); err != nil && !errors.Is(err, export.ErrAlreadySubmitted) {
			s.log.Warn("submission on close failed", logging.Error(err))
		}
	}
	s.data.Wait()
	var err error
	if s.writer != nil {
		err = s.writer.Close()
	}
	s.log.Info("session closed", logging.Bool("finished", finished))
	return err
}

// Snapshot is the observer view of a session.
type Snapshot struct {
	ID             string          `json:"id"`
	State          sequencer.State `json:"state"`
	Index          int             `json:"index"`
	Trials         int             `json:"trials"`
	Score          int             `json:"score"`
	Delta          int             `json:"delta"`
	CompletionCode string          `json:"completion_code,omitempty"`
	Scene          *match.Snapshot `json:"scene,omitempty"`
	Simulated      time.Duration   `json:"simulated_ns"`
	Created        time.Time       `json:"created"`
}

// Snapshot captures the session for observers.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:             s.id,
		State:          s.seq.State(),
		Index:          s.seq.Index(),
		Trials:         len(s.seq.Trials()),
		Score:          s.seq.Score().Total(),
		Delta:          s.seq.Score().Delta(),
		CompletionCode: s.seq.CompletionCode(),
		Simulated:      s.sched.Now(),
		Created:        s.created,
	}
	if scene := s.seq.Scene(); scene != nil && !scene.TornDown() {
		view := scene.Snapshot(s.sched.Now())
		snap.Scene = &view
	}
	return snap
}

// Finished reports whether the last trial ended.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq.State() == sequencer.StateFinished
}

func (s *Session) ID() string                      { return s.id }
func (s *Session) Protocol() config.Protocol       { return s.cfg.Protocol }
func (s *Session) Seed() int64                     { return s.seed }
func (s *Session) Stream() *events.Stream          { return s.stream }
func (s *Session) Data() *export.DataManager       { return s.data }
func (s *Session) Sequencer() *sequencer.Sequencer { return s.seq }

// BundleDir reports where the experiment bundle is written, or "" when disabled.
func (s *Session) BundleDir() string {
	if s.writer == nil {
		return ""
	}
	return s.writer.Directory()
}
