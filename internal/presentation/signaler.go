package presentation

import (
	"sync/atomic"

	"chicken/broker/internal/events"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/scoring"
	"chicken/broker/internal/trial"
)

// Signaler implements AssetLoader and Overlay by publishing signals for the participant's
// browser to render.
type Signaler struct {
	publisher Publisher
	catalog   Catalog
	texts     Texts
	log       *logging.Logger
	trial     atomic.Int64
}

// SignalerOption customises signaler construction.
type SignalerOption func(*Signaler)

// WithCatalog overrides the shipped asset catalog.
func WithCatalog(catalog Catalog) SignalerOption {
	return func(s *Signaler) {
		s.catalog = catalog
	}
}

// WithTexts overrides the participant-facing strings.
func WithTexts(texts Texts) SignalerOption {
	return func(s *Signaler) {
		s.texts = texts
	}
}

// NewSignaler builds a signaler publishing to publisher.
func NewSignaler(publisher Publisher, logger *logging.Logger, opts ...SignalerOption) *Signaler {
	if logger == nil {
		logger = logging.L()
	}
	signaler := &Signaler{
		publisher: publisher,
		catalog:   DefaultCatalog(),
		texts:     DefaultTexts(),
		log:       logger.Named("presentation"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(signaler)
		}
	}
	return signaler
}

// SetTrial tags subsequent signals with the trial ordinal.
func (s *Signaler) SetTrial(ordinal int) {
	if s == nil {
		return
	}
	s.trial.Store(int64(ordinal))
}

func (s *Signaler) publish(kind events.Kind, name string, payload any) {
	if s == nil || s.publisher == nil {
		return
	}
	ordinal := int(s.trial.Load())
	if _, err := s.publisher.Publish(kind, name, ordinal, payload); err != nil {
		s.log.Warn("signal publish failed", logging.String("signal", name), logging.Trial(ordinal), logging.Error(err))
	}
}

// LoadEnvironment implements AssetLoader.
func (s *Signaler) LoadEnvironment(env trial.Environment) {
	if !s.catalog.HasEnvironment(env) {
		s.log.Warn("environment unavailable", logging.String("environment", string(env)))
		return
	}
	s.publish(events.KindAsset, SignalEnvironment, map[string]trial.Environment{"environment": env})
}

// LoadPlayerAvatar implements AssetLoader.
func (s *Signaler) LoadPlayerAvatar(gender trial.Gender, skin trial.SkinColor) {
	if !s.catalog.HasPlayerAvatar(gender, skin) {
		s.log.Warn("player avatar unavailable", logging.String("gender", string(gender)), logging.String("skin", string(skin)))
		return
	}
	s.publish(events.KindAsset, SignalPlayerAvatar, struct {
		Gender trial.Gender    `json:"gender"`
		Skin   trial.SkinColor `json:"skinColor"`
	}{gender, skin})
}

// LoadRobotAvatar implements AssetLoader. Combinations the client does not ship are skipped.
func (s *Signaler) LoadRobotAvatar(kind trial.RobotKind, color trial.RobotColor) {
	if !s.catalog.HasRobotAvatar(kind, color) {
		s.log.Warn("robot avatar unavailable", logging.String("robot", string(kind)), logging.String("color", string(color)))
		return
	}
	s.publish(events.KindAsset, SignalRobotAvatar, struct {
		Robot trial.RobotKind  `json:"robot"`
		Color trial.RobotColor `json:"color"`
	}{kind, color})
}

// LoadingScreen is the payload of the loading signal.
type LoadingScreen struct {
	Test          bool             `json:"test"`
	Motivation    trial.Motivation `json:"robotMotivation"`
	Text          string           `json:"text"`
	RobotViewText string           `json:"robotViewText,omitempty"`
}

// DisplayLoadingScreen implements Overlay.
func (s *Signaler) DisplayLoadingScreen(robotMotivation trial.Motivation, test bool) {
	screen := LoadingScreen{Test: test, Motivation: robotMotivation}
	if test {
		screen.Text = s.texts.Test
	} else {
		screen.Text = s.texts.Loading[robotMotivation]
		screen.RobotViewText = s.texts.RobotView[robotMotivation]
	}
	s.publish(events.KindOverlay, SignalLoading, screen)
}

// DismissLoadingScreen implements Overlay.
func (s *Signaler) DismissLoadingScreen() {
	s.publish(events.KindOverlay, SignalLoadFinished, nil)
}

// DisplayPayoffMatrix implements Overlay.
func (s *Signaler) DisplayPayoffMatrix(playerMotivation trial.Motivation, payoffs scoring.Vector) {
	s.publish(events.KindOverlay, SignalPayoffMatrix, struct {
		Motivation trial.Motivation `json:"playerMotivation"`
		Points     scoring.Vector   `json:"points"`
	}{playerMotivation, payoffs})
}

// DisplayScoreScreen implements Overlay.
func (s *Signaler) DisplayScoreScreen(delta int) {
	s.publish(events.KindOverlay, SignalScore, map[string]int{"delta": delta})
}

// DisplayInstructions implements Overlay.
func (s *Signaler) DisplayInstructions(playerMotivation trial.Motivation) {
	s.publish(events.KindOverlay, SignalInstructions, map[string]trial.Motivation{"playerMotivation": playerMotivation})
}

// DisplayEnding implements Overlay.
func (s *Signaler) DisplayEnding(summary Summary) {
	s.publish(events.KindSummary, SignalEnding, summary)
}
