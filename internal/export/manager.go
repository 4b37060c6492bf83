package export

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"chicken/broker/internal/logging"
	"chicken/broker/internal/trial"
)

// Sink transmits a finished experiment document somewhere durable.
type Sink interface {
	Name() string
	Submit(ctx context.Context, doc ExperimentData) error
}

var (
	// ErrNotHandedOff is returned when submission is requested before the last trial ended.
	ErrNotHandedOff = errors.New("experiment trials have not been handed off")
	// ErrAlreadySubmitted is returned on a second submission.
	ErrAlreadySubmitted = errors.New("experiment data already submitted")
)

// DefaultSubmitTimeout bounds a single sink submission.
const DefaultSubmitTimeout = 15 * time.Second

// ManagerConfig captures the document metadata fixed for a session.
type ManagerConfig struct {
	SessionID     string
	Version       string
	CodeLength    int
	SubmitTimeout time.Duration
}

// SubmissionResult is the outcome of one sink submission.
type SubmissionResult struct {
	Sink string
	Err  error
}

// DataManager collects everything known about a participant and submits the experiment
// document once the questionnaire arrives. Submission runs in the background and failures
// are logged; they never hold up the participant.
type DataManager struct {
	mu      sync.Mutex
	cfg     ManagerConfig
	rng     *rand.Rand
	sinks   []Sink
	log     *logging.Logger
	doc     ExperimentData
	handed  bool
	sent    bool
	results []SubmissionResult
	wg      sync.WaitGroup
}

// NewDataManager constructs a manager. rng draws the completion code.
func NewDataManager(cfg ManagerConfig, rng *rand.Rand, logger *logging.Logger, sinks ...Sink) *DataManager {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 10
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if logger == nil {
		logger = logging.L()
	}
	kept := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return &DataManager{
		cfg:   cfg,
		rng:   rng,
		sinks: kept,
		log:   logger.Named("export").With(logging.Session(cfg.SessionID)),
		doc: ExperimentData{
			SessionID:   cfg.SessionID,
			VersionGame: cfg.Version,
			Appearance:  DefaultAppearance(),
		},
	}
}

// SetAppearance records the avatar choice.
func (m *DataManager) SetAppearance(appearance Appearance) {
	m.mu.Lock()
	m.doc.Appearance = appearance
	m.mu.Unlock()
}

// Appearance returns the avatar choice.
func (m *DataManager) Appearance() Appearance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Appearance
}

// SetBrowser records the participant's display details.
func (m *DataManager) SetBrowser(browser Browser) {
	m.mu.Lock()
	m.doc.Browser = &browser
	m.mu.Unlock()
}

// SetFromMturk flags participants recruited through Mechanical Turk.
func (m *DataManager) SetFromMturk(from bool) {
	m.mu.Lock()
	m.doc.FromMturk = from
	m.mu.Unlock()
}

// SetParticipant records the questionnaire.
func (m *DataManager) SetParticipant(participant Participant) error {
	if err := participant.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.doc.Participant = &participant
	m.mu.Unlock()
	return nil
}

// SetComments records the free-text answers.
func (m *DataManager) SetComments(comments Comments) {
	m.mu.Lock()
	m.doc.Comments = &comments
	m.mu.Unlock()
}

// HandOff receives the completed trials and total score and returns the completion code
// the participant enters into the survey. Later calls return the same code.
func (m *DataManager) HandOff(trials []*trial.Trial, totalPoints int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handed {
		m.log.Warn("trials handed off twice")
		return m.doc.CompletionCode
	}
	m.handed = true
	m.doc.Trials = Records(trials)
	m.doc.TotalPoints = totalPoints
	m.doc.CompletionCode = GenerateCompletionCode(m.rng, m.cfg.CodeLength)
	m.log.Info("trials handed off",
		logging.Int("trials", len(m.doc.Trials)),
		logging.Int("total_points", totalPoints),
	)
	return m.doc.CompletionCode
}

// HandedOff reports whether the trials have been received.
func (m *DataManager) HandedOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handed
}

// Submitted reports whether submission has started.
func (m *DataManager) Submitted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// Document returns a copy of the current document.
func (m *DataManager) Document() ExperimentData {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.doc
	doc.Trials = append([]trial.Record(nil), m.doc.Trials...)
	return doc
}

// Submit sends the document to every sink in the background.
func (m *DataManager) Submit(ctx context.Context) error {
	m.mu.Lock()
	if !m.handed {
		m.mu.Unlock()
		return ErrNotHandedOff
	}
	if m.sent {
		m.mu.Unlock()
		return ErrAlreadySubmitted
	}
	m.sent = true
	doc := m.doc
	m.mu.Unlock()

	if len(m.sinks) == 0 {
		m.log.Info("no results sink configured, experiment data kept in the bundle only",
			logging.String("completion_code", doc.CompletionCode))
		return nil
	}
	for _, sink := range m.sinks {
		m.wg.Add(1)
		go func(sink Sink) {
			defer m.wg.Done()
			submitCtx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
			defer cancel()
			err := sink.Submit(submitCtx, doc)
			m.record(SubmissionResult{Sink: sink.Name(), Err: err})
		}(sink)
	}
	return nil
}

func (m *DataManager) record(result SubmissionResult) {
	m.mu.Lock()
	m.results = append(m.results, result)
	m.mu.Unlock()
	if result.Err != nil {
		m.log.Error("experiment submission failed", logging.String("sink", result.Sink), logging.Error(result.Err))
		return
	}
	m.log.Info("experiment submitted", logging.String("sink", result.Sink))
}

// Wait blocks until background submissions finish.
func (m *DataManager) Wait() {
	m.wg.Wait()
}

// Results returns the submission outcomes recorded so far.
func (m *DataManager) Results() []SubmissionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SubmissionResult(nil), m.results...)
}
