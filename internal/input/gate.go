package input

import (
	"math"
	"sync"
	"time"

	"chicken/broker/internal/logging"
)

// Clock exposes the current time for rate limiting decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config controls the freshness and throughput gates applied to participant input.
type Config struct {
	MaxAge      time.Duration
	MinInterval time.Duration
}

// DropReason enumerates why a frame was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonStale       DropReason = "stale"
	DropReasonRateLimited DropReason = "rate_limit"
	DropReasonRange       DropReason = "range"
)

// Decision summarises whether a frame passed validation.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// Frame is one input update from a participant's browser.
type Frame struct {
	SessionID string
	Sequence  uint64
	SentAt    time.Time
	Axes      Axes
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Stale       uint64 `json:"stale"`
	RateLimited uint64 `json:"rate_limited"`
	Range       uint64 `json:"range"`
}

func (c *DropCounters) add(reason DropReason) {
	switch reason {
	case DropReasonSequence:
		c.Sequence++
	case DropReasonStale:
		c.Stale++
	case DropReasonRateLimited:
		c.RateLimited++
	case DropReasonRange:
		c.Range++
	}
}

type sessionState struct {
	lastSequence uint64
	lastAccepted time.Time
	drops        DropCounters
}

// Gate validates ordering, freshness, throughput and axis ranges for inbound input frames.
// A single gate is shared by every connection on the broker.
type Gate struct {
	mu       sync.Mutex
	cfg      Config
	clock    Clock
	logger   *logging.Logger
	sessions map[string]*sessionState
}

// Option customises gate construction.
type Option func(*Gate)

// WithClock overrides the clock used for latency calculations.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate constructs a gate with the supplied configuration and logger.
func NewGate(cfg Config, logger *logging.Logger, opts ...Option) *Gate {
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if logger == nil {
		logger = logging.L()
	}
	gate := &Gate{
		cfg:      cfg,
		clock:    systemClock{},
		logger:   logger.Named("input_gate"),
		sessions: make(map[string]*sessionState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate applies the ordering, freshness, throughput and range checks to the frame.
func (g *Gate) Evaluate(frame Frame) Decision {
	decision := Decision{Accepted: true}
	if g == nil || frame.SessionID == "" {
		return decision
	}
	now := g.clock.Now()
	if !frame.SentAt.IsZero() {
		if delay := now.Sub(frame.SentAt); delay > 0 {
			decision.Delay = delay
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{}
		g.sessions[frame.SessionID] = state
	}

	reason := DropReasonNone
	switch {
	case !axisInRange(frame.Axes.Horizontal) || !axisInRange(frame.Axes.Vertical):
		reason = DropReasonRange
	case frame.Sequence == 0 || (state.lastSequence != 0 && frame.Sequence <= state.lastSequence):
		//1.- Sequences start at one and must strictly increase.
		reason = DropReasonSequence
	case g.cfg.MaxAge > 0 && decision.Delay > g.cfg.MaxAge:
		reason = DropReasonStale
	case state.lastSequence != 0 && g.cfg.MinInterval > 0 && now.Sub(state.lastAccepted) < g.cfg.MinInterval:
		reason = DropReasonRateLimited
	}
	if reason != DropReasonNone {
		state.drops.add(reason)
		g.logger.Debug("input frame dropped",
			logging.Session(frame.SessionID),
			logging.String("reason", string(reason)),
			logging.Int64("sequence", int64(frame.Sequence)),
		)
		decision.Accepted = false
		decision.Reason = reason
		return decision
	}
	//2.- Promote the frame as the latest accepted update.
	state.lastSequence = frame.Sequence
	state.lastAccepted = now
	return decision
}

func axisInRange(v float64) bool {
	return !math.IsNaN(v) && v >= -1 && v <= 1
}

// Forget clears cached sequencing and metrics for a finished session.
func (g *Gate) Forget(sessionID string) {
	if g == nil || sessionID == "" {
		return
	}
	g.mu.Lock()
	delete(g.sessions, sessionID)
	g.mu.Unlock()
}

// Metrics returns a snapshot of the drop counters per session.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sessions) == 0 {
		return nil
	}
	out := make(map[string]DropCounters, len(g.sessions))
	for id, state := range g.sessions {
		out[id] = state.drops
	}
	return out
}
