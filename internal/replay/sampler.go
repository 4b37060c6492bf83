package replay

import (
	"time"

	"chicken/broker/internal/physics"
	"chicken/broker/internal/simulation"
	"chicken/broker/internal/trial"
)

// DefaultSampleInterval is the trajectory sampling period.
const DefaultSampleInterval = 100 * time.Millisecond

// Ticker schedules periodic callbacks. Both simulation.Scheduler and simulation.Group satisfy it.
type Ticker interface {
	Every(first, interval time.Duration, fn func()) *simulation.Timer
}

// Sampler records an agent's planar position and velocity at a fixed period for one trial.
type Sampler struct {
	interval time.Duration
	position func() physics.Vec3
	samples  []trial.Sample
	previous physics.Vec3
	timer    *simulation.Timer
	started  bool
}

// NewSampler builds a sampler reading positions from the supplied accessor.
func NewSampler(interval time.Duration, position func() physics.Vec3) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{interval: interval, position: position}
}

// Start begins sampling one interval from now. Repeated calls are ignored.
func (s *Sampler) Start(ticker Ticker) {
	if s == nil || s.started || ticker == nil {
		return
	}
	s.started = true
	s.timer = ticker.Every(s.interval, s.interval, s.sample)
}

// Started reports whether sampling has begun.
func (s *Sampler) Started() bool { return s != nil && s.started }

// Stop halts further sampling; the trajectory collected so far is kept.
func (s *Sampler) Stop() {
	if s == nil {
		return
	}
	s.timer.Cancel()
}

// Trajectory returns a copy of the samples collected so far.
func (s *Sampler) Trajectory() []trial.Sample {
	if s == nil {
		return nil
	}
	return append([]trial.Sample(nil), s.samples...)
}

func (s *Sampler) sample() {
	current := s.position()
	next := trial.Sample{X: current.X, Z: current.Z}
	//1.- The first sample has no predecessor, so its velocity stays zero.
	if len(s.samples) > 0 {
		seconds := s.interval.Seconds()
		next.VX = (current.X - s.previous.X) / seconds
		next.VZ = (current.Z - s.previous.Z) / seconds
	}
	s.previous = current
	s.samples = append(s.samples, next)
}
