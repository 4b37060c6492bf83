// Package timesync estimates how far a participant's clock is from the server clock so
// client timestamps can be compared against server time.
package timesync

import (
	"sync"
	"time"
)

// DefaultWindow is the number of recent samples the estimate is drawn from.
const DefaultWindow = 32

// DriftReporter is told whenever the estimated offset moves by more than the threshold.
type DriftReporter func(offset time.Duration)

// Estimator tracks the offset between a client clock and the server clock from one-way
// timestamps. Each sample is the server receive time minus the client send time, which is
// the clock offset plus the network delay. The smallest sample in the window is the best
// offset estimate because it carries the least delay.
type Estimator struct {
	mu        sync.Mutex
	samples   []time.Duration
	next      int
	full      bool
	offset    time.Duration
	reported  time.Duration
	threshold time.Duration
	report    DriftReporter
}

// Option customises an estimator.
type Option func(*Estimator)

// WithDriftReporter invokes report when the estimate shifts by more than threshold from
// the last reported value.
func WithDriftReporter(threshold time.Duration, report DriftReporter) Option {
	return func(e *Estimator) {
		e.threshold = threshold
		e.report = report
	}
}

// NewEstimator constructs an estimator over the most recent window samples.
func NewEstimator(window int, opts ...Option) *Estimator {
	if window <= 0 {
		window = DefaultWindow
	}
	e := &Estimator{samples: make([]time.Duration, window)}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Observe records one message sent by the client at sent and received at received, and
// returns the updated offset estimate. Zero send times are ignored.
func (e *Estimator) Observe(sent, received time.Time) time.Duration {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	if sent.IsZero() {
		offset := e.offset
		e.mu.Unlock()
		return offset
	}
	e.samples[e.next] = received.Sub(sent)
	e.next++
	if e.next == len(e.samples) {
		e.next = 0
		e.full = true
	}
	count := e.next
	if e.full {
		count = len(e.samples)
	}
	best := e.samples[0]
	for _, sample := range e.samples[1:count] {
		if sample < best {
			best = sample
		}
	}
	e.offset = best

	var notify DriftReporter
	if e.report != nil && abs(best-e.reported) > e.threshold {
		e.reported = best
		notify = e.report
	}
	e.mu.Unlock()

	if notify != nil {
		notify(best)
	}
	return best
}

// Offset returns the current estimate; add it to a client timestamp to get server time.
func (e *Estimator) Offset() time.Duration {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// ToServer converts a client timestamp into server time. Zero times stay zero.
func (e *Estimator) ToServer(sent time.Time) time.Time {
	if sent.IsZero() {
		return sent
	}
	return sent.Add(e.Offset())
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
