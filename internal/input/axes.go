package input

import (
	"math"
	"sync"
)

// Axes are the participant's two analog controls: Horizontal steers, Vertical accelerates.
type Axes struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
}

// Clamp limits both axes to [-1, 1] and zeroes non-finite values.
func (a Axes) Clamp() Axes {
	return Axes{Horizontal: clampUnit(a.Horizontal), Vertical: clampUnit(a.Vertical)}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

// Source supplies the current axes to the player every physics step.
type Source interface {
	Axes() Axes
}

// Latest holds the most recently accepted axes. Connection goroutines store into it while
// the session goroutine reads.
type Latest struct {
	mu   sync.RWMutex
	axes Axes
}

// Store replaces the held axes.
func (l *Latest) Store(axes Axes) {
	l.mu.Lock()
	l.axes = axes.Clamp()
	l.mu.Unlock()
}

// Axes implements Source.
func (l *Latest) Axes() Axes {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.axes
}

// Script replays a fixed sequence of axes, one per read, then repeats the last entry.
type Script struct {
	steps []Axes
	next  int
}

// NewScript builds a scripted source.
func NewScript(steps ...Axes) *Script {
	return &Script{steps: steps}
}

// Axes implements Source.
func (s *Script) Axes() Axes {
	if len(s.steps) == 0 {
		return Axes{}
	}
	if s.next >= len(s.steps) {
		return s.steps[len(s.steps)-1]
	}
	axes := s.steps[s.next]
	s.next++
	return axes
}

// Constant always reports the same axes.
type Constant Axes

// Axes implements Source.
func (c Constant) Axes() Axes { return Axes(c) }
