package simulation

import "time"

// DefaultMaxCatchUp bounds how many fixed steps a single frame may run.
const DefaultMaxCatchUp = 25

// Accumulator converts variable frame times into a whole number of fixed steps.
type Accumulator struct {
	step       time.Duration
	maxCatchUp int
	pending    time.Duration
	dropped    time.Duration
}

// NewAccumulator builds an accumulator for the given fixed step.
func NewAccumulator(step time.Duration, maxCatchUp int) *Accumulator {
	if step <= 0 {
		step = 20 * time.Millisecond
	}
	if maxCatchUp <= 0 {
		maxCatchUp = DefaultMaxCatchUp
	}
	return &Accumulator{step: step, maxCatchUp: maxCatchUp}
}

// Add banks elapsed time and returns how many fixed steps are now due. Time beyond the
// catch-up budget is discarded so a long stall cannot snowball.
func (a *Accumulator) Add(elapsed time.Duration) int {
	if a == nil || elapsed <= 0 {
		return 0
	}
	a.pending += elapsed
	steps := int(a.pending / a.step)
	if steps > a.maxCatchUp {
		a.dropped += time.Duration(steps-a.maxCatchUp) * a.step
		steps = a.maxCatchUp
		a.pending = a.pending % a.step
	} else {
		a.pending -= time.Duration(steps) * a.step
	}
	return steps
}

// Step is the fixed timestep.
func (a *Accumulator) Step() time.Duration { return a.step }

// Dropped reports the total time discarded by the catch-up cap.
func (a *Accumulator) Dropped() time.Duration { return a.dropped }
