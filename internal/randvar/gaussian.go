package randvar

import (
	"math"
	"math/rand"

	"chicken/broker/internal/trial"
)

// Gaussian draws normally distributed values with the polar method. Each accepted
// round yields two deviates; the second is kept for the following call.
type Gaussian struct {
	src      *rand.Rand
	spare    float64
	hasSpare bool
}

// NewGaussian wraps a seeded source.
func NewGaussian(src *rand.Rand) *Gaussian {
	return &Gaussian{src: src}
}

// Sample returns a value from N(mean, stddev²).
func (g *Gaussian) Sample(mean, stddev float64) float64 {
	if g.hasSpare {
		g.hasSpare = false
		return mean + stddev*g.spare
	}
	var u, v, s float64
	for {
		u = g.src.Float64()*2 - 1
		v = g.src.Float64()*2 - 1
		s = u*u + v*v
		if s > 0 && s < 1 {
			break
		}
	}
	scale := math.Sqrt(-2 * math.Log(s) / s)
	g.spare = v * scale
	g.hasSpare = true
	return mean + stddev*u*scale
}

// SampleMotivationBiased folds a Gaussian draw around the mean: below it for SPEED,
// above it for SAFETY, unchanged otherwise.
func (g *Gaussian) SampleMotivationBiased(mean, stddev float64, motivation trial.Motivation) float64 {
	value := g.Sample(mean, stddev)
	switch motivation {
	case trial.MotivationSpeed:
		return mean - math.Abs(value-mean)
	case trial.MotivationSafety:
		return mean + math.Abs(value-mean)
	default:
		return value
	}
}
