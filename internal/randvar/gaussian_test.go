package randvar

import (
	"math"
	"math/rand"
	"testing"

	"chicken/broker/internal/trial"
)

func moments(values []float64) (mean, stddev float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		stddev += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(stddev / float64(len(values)))
}

func TestSampleMatchesRequestedMoments(t *testing.T) {
	g := NewGaussian(rand.New(rand.NewSource(11)))
	values := make([]float64, 40000)
	for i := range values {
		values[i] = g.Sample(5, 2)
	}
	mean, stddev := moments(values)
	if math.Abs(mean-5) > 0.05 {
		t.Fatalf("mean drifted: %v", mean)
	}
	if math.Abs(stddev-2) > 0.05 {
		t.Fatalf("stddev drifted: %v", stddev)
	}
}

type countingSource struct {
	inner rand.Source
	draws int
}

func (c *countingSource) Int63() int64 {
	c.draws++
	return c.inner.Int63()
}

func (c *countingSource) Seed(seed int64) { c.inner.Seed(seed) }

func TestSampleUsesCachedDeviate(t *testing.T) {
	src := &countingSource{inner: rand.NewSource(3)}
	g := NewGaussian(rand.New(src))
	_ = g.Sample(0, 1)
	if !g.hasSpare {
		t.Fatalf("expected the second deviate to be cached")
	}
	drawn := src.draws
	_ = g.Sample(0, 1)
	if g.hasSpare {
		t.Fatalf("cached deviate should be consumed")
	}
	if src.draws != drawn {
		t.Fatalf("consuming the cached deviate drew %d extra uniforms", src.draws-drawn)
	}
	_ = g.Sample(0, 1)
	if src.draws == drawn {
		t.Fatalf("a fresh round should draw new uniforms")
	}
}

func TestSampleMotivationBiasedFolds(t *testing.T) {
	g := NewGaussian(rand.New(rand.NewSource(5)))
	for i := 0; i < 2000; i++ {
		if v := g.SampleMotivationBiased(10, 3, trial.MotivationSpeed); v > 10 {
			t.Fatalf("speed sample above mean: %v", v)
		}
		if v := g.SampleMotivationBiased(10, 3, trial.MotivationSafety); v < 10 {
			t.Fatalf("safety sample below mean: %v", v)
		}
	}

	values := make([]float64, 20000)
	for i := range values {
		values[i] = g.SampleMotivationBiased(10, 3, trial.MotivationNone)
	}
	mean, _ := moments(values)
	if math.Abs(mean-10) > 0.1 {
		t.Fatalf("neutral samples should stay centred, mean=%v", mean)
	}
}
