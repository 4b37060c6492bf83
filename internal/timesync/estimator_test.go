package timesync

import (
	"testing"
	"time"
)

func TestEstimatorTracksSmallestDelay(t *testing.T) {
	server := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	//1.- The client clock runs five seconds behind the server.
	client := server.Add(-5 * time.Second)
	estimator := NewEstimator(4)

	delays := []time.Duration{80 * time.Millisecond, 20 * time.Millisecond, 300 * time.Millisecond}
	for i, delay := range delays {
		sent := client.Add(time.Duration(i) * time.Second)
		received := server.Add(time.Duration(i)*time.Second + delay)
		estimator.Observe(sent, received)
	}
	if got, want := estimator.Offset(), 5*time.Second+20*time.Millisecond; got != want {
		t.Fatalf("expected offset %v, got %v", want, got)
	}
	corrected := estimator.ToServer(client.Add(10 * time.Second))
	if want := server.Add(10*time.Second + 20*time.Millisecond); !corrected.Equal(want) {
		t.Fatalf("expected corrected time %v, got %v", want, corrected)
	}
}

func TestEstimatorForgetsSamplesOutsideWindow(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	estimator := NewEstimator(2)
	estimator.Observe(base, base.Add(10*time.Millisecond))
	estimator.Observe(base, base.Add(50*time.Millisecond))
	estimator.Observe(base, base.Add(40*time.Millisecond))
	if got := estimator.Offset(); got != 40*time.Millisecond {
		t.Fatalf("expected the oldest sample to be evicted, got %v", got)
	}
}

func TestEstimatorIgnoresMissingTimestamps(t *testing.T) {
	estimator := NewEstimator(0)
	if got := estimator.Observe(time.Time{}, time.Now()); got != 0 {
		t.Fatalf("expected zero offset, got %v", got)
	}
	if !estimator.ToServer(time.Time{}).IsZero() {
		t.Fatal("zero timestamps should stay zero")
	}
	var nilEstimator *Estimator
	if nilEstimator.Offset() != 0 || nilEstimator.Observe(time.Now(), time.Now()) != 0 {
		t.Fatal("nil estimator should report no offset")
	}
}

func TestEstimatorReportsDrift(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var reported []time.Duration
	estimator := NewEstimator(1, WithDriftReporter(time.Second, func(offset time.Duration) {
		reported = append(reported, offset)
	}))
	estimator.Observe(base, base.Add(200*time.Millisecond))
	estimator.Observe(base, base.Add(3*time.Second))
	estimator.Observe(base, base.Add(3500*time.Millisecond))
	if len(reported) != 1 || reported[0] != 3*time.Second {
		t.Fatalf("expected a single drift report of 3s, got %v", reported)
	}
}
