package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoopDeliversElapsedTime(t *testing.T) {
	var frames, total int64
	monitor := NewTickMonitor(time.Second)
	loop := NewLoop(200, func(elapsed time.Duration) {
		atomic.AddInt64(&frames, 1)
		atomic.AddInt64(&total, int64(elapsed))
	}, WithMonitor(monitor))
	loop.Start(context.Background())
	loop.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	loop.Stop()

	if atomic.LoadInt64(&frames) == 0 {
		t.Fatalf("expected loop to tick at least once")
	}
	if atomic.LoadInt64(&total) <= 0 {
		t.Fatalf("expected positive elapsed time")
	}
	if monitor.Snapshot().Samples == 0 {
		t.Fatalf("expected the monitor to observe frames")
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(100, nil)
	loop.Start(ctx)
	cancel()
	loop.Stop()
	loop.Stop()
}

func TestLoopInterval(t *testing.T) {
	if got := NewLoop(50, nil).Interval(); got != 20*time.Millisecond {
		t.Fatalf("unexpected interval %v", got)
	}
}

func TestAccumulatorYieldsWholeSteps(t *testing.T) {
	acc := NewAccumulator(20*time.Millisecond, 0)
	if steps := acc.Add(30 * time.Millisecond); steps != 1 {
		t.Fatalf("expected 1 step, got %d", steps)
	}
	if steps := acc.Add(10 * time.Millisecond); steps != 1 {
		t.Fatalf("expected carried remainder to complete a step, got %d", steps)
	}
	if steps := acc.Add(0); steps != 0 {
		t.Fatalf("zero elapsed must not step")
	}
}

func TestAccumulatorCapsCatchUp(t *testing.T) {
	acc := NewAccumulator(10*time.Millisecond, 3)
	if steps := acc.Add(105 * time.Millisecond); steps != 3 {
		t.Fatalf("expected catch-up cap of 3, got %d", steps)
	}
	if acc.Dropped() != 70*time.Millisecond {
		t.Fatalf("expected 70ms dropped, got %v", acc.Dropped())
	}
	if steps := acc.Add(5 * time.Millisecond); steps != 1 {
		t.Fatalf("remainder should be preserved, got %d", steps)
	}
}

func TestTickMonitorCountsOverruns(t *testing.T) {
	monitor := NewTickMonitor(10 * time.Millisecond)
	monitor.Observe(5 * time.Millisecond)
	monitor.Observe(15 * time.Millisecond)
	monitor.Observe(0)
	snapshot := monitor.Snapshot()
	if snapshot.Samples != 2 || snapshot.Overruns != 1 || snapshot.Max != 15*time.Millisecond {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.Average != 10*time.Millisecond {
		t.Fatalf("unexpected average %v", snapshot.Average)
	}
}
