package simulation

import (
	"context"
	"sync"
	"time"
)

// FrameFunc receives the wall time elapsed since the previous frame.
type FrameFunc func(elapsed time.Duration)

// Loop drives frames at the configured target frequency until cancelled.
type Loop struct {
	interval time.Duration
	frame    FrameFunc
	monitor  *TickMonitor
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithMonitor records how long each frame callback takes.
func WithMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) { l.monitor = monitor }
}

// WithLoopClock overrides the wall clock used to measure elapsed time.
func WithLoopClock(now func() time.Time) LoopOption {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, frame FrameFunc, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 50
	}
	if frame == nil {
		frame = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 50
	}
	loop := &Loop{interval: interval, frame: frame, now: time.Now}
	for _, opt := range opts {
		opt(loop)
	}
	return loop
}

// Start begins ticking until the context is cancelled or Stop is invoked. Starting a
// running loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	last := l.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			//1.- Hand the real elapsed time to the frame so callers can catch up on stalls.
			now := l.now()
			elapsed := now.Sub(last)
			last = now
			started := l.now()
			l.frame(elapsed)
			//2.- Track frame cost for operators.
			l.monitor.Observe(l.now().Sub(started))
		}
	}
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Interval exposes the configured frame interval.
func (l *Loop) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
