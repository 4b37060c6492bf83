package simulation

import (
	"container/heap"
	"time"
)

// Scheduler runs callbacks at points on a simulated timeline. Time only moves when
// Advance is called, which keeps timed continuations deterministic under test.
type Scheduler struct {
	now    time.Duration
	seq    uint64
	timers timerQueue
}

// NewScheduler returns a scheduler positioned at time zero.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Timer is a scheduled callback. Cancel is safe to call repeatedly and from inside callbacks.
type Timer struct {
	sched    *Scheduler
	group    *Group
	due      time.Duration
	interval time.Duration
	seq      uint64
	index    int
	fn       func()
	canceled bool
}

// Now returns the current simulated time.
func (s *Scheduler) Now() time.Duration { return s.now }

// Pending counts timers that have not fired or been cancelled.
func (s *Scheduler) Pending() int { return s.timers.Len() }

// After runs fn once when delay has elapsed.
func (s *Scheduler) After(delay time.Duration, fn func()) *Timer {
	return s.schedule(nil, delay, 0, fn)
}

// Every runs fn after first and then every interval until cancelled.
func (s *Scheduler) Every(first, interval time.Duration, fn func()) *Timer {
	if interval <= 0 {
		panic("simulation: Every requires a positive interval")
	}
	return s.schedule(nil, first, interval, fn)
}

func (s *Scheduler) schedule(group *Group, delay, interval time.Duration, fn func()) *Timer {
	if delay < 0 {
		delay = 0
	}
	s.seq++
	t := &Timer{sched: s, group: group, due: s.now + delay, interval: interval, seq: s.seq, fn: fn}
	heap.Push(&s.timers, t)
	return t
}

// Advance moves time forward, firing due timers in deadline order. Timers scheduled by
// callbacks fire within the same call when their deadline falls inside the window.
func (s *Scheduler) Advance(elapsed time.Duration) {
	if elapsed < 0 {
		return
	}
	target := s.now + elapsed
	for s.timers.Len() > 0 {
		next := s.timers[0]
		if next.due > target {
			break
		}
		heap.Pop(&s.timers)
		s.now = next.due
		//1.- Re-arm periodic timers before the callback so it may cancel itself.
		if next.interval > 0 {
			next.due += next.interval
			s.seq++
			next.seq = s.seq
			heap.Push(&s.timers, next)
		} else {
			next.release()
		}
		next.fn()
	}
	s.now = target
}

// Cancel stops the timer from firing again.
func (t *Timer) Cancel() {
	if t == nil || t.canceled {
		return
	}
	t.canceled = true
	if t.index >= 0 && t.sched != nil {
		heap.Remove(&t.sched.timers, t.index)
	}
	t.release()
}

// Active reports whether the timer may still fire.
func (t *Timer) Active() bool { return t != nil && !t.canceled && t.index >= 0 }

func (t *Timer) release() {
	if t.group != nil {
		delete(t.group.timers, t)
	}
}

// Group collects timers that share a lifetime so they can be cancelled together.
type Group struct {
	sched  *Scheduler
	timers map[*Timer]struct{}
	closed bool
}

// NewGroup creates an empty timer group.
func (s *Scheduler) NewGroup() *Group {
	return &Group{sched: s, timers: make(map[*Timer]struct{})}
}

// After schedules a one-shot timer owned by the group.
func (g *Group) After(delay time.Duration, fn func()) *Timer {
	return g.add(delay, 0, fn)
}

// Every schedules a periodic timer owned by the group.
func (g *Group) Every(first, interval time.Duration, fn func()) *Timer {
	if interval <= 0 {
		panic("simulation: Every requires a positive interval")
	}
	return g.add(first, interval, fn)
}

func (g *Group) add(delay, interval time.Duration, fn func()) *Timer {
	if g.closed {
		return &Timer{canceled: true, index: -1}
	}
	t := g.sched.schedule(g, delay, interval, fn)
	g.timers[t] = struct{}{}
	return t
}

// Cancel stops every timer in the group and refuses new ones.
func (g *Group) Cancel() {
	if g == nil || g.closed {
		return
	}
	g.closed = true
	for t := range g.timers {
		t.Cancel()
	}
}

// Len counts live timers in the group.
func (g *Group) Len() int {
	if g == nil {
		return 0
	}
	return len(g.timers)
}

type timerQueue []*Timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
