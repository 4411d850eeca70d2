package sched

import (
	"context"
	"sync"
	"time"

	"tradecore/internal/queue"
)

// Registration is one context's slot in the ContextScheduler. The scheduler
// keeps a back link from the registration to its queue position so that
// Set and Unset are O(log n); popping or erasing the slot clears the link.
// The back link is guarded by the ContextScheduler's mutex.
type Registration struct {
	// Wakeup borrows the worker goroutine. It receives the wall-clock time
	// of the dispatch and must return promptly.
	Wakeup func(now time.Time)

	backLink queue.Handle
}

type csEntry struct {
	reg *Registration
	at  time.Time
	seq uint64
}

// ContextScheduler drives all contexts from a single worker goroutine. It
// is a wall-clock priority queue over registrations: earlier deadline
// first, ties broken LIFO by insertion sequence so a context that just
// requested re-entry runs before its siblings.
type ContextScheduler struct {
	mu   sync.Mutex
	q    *queue.Queue[csEntry]
	seq  uint64
	wake chan struct{}
}

// NewContextScheduler creates an empty scheduler. Call Run on a dedicated
// goroutine, or drive it manually with Advance (back-testing, tests).
func NewContextScheduler() *ContextScheduler {
	return &ContextScheduler{
		q: queue.New[csEntry](func(a, b csEntry) bool {
			if a.at.Equal(b.at) {
				return a.seq > b.seq
			}
			return a.at.Before(b.at)
		}),
		wake: make(chan struct{}, 1),
	}
}

// Set schedules or reschedules a registration's next wakeup. An existing
// slot is updated in place; the worker is poked when the head changed.
func (cs *ContextScheduler) Set(reg *Registration, at time.Time) {
	cs.mu.Lock()
	if reg.backLink != queue.NoHandle {
		cs.q.Update(reg.backLink, func(e *csEntry) { e.at = at })
	} else {
		cs.seq++
		reg.backLink = cs.q.Push(csEntry{reg: reg, at: at, seq: cs.seq})
	}
	poke := cs.q.TopHandle() == reg.backLink
	cs.mu.Unlock()
	if poke {
		cs.signal()
	}
}

// Unset removes a registration. Safe to call when not scheduled.
func (cs *ContextScheduler) Unset(reg *Registration) {
	cs.mu.Lock()
	if reg.backLink != queue.NoHandle {
		cs.q.Erase(reg.backLink)
		reg.backLink = queue.NoHandle
	}
	cs.mu.Unlock()
}

// Run owns the calling goroutine until ctx is cancelled: pop every due
// registration and invoke its wakeup outside the lock, then sleep until the
// next deadline or until Set pokes the worker. Cancelling ctx is the stop
// token — pending deadlines are discarded and no further wakeups are
// delivered.
func (cs *ContextScheduler) Run(ctx context.Context) {
	for {
		cs.mu.Lock()
		now := time.Now()
		for {
			top, ok := cs.q.Top()
			if !ok || top.at.After(now) {
				break
			}
			cs.q.Pop()
			top.reg.backLink = queue.NoHandle
			cs.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			top.reg.Wakeup(now)
			cs.mu.Lock()
			now = time.Now()
		}
		var timerC <-chan time.Time
		var timer *time.Timer
		if top, ok := cs.q.Top(); ok && top.at.Before(FarFuture) {
			timer = time.NewTimer(time.Until(top.at))
			timerC = timer.C
		}
		cs.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-cs.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Advance dispatches every registration due at the given instant without a
// worker goroutine. It returns the next pending deadline (FarFuture when
// the queue is idle). Used by the simulator and by tests to step virtual
// time deterministically.
func (cs *ContextScheduler) Advance(now time.Time) time.Time {
	for {
		cs.mu.Lock()
		top, ok := cs.q.Top()
		if !ok || top.at.After(now) {
			next := FarFuture
			if ok {
				next = top.at
			}
			cs.mu.Unlock()
			return next
		}
		cs.q.Pop()
		top.reg.backLink = queue.NoHandle
		cs.mu.Unlock()
		top.reg.Wakeup(now)
	}
}

func (cs *ContextScheduler) signal() {
	select {
	case cs.wake <- struct{}{}:
	default:
	}
}
