// Package sched contains the two scheduling layers of the runtime.
//
// Scheduler is the per-context event demultiplexer: three logical queues
// (immediate, collapsing, timed) drained one event per wakeup. The
// ContextScheduler owns the single worker goroutine and dispatches timed
// wakeups to registered contexts by wall clock.
package sched

import (
	"math"
	"sort"
	"sync"
	"time"

	"tradecore/internal/queue"
)

// FarFuture is the "no wakeup needed" sentinel. Wakeup returns it when no
// timer is pending and both event queues are empty.
var FarFuture = time.Unix(0, math.MaxInt64)

// timeMin is the "run me again now" sentinel used internally; any real clock
// reading is after it.
var timeMin = time.Time{}

// Runnable is a queued unit of work.
type Runnable func()

// Notify is armed by Wakeup and invoked (under the scheduler lock) when the
// earliest wakeup demand strictly decreases — a new, earlier event arrived.
type Notify func(time.Time)

// EventClass keys a collapsing slot. Enqueueing an event for a class that
// already has a pending closure replaces the closure instead of appending.
type EventClass int

// TimerID identifies one timed event.
type TimerID int64

type collapseEntry struct {
	class EventClass
	run   Runnable
}

type timedEvent struct {
	at  time.Time
	id  TimerID
	run Runnable
}

// Scheduler serializes multi-source events for one context.
//
// Priority on each wakeup: immediate first, then the lowest-class collapsing
// event, then the earliest due timed event — each popped from its own
// queue. A wakeup dispatches at most one event; the closure runs without
// the scheduler lock held.
type Scheduler struct {
	mu         sync.Mutex
	immediate  []Runnable
	collapsing []collapseEntry // sorted by class, ascending
	timed      *queue.Queue[timedEvent]
	timedByID  map[TimerID]queue.Handle
	idCounter  TimerID

	ntf        Notify
	nextNotify time.Time
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		timed: queue.New[timedEvent](func(a, b timedEvent) bool {
			if a.at.Equal(b.at) {
				// Equal timestamps fire LIFO: the later enqueue wins the tie.
				return a.id > b.id
			}
			return a.at.Before(b.at)
		}),
		timedByID:  make(map[TimerID]queue.Handle),
		nextNotify: FarFuture,
	}
}

// Enqueue appends to the immediate FIFO.
func (s *Scheduler) Enqueue(r Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.immediate = append(s.immediate, r)
	s.notify()
}

// EnqueueCollapse enqueues a collapsing event. A pending closure for the
// same class is replaced; while a class's closure is running, a new enqueue
// installs the next pending closure.
func (s *Scheduler) EnqueueCollapse(class EventClass, r Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.collapsing), func(i int) bool { return s.collapsing[i].class >= class })
	if idx < len(s.collapsing) && s.collapsing[idx].class == class {
		s.collapsing[idx].run = r
		return
	}
	s.collapsing = append(s.collapsing, collapseEntry{})
	copy(s.collapsing[idx+1:], s.collapsing[idx:])
	s.collapsing[idx] = collapseEntry{class: class, run: r}
	s.notify()
}

// EnqueueTimed schedules r at the given time and returns a cancellable id.
func (s *Scheduler) EnqueueTimed(at time.Time, r Runnable) TimerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idCounter++
	id := s.idCounter
	s.timedByID[id] = s.timed.Push(timedEvent{at: at, id: id, run: r})
	s.notify()
	return id
}

// CancelTimed removes a pending timed event. Returns false when the id is
// unknown or the event already fired.
func (s *Scheduler) CancelTimed(id TimerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.timedByID[id]
	if !ok {
		return false
	}
	delete(s.timedByID, id)
	return s.timed.Erase(h)
}

// Wakeup drains at most one runnable and returns the time at which the
// scheduler next wants to run. If work remains (immediate or collapsing
// queues non-empty) the returned time is not after now; with only timers
// pending it is the earliest timer; with nothing pending it is FarFuture.
//
// ntf is armed only when the returned time is strictly in the future; it
// fires when a later enqueue moves the earliest demand earlier.
//
// The caller is expected to hold its own context lock; the dispatched
// closure runs without the scheduler lock so it may re-enter Enqueue*.
func (s *Scheduler) Wakeup(now time.Time, ntf Notify) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case len(s.immediate) > 0:
		r := s.immediate[0]
		s.immediate = s.immediate[1:]
		s.runUnlocked(r)
	case len(s.collapsing) > 0:
		r := s.collapsing[0].run
		s.collapsing = s.collapsing[1:]
		s.runUnlocked(r)
	default:
		if top, ok := s.timed.Top(); ok && !top.at.After(now) {
			s.timed.Pop()
			delete(s.timedByID, top.id)
			s.runUnlocked(top.run)
		}
	}

	s.nextNotify = s.calcNextNotify(now)
	if s.nextNotify.After(now) {
		s.ntf = ntf
	}
	return s.nextNotify
}

// Arm installs the notify hook and returns the current earliest demand
// without dispatching anything. Used when a context (re)joins scheduling —
// at init and after a contained strategy fault.
func (s *Scheduler) Arm(now time.Time, ntf Notify) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ntf = ntf
	s.nextNotify = s.calcNextNotify(now)
	return s.nextNotify
}

// HasWork reports whether any queue holds a pending event.
func (s *Scheduler) HasWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.immediate) > 0 || len(s.collapsing) > 0 || !s.timed.Empty()
}

func (s *Scheduler) runUnlocked(r Runnable) {
	s.mu.Unlock()
	defer s.mu.Lock()
	r()
}

// calcNextNotify computes the earliest wakeup demand: now when an event
// queue is non-empty, else the earliest timer, else FarFuture.
func (s *Scheduler) calcNextNotify(now time.Time) time.Time {
	if len(s.immediate) > 0 || len(s.collapsing) > 0 {
		return now
	}
	if top, ok := s.timed.Top(); ok {
		return top.at
	}
	return FarFuture
}

// notify fires the armed Notify when the earliest demand strictly
// decreases. Called with the lock held on every enqueue.
func (s *Scheduler) notify() {
	newNtf := timeMin
	if len(s.immediate) == 0 && len(s.collapsing) == 0 {
		if top, ok := s.timed.Top(); ok {
			newNtf = top.at
		} else {
			newNtf = FarFuture
		}
	}
	if newNtf.Before(s.nextNotify) {
		s.nextNotify = newNtf
		if s.ntf != nil {
			s.ntf(newNtf)
		}
	}
}
