package sched

import (
	"context"
	"testing"
	"time"

	"tradecore/internal/queue"
)

func TestAdvanceDispatchesDue(t *testing.T) {
	t.Parallel()
	cs := NewContextScheduler()
	var ran []string
	a := &Registration{Wakeup: func(time.Time) { ran = append(ran, "a") }}
	b := &Registration{Wakeup: func(time.Time) { ran = append(ran, "b") }}

	cs.Set(a, t0.Add(time.Second))
	cs.Set(b, t0.Add(2*time.Second))

	next := cs.Advance(t0)
	if len(ran) != 0 {
		t.Fatalf("nothing due yet, ran %v", ran)
	}
	if !next.Equal(t0.Add(time.Second)) {
		t.Fatalf("next = %v, want %v", next, t0.Add(time.Second))
	}

	cs.Advance(t0.Add(time.Second))
	if len(ran) != 1 || ran[0] != "a" {
		t.Fatalf("ran = %v, want [a]", ran)
	}

	next = cs.Advance(t0.Add(time.Minute))
	if len(ran) != 2 || ran[1] != "b" {
		t.Fatalf("ran = %v, want [a b]", ran)
	}
	if !next.Equal(FarFuture) {
		t.Fatalf("idle next = %v, want FarFuture", next)
	}
}

func TestEqualDeadlinesRunLIFO(t *testing.T) {
	t.Parallel()
	cs := NewContextScheduler()
	var ran []int
	at := t0.Add(time.Second)
	for i := 1; i <= 3; i++ {
		i := i
		cs.Set(&Registration{Wakeup: func(time.Time) { ran = append(ran, i) }}, at)
	}
	cs.Advance(at)
	want := []int{3, 2, 1}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("order = %v, want %v (LIFO within a tick)", ran, want)
		}
	}
}

func TestSetUpdatesInPlace(t *testing.T) {
	t.Parallel()
	cs := NewContextScheduler()
	count := 0
	reg := &Registration{Wakeup: func(time.Time) { count++ }}

	cs.Set(reg, t0.Add(time.Hour))
	cs.Set(reg, t0.Add(time.Second)) // pull the deadline in

	cs.Advance(t0.Add(time.Second))
	if count != 1 {
		t.Fatalf("wakeups = %d, want 1 (single slot per registration)", count)
	}
	if reg.backLink != queue.NoHandle {
		t.Fatal("back link not cleared after dispatch")
	}
}

func TestUnsetRemoves(t *testing.T) {
	t.Parallel()
	cs := NewContextScheduler()
	count := 0
	reg := &Registration{Wakeup: func(time.Time) { count++ }}
	cs.Set(reg, t0)
	cs.Unset(reg)
	cs.Unset(reg) // idempotent
	cs.Advance(t0.Add(time.Hour))
	if count != 0 {
		t.Fatalf("wakeups after Unset = %d, want 0", count)
	}
	if reg.backLink != queue.NoHandle {
		t.Fatal("back link not cleared by Unset")
	}
}

func TestRunDispatchesAndStops(t *testing.T) {
	t.Parallel()
	cs := NewContextScheduler()
	fired := make(chan struct{})
	reg := &Registration{Wakeup: func(time.Time) { close(fired) }}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cs.Run(ctx)
		close(done)
	}()

	cs.Set(reg, time.Now().Add(10*time.Millisecond))
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not dispatch due registration")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestRunReentry(t *testing.T) {
	t.Parallel()
	cs := NewContextScheduler()
	count := 0
	done := make(chan struct{})
	var reg *Registration
	reg = &Registration{Wakeup: func(now time.Time) {
		count++
		if count < 3 {
			cs.Set(reg, now) // immediate re-entry
		} else {
			close(done)
		}
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cs.Run(ctx)

	cs.Set(reg, time.Now())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("re-entry stalled, count = %d", count)
	}
}
