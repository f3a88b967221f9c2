package quanta

import (
	"container/heap"
	"sync"
	"sync/atomic"
)

// actionKind distinguishes what a ScheduledEntry does when dispatched.
type actionKind int

const (
	actionDeliver actionKind = iota
	actionRepeat
	actionQuery
)

// Action is the payload carried by a ScheduledEntry. deliver is invoked on
// the worker that dispatches the entry; for periodic entries, deliver is
// invoked once per occurrence and the scheduler reinserts the entry itself.
type action struct {
	kind    actionKind
	deliver func(now SimTime)
	period  Duration // only meaningful for actionRepeat
}

// entry is a single record in the scheduler's time-priority heap:
// (deadline, sequence, action, canceled), totally ordered by
// (deadline, sequence).
type entry struct {
	deadline  SimTime
	sequence  uint64
	act       action
	canceled  atomic.Bool
	heapIndex int
}

// ScheduledEvent is a handle to a previously scheduled entry. Cancel is
// idempotent and safe to call after the entry has already dispatched, in
// which case it is a harmless no-op.
type ScheduledEvent struct {
	e *entry
}

// Cancel marks the underlying entry canceled. A canceled entry is skipped
// at dispatch time and never produces an effect; canceling an
// already-dispatched entry does nothing.
func (h ScheduledEvent) Cancel() {
	if h.e != nil {
		h.e.canceled.Store(true)
	}
}

// Canceled reports whether the event has been canceled.
func (h ScheduledEvent) Canceled() bool {
	return h.e != nil && h.e.canceled.Load()
}

// Scheduler is the min-heap of pending actions keyed by (deadline,
// sequence). It is safe for concurrent use: most scheduling happens from
// within handlers running on executor workers, and the heap is guarded by
// a single mutex since contention is low in practice (grounded on
// sim/eventqueue.go's EventQueueImpl, which takes the same approach).
type Scheduler struct {
	mu       sync.Mutex
	heap     entryHeap
	nextSeq  uint64
	minDelay Duration // not read by any method; ScheduleIn applies no floor to a zero delay
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.heap)
	return s
}

// ScheduleAt registers deliver to run at deadline. It fails with
// KindInvalidDeadline if deadline is strictly before now.
func (s *Scheduler) ScheduleAt(
	now, deadline SimTime,
	deliver func(now SimTime),
) (ScheduledEvent, error) {
	if deadline.Before(now) {
		return ScheduledEvent{}, InvalidDeadline(now, "deadline is in the past")
	}

	return s.push(deadline, action{kind: actionDeliver, deliver: deliver}), nil
}

// ScheduleIn registers deliver to run delay after now. A zero delay is
// legal and dispatches within the current same-instant loop (see §9's
// open question, resolved here as "allow").
func (s *Scheduler) ScheduleIn(
	now SimTime,
	delay Duration,
	deliver func(now SimTime),
) (ScheduledEvent, error) {
	if delay < 0 {
		return ScheduledEvent{}, InvalidDeadline(now, "negative delay")
	}

	deadline, _ := now.Add(delay)
	return s.ScheduleAt(now, deadline, deliver)
}

// SchedulePeriodic registers deliver to run at `first`, and then every
// `period` thereafter. The returned handle remains valid across
// reinsertions: canceling it stops future occurrences, including one that
// is mid-dispatch.
func (s *Scheduler) SchedulePeriodic(
	now, first SimTime,
	period Duration,
	deliver func(now SimTime),
) (ScheduledEvent, error) {
	if first.Before(now) {
		return ScheduledEvent{}, InvalidDeadline(now, "first occurrence is in the past")
	}

	if period <= 0 {
		return ScheduledEvent{}, InvalidDeadline(now, "period must be positive")
	}

	return s.push(first, action{
		kind:    actionRepeat,
		deliver: deliver,
		period:  period,
	}), nil
}

func (s *Scheduler) push(deadline SimTime, act action) ScheduledEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{
		deadline: deadline,
		sequence: s.nextSeq,
		act:      act,
	}
	s.nextSeq++

	heap.Push(&s.heap, e)

	return ScheduledEvent{e: e}
}

// PeekNextDeadline returns the deadline of the earliest non-canceled
// entry, if any.
func (s *Scheduler) PeekNextDeadline() (SimTime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.heap.Len() > 0 {
		top := s.heap[0]
		if !top.canceled.Load() {
			return top.deadline, true
		}

		heap.Pop(&s.heap)
	}

	return SimTime{}, false
}

// Len returns the number of entries still in the heap, including canceled
// ones that have not yet been lazily dropped.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// DispatchUpTo pops every non-canceled entry with deadline <= t, in
// (deadline, sequence) order, and calls fn once per entry, passing the
// entry's firing deadline as "now" for that dispatch (multiple distinct
// deadlines at or before t may be present when t comes from a coarse step
// target such as step_by). Periodic entries are reinserted at
// deadline+period after fn returns, reusing the same *entry the original
// ScheduledEvent handle points to — so a Cancel() issued against that
// handle after any number of occurrences still reaches the entry actually
// sitting in the heap.
//
// DispatchUpTo does not itself loop for same-instant rescheduling; the
// Controller's step loop is responsible for calling DispatchUpTo, running
// the executor to quiescence, and repeating while entries keep appearing
// at the same instant (§4.C).
func (s *Scheduler) DispatchUpTo(t SimTime, fn func(firedAt SimTime, e *entry)) {
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 {
			s.mu.Unlock()
			return
		}

		top := s.heap[0]
		if top.canceled.Load() {
			heap.Pop(&s.heap)
			s.mu.Unlock()
			continue
		}

		if top.deadline.After(t) {
			s.mu.Unlock()
			return
		}

		e := heap.Pop(&s.heap).(*entry)
		firedAt := e.deadline
		s.mu.Unlock()

		fn(firedAt, e)

		if e.act.kind == actionRepeat && !e.canceled.Load() {
			nextDeadline, _ := firedAt.Add(e.act.period)

			s.mu.Lock()
			e.deadline = nextDeadline
			e.sequence = s.nextSeq
			s.nextSeq++
			heap.Push(&s.heap, e)
			s.mu.Unlock()
		}
	}
}

// entryHeap implements container/heap.Interface over *entry, ordered by
// (deadline, sequence), grounded on sim/eventqueue.go's eventHeap.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	c := h[i].deadline.Compare(h[j].deadline)
	if c != 0 {
		return c < 0
	}
	return h[i].sequence < h[j].sequence
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
