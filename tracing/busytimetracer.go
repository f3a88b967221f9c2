package tracing

import (
	"container/list"
	"sort"

	"github.com/quantasim/quanta"
)

// TimeTeller reports the current simulation time. *quanta.Simulation
// satisfies this directly through its own Time method.
type TimeTeller interface {
	Time() quanta.SimTime
}

type taskInterval struct {
	start, end quanta.SimTime
	completed  bool
}

// BusyTimeTracer tracks how much simulated time a domain spent
// processing a filtered kind of task, merging overlapping intervals so
// concurrent handling of several tasks of the same kind is not
// double-counted. Grounded on the teacher's busytimetracer.go.
type BusyTimeTracer struct {
	timeTeller TimeTeller
	filter     TaskFilter

	inflight  map[string]*list.Element
	intervals *list.List
	busyTime  quanta.Duration
}

// NewBusyTimeTracer creates a BusyTimeTracer. filter may be nil to track
// every task regardless of kind.
func NewBusyTimeTracer(timeTeller TimeTeller, filter TaskFilter) *BusyTimeTracer {
	return &BusyTimeTracer{
		timeTeller: timeTeller,
		filter:     filter,
		inflight:   make(map[string]*list.Element),
		intervals:  list.New(),
	}
}

// BusyTime returns the total simulated time spent on tracked tasks so far.
func (t *BusyTimeTracer) BusyTime() quanta.Duration {
	return t.busyTime
}

// TerminateAllTasks marks every still-open interval as ending at now,
// for use when winding a simulation down with tasks still in flight.
func (t *BusyTimeTracer) TerminateAllTasks(now quanta.SimTime) {
	for e := t.intervals.Front(); e != nil; e = e.Next() {
		iv := e.Value.(*taskInterval)
		if !iv.completed {
			iv.completed = true
			iv.end = now
		}
	}
	t.collapse(now)
}

// StartTask implements Tracer.
func (t *BusyTimeTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.Time()
	if t.filter != nil && !t.filter(task) {
		return
	}

	iv := &taskInterval{start: task.StartTime}
	t.inflight[task.ID] = t.intervals.PushBack(iv)
}

// StepTask implements Tracer. Busy time only cares about span endpoints.
func (t *BusyTimeTracer) StepTask(task Task) {}

// EndTask implements Tracer.
func (t *BusyTimeTracer) EndTask(task Task) {
	task.EndTime = t.timeTeller.Time()

	elem, ok := t.inflight[task.ID]
	if !ok {
		return
	}

	iv := elem.Value.(*taskInterval)
	iv.end = task.EndTime
	iv.completed = true
	delete(t.inflight, task.ID)

	t.collapse(task.EndTime)
}

// collapse drains every completed interval at or before now off the
// front of the list, folding overlapping spans into the running total.
func (t *BusyTimeTracer) collapse(now quanta.SimTime) {
	if start, found := t.startOfFirstIncompleteTask(); found && start.Before(now) {
		return
	}

	var finished []*taskInterval
	var next *list.Element
	for e := t.intervals.Front(); e != nil; e = next {
		next = e.Next()

		iv := e.Value.(*taskInterval)
		if !iv.completed {
			break
		}
		if !iv.end.After(now) {
			finished = append(finished, iv)
			t.intervals.Remove(e)
		}
	}

	t.busyTime += t.mergedDuration(finished)
}

func (t *BusyTimeTracer) startOfFirstIncompleteTask() (quanta.SimTime, bool) {
	for e := t.intervals.Front(); e != nil; e = e.Next() {
		iv := e.Value.(*taskInterval)
		if !iv.completed {
			return iv.start, true
		}
	}
	return quanta.SimTime{}, false
}

// mergedDuration sums the simulated-time span covered by intervals, counting
// time covered by more than one interval only once. Rather than the
// teacher's pairwise covered-mask scan, this sorts by start time and
// sweeps once: since intervals are sorted, a new interval either extends
// the span currently being accumulated (its start falls inside or right
// up against it) or starts a fresh one, the standard merge-intervals
// approach.
func (t *BusyTimeTracer) mergedDuration(intervals []*taskInterval) quanta.Duration {
	if len(intervals) == 0 {
		return 0
	}

	sorted := append([]*taskInterval(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].start.Before(sorted[j].start)
	})

	var total quanta.Duration
	spanStart, spanEnd := sorted[0].start, sorted[0].end

	flush := func() {
		d, _ := spanEnd.Sub(spanStart)
		total += d
	}

	for _, iv := range sorted[1:] {
		if iv.start.After(spanEnd) {
			flush()
			spanStart, spanEnd = iv.start, iv.end
			continue
		}
		if iv.end.After(spanEnd) {
			spanEnd = iv.end
		}
	}
	flush()

	return total
}
