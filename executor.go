package quanta

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Executor is the work-stealing dispatcher that drains model mailboxes.
// Each worker owns a local LIFO deque, and a shared FIFO injector queue
// is open to every idle worker. Submit and the mailbox drain loops
// (submitReserved) always push onto the injector; a worker's deque is
// filled only through submitLocal, which no submission path calls, so
// local pops and steals find work only when something pushes there
// directly. The local deques are unbounded; nothing overflows from them
// into the injector.
//
// A worker never runs a task's closure itself — it hands the closure to
// its own freshly spawned goroutine and immediately goes back to fetching
// the next one (see worker.run). A handler that suspends, whether on
// Context.Send to a full mailbox or on some internal block of its own,
// therefore only ever parks the goroutine running that one task, never a
// worker that other pending work is waiting on. The teacher's own
// ParallelEngine (sim/parallelengine.go) reaches for the same escape
// valve in its (commented-out) runEventWithTempWorker, one goroutine per
// event specifically to avoid a fixed pool going fully blocked; this
// Executor generalizes that into the steady-state dispatch path instead
// of an exceptional one, and folds the teacher's nowLock/now bookkeeping
// into a dedicated quiescence barrier.
type Executor struct {
	HookableBase

	workers  []*worker
	injector *injectorQueue

	pauseMu sync.Mutex

	active   atomic.Int64 // tasks currently running or queued anywhere
	stopping atomic.Bool

	onPanic func(err error)

	wake chan struct{} // buffered 1; pulses idle workers awake

	quiesced chan struct{} // closed and replaced each time active hits 0
	quMu     sync.Mutex
}

// worker is one executor goroutine with its own local LIFO deque.
type worker struct {
	id   int
	exe  *Executor
	mu   sync.Mutex
	deq  []task
	rng  *rand.Rand
	done chan struct{}
}

// injectorQueue is the shared FIFO that work lands in when it doesn't
// originate from inside a worker.
type injectorQueue struct {
	mu  sync.Mutex
	buf []task
}

func (q *injectorQueue) push(t task) {
	q.mu.Lock()
	q.buf = append(q.buf, t)
	q.mu.Unlock()
}

func (q *injectorQueue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) == 0 {
		return nil, false
	}

	t := q.buf[0]
	q.buf = q.buf[1:]

	return t, true
}

// DefaultWorkerCount reports the number of physical cores gopsutil can
// detect, falling back to runtime.GOMAXPROCS(0) if the probe fails (e.g.
// inside a container without /proc/cpuinfo). It is a sizing helper for
// callers that want one worker per physical core and pass the result to
// SetWorkers or NewExecutor; NewExecutor itself does not consult it.
func DefaultWorkerCount() int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// NewExecutor creates an Executor with numWorkers goroutines. A
// non-positive numWorkers defaults to runtime.GOMAXPROCS(0), the
// available parallelism, mirroring the teacher's ParallelEngine sizing
// its queue pool off the host's CPU count.
func NewExecutor(numWorkers int, onPanic func(err error)) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	e := &Executor{
		injector: &injectorQueue{},
		onPanic:  onPanic,
		wake:     make(chan struct{}, 1),
		quiesced: make(chan struct{}),
	}
	close(e.quiesced) // starts quiescent: no tasks submitted yet

	e.workers = make([]*worker, numWorkers)
	for i := range e.workers {
		e.workers[i] = &worker{
			id:   i,
			exe:  e,
			rng:  rand.New(rand.NewSource(int64(i) + 1)),
			done: make(chan struct{}),
		}
	}

	for _, w := range e.workers {
		go w.run()
	}

	return e
}

// Submit enqueues t on the shared injector and wakes a worker. Submit is
// the entry point used by the controller and by mailbox delivery code
// running outside any worker goroutine.
func (e *Executor) Submit(t task) {
	e.beforeSubmit()
	e.injector.push(t)
	e.pulse()
}

// submitReserved enqueues t without incrementing the quiescence counter,
// for work whose slot was already reserved earlier (via beforeSubmit) —
// used when a mailbox hands off a closure it accepted before the
// executor ever saw it, so quiescence isn't declared while the closure
// is merely sitting in the mailbox buffer.
func (e *Executor) submitReserved(t task) {
	e.injector.push(t)
	e.pulse()
}

// submitLocal is used by a worker to push continuation work onto its own
// deque without going through the injector.
func (w *worker) submitLocal(t task) {
	w.exe.beforeSubmit()
	w.mu.Lock()
	w.deq = append(w.deq, t)
	w.mu.Unlock()
	w.exe.pulse()
}

func (e *Executor) beforeSubmit() {
	if e.active.Add(1) == 1 {
		e.quMu.Lock()
		e.quiesced = make(chan struct{})
		e.quMu.Unlock()
	}
}

func (e *Executor) afterComplete() {
	if e.active.Add(-1) == 0 {
		e.quMu.Lock()
		close(e.quiesced)
		e.quMu.Unlock()

		if e.NumHooks() > 0 {
			e.InvokeHook(HookCtx{Pos: HookPosQuiescent})
		}
	}
}

// pulse wakes at most one idle worker. Workers otherwise park on wake
// when they find no local, injector, or steal-able work.
func (e *Executor) pulse() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// WaitQuiescent blocks until the executor has no running or queued work.
// Quiescence is detected by a simple atomic counter that is incremented
// on every submission and decremented on every completion; reaching zero
// publishes (by closing) a channel that WaitQuiescent waits on, with a
// double-check after wake to guard against a task being submitted in the
// gap between the count reaching zero and the channel close becoming
// visible.
func (e *Executor) WaitQuiescent() {
	for {
		e.quMu.Lock()
		ch := e.quiesced
		e.quMu.Unlock()

		<-ch

		if e.active.Load() == 0 {
			return
		}
	}
}

// WaitQuiescentTimeout behaves like WaitQuiescent but gives up once d has
// elapsed without the executor reaching quiescence, reporting false in
// that case. A non-positive d means no bound: it behaves exactly like
// WaitQuiescent and always reports true.
func (e *Executor) WaitQuiescentTimeout(d time.Duration) bool {
	if d <= 0 {
		e.WaitQuiescent()
		return true
	}

	deadline := time.NewTimer(d)
	defer deadline.Stop()

	for {
		e.quMu.Lock()
		ch := e.quiesced
		e.quMu.Unlock()

		select {
		case <-ch:
			if e.active.Load() == 0 {
				return true
			}
		case <-deadline.C:
			return false
		}
	}
}

// Stop signals every worker to exit at its next check and waits for the
// workers to do so. Tasks already handed to their own goroutines (see
// spawn) are not waited for, and Stop does not drain pending work; call
// WaitQuiescent first if that matters.
func (e *Executor) Stop() {
	if !e.stopping.CompareAndSwap(false, true) {
		return
	}

	for range e.workers {
		e.pulse()
	}

	for _, w := range e.workers {
		<-w.done
	}
}

func (w *worker) run() {
	defer close(w.done)

	for {
		if w.exe.stopping.Load() {
			return
		}

		t, ok := w.nextTask()
		if !ok {
			w.park()
			continue
		}

		w.exe.spawn(t)
	}
}

// nextTask looks, in order, at the worker's own deque (LIFO), the shared
// injector (FIFO), and finally another worker's deque chosen at random
// (steal from the opposite end, FIFO-wise, to minimize contention with
// the victim's own LIFO pop).
func (w *worker) nextTask() (task, bool) {
	w.mu.Lock()
	if n := len(w.deq); n > 0 {
		t := w.deq[n-1]
		w.deq = w.deq[:n-1]
		w.mu.Unlock()
		return t, true
	}
	w.mu.Unlock()

	if t, ok := w.exe.injector.pop(); ok {
		return t, true
	}

	return w.steal()
}

func (w *worker) steal() (task, bool) {
	n := len(w.exe.workers)
	if n <= 1 {
		return nil, false
	}

	start := w.rng.Intn(n)
	for i := 0; i < n; i++ {
		victim := w.exe.workers[(start+i)%n]
		if victim == w {
			continue
		}

		victim.mu.Lock()
		if len(victim.deq) > 0 {
			t := victim.deq[0]
			victim.deq = victim.deq[1:]
			victim.mu.Unlock()
			return t, true
		}
		victim.mu.Unlock()
	}

	return nil, false
}

func (w *worker) park() {
	select {
	case <-w.exe.wake:
	default:
		<-w.exe.wake
	}
}

// spawn runs t to completion on a goroutine of its own. Dispatch (picking
// t off a deque, the injector, or a steal) stays on the worker; execution
// never does, so a task that suspends partway through never holds up the
// worker that found it.
func (e *Executor) spawn(t task) {
	go func() {
		defer e.afterComplete()

		defer func() {
			if r := recover(); r != nil {
				if e.onPanic != nil {
					e.onPanic(panicToError(r))
				}
			}
		}()

		t()
	}()
}

func panicToError(r interface{}) error {
	return ExecutionError(Epoch, "", valueToError(r))
}

// valueToError turns a recovered panic value into a plain error, for
// wrapping as the Cause of an ExecutionError.
func valueToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}

	return fmt.Errorf("panic: %v", r)
}
