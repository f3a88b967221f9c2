package quanta

import (
	"fmt"
	"sync"
	"time"
)

// registeredModel pairs a Model with the mailbox its address resolves
// to. The name it was registered under is the key it is stored under.
type registeredModel struct {
	model   Model
	mailbox *Mailbox
}

// SimInit is the builder used to assemble a Simulation before it starts
// running, grounded on the teacher's own builder idiom (e.g.
// sim/simulation.go's Builder, cmd/component.go's construction helpers).
// Every model, tunable, and timeout is registered here; once Init is
// called the configuration is frozen into a Simulation.
type SimInit struct {
	models       map[string]*registeredModel
	order        []string
	mailboxCap   int
	idGen        IDGenerator
	timeout      Duration
	hasTimeout   bool
	maxSameSlice int
	numWorkers   int
	onPanic      func(err error)
}

// NewSimInit creates an empty builder. Mailbox capacity defaults to 256
// pending closures per model, matching the teacher's own default buffer
// sizing order of magnitude (sim/buffer.go callers commonly use small
// fixed capacities, not unbounded queues).
func NewSimInit() *SimInit {
	return &SimInit{
		models:       make(map[string]*registeredModel),
		mailboxCap:   256,
		idGen:        NewSequentialIDGenerator(),
		maxSameSlice: 10000,
	}
}

// AddModel registers model under name. Name collisions panic at build
// time rather than surfacing as a runtime Error, since they indicate a
// programming mistake in the bench assembly rather than a simulated
// fault.
func (b *SimInit) AddModel(name string, model Model) Address {
	if _, exists := b.models[name]; exists {
		panic(fmt.Sprintf("quanta: model %q already registered", name))
	}

	rm := &registeredModel{
		model:   model,
		mailbox: NewMailbox(b.mailboxCap),
	}
	b.models[name] = rm
	b.order = append(b.order, name)

	return Address{name: name}
}

// SetMailboxCapacity overrides the default per-model mailbox capacity. It
// only affects models registered after the call.
func (b *SimInit) SetMailboxCapacity(n int) *SimInit {
	b.mailboxCap = n
	return b
}

// SetTimeout bounds each Step's wall-clock budget. Exceeding it surfaces
// a KindTimeout Error from the Step call in progress.
func (b *SimInit) SetTimeout(d Duration) *SimInit {
	b.timeout = d
	b.hasTimeout = true
	return b
}

// SetMaxSameInstantIterations bounds how many times the controller will
// loop dispatching newly-scheduled same-instant work before concluding a
// causality cycle has formed and surfacing KindCausalityCycle.
func (b *SimInit) SetMaxSameInstantIterations(n int) *SimInit {
	b.maxSameSlice = n
	return b
}

// SetWorkers overrides the executor's worker count. A non-positive value
// (the default) lets the executor pick GOMAXPROCS(0).
func (b *SimInit) SetWorkers(n int) *SimInit {
	b.numWorkers = n
	return b
}

// SetIDGenerator overrides the default sequential IDGenerator.
func (b *SimInit) SetIDGenerator(g IDGenerator) *SimInit {
	b.idGen = g
	return b
}

// Init freezes the builder into a runnable Simulation starting at t0.
func (b *SimInit) Init(t0 SimTime) *Simulation {
	sim := &Simulation{
		now:       t0,
		scheduler: NewScheduler(),
		models:    b.models,
		order:     append([]string(nil), b.order...),
		idGen:     b.idGen,
		timeout:   b.timeout,
		hasTimeout: b.hasTimeout,
		maxSlice:  b.maxSameSlice,
	}

	sim.executor = NewExecutor(b.numWorkers, sim.onWorkerPanic)

	for _, rm := range sim.models {
		go sim.drainMailbox(rm)
	}

	for name, rm := range sim.models {
		if initer, ok := rm.model.(Initer); ok {
			initer.Init(&modelContext{sim: sim, addr: Address{name: name}, now: t0})
		}
	}
	sim.executor.WaitQuiescent()

	return sim
}

// drainMailbox is the single-consumer loop behind one model's mailbox: it
// pulls closures off in arrival order and hands each to the executor
// pool for actual execution, waiting for one to finish before dequeuing
// the next. That wait is what keeps the at-most-one-handler-per-model
// invariant true even though execution itself happens on a shared
// worker pool rather than a dedicated per-model thread: two closures for
// the same mailbox never run concurrently, only closures for distinct
// mailboxes do. The loop returns once the mailbox is closed and empty.
func (s *Simulation) drainMailbox(rm *registeredModel) {
	for {
		t, ok := rm.mailbox.Recv()
		if !ok {
			return
		}

		if s.NumHooks() > 0 {
			s.InvokeHook(HookCtx{Pos: HookPosMailboxRecv, Now: s.Time(), Model: rm.model.Name()})
		}

		done := make(chan struct{})
		s.executor.submitReserved(func() {
			defer close(done)
			t()
		})
		<-done
	}
}

// Shutdown closes every model's mailbox, letting their drain loops exit,
// and stops the executor pool. Call it once a Simulation is no longer
// needed; it does not wait for in-flight work to finish first.
func (s *Simulation) Shutdown() {
	for _, rm := range s.models {
		rm.mailbox.Close()
	}
	s.executor.Stop()
}

// Simulation is the running controller: the owner of simulation time, the
// scheduler, and the executor pool. It exposes the process/step
// operations a driver (a test, the CLI, or an embedding program) uses to
// advance the clock, plus a SchedulerHandle for injecting work from
// outside the step loop.
type Simulation struct {
	HookableBase

	mu sync.Mutex

	now        SimTime
	scheduler  *Scheduler
	executor   *Executor
	models     map[string]*registeredModel
	order      []string
	idGen      IDGenerator
	timeout    Duration
	hasTimeout bool
	maxSlice   int

	halted    bool
	haltErr   error
}

// Time returns the simulation's current time. It is safe to call
// concurrently with a running Step.
func (s *Simulation) Time() SimTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// NextID mints a fresh identifier from the configured IDGenerator. Call
// sites that need to tag something with an ID not already supplied by
// the domain (a trace span, a correlation token) use this instead of
// rolling their own counter, so SetIDGenerator governs every ID minted
// during a run rather than only influencing an unused field.
func (s *Simulation) NextID() string {
	return s.idGen.Generate()
}

// Halt stops the simulation. Any Step call in progress finishes its
// current same-instant slice and then returns KindHalted; every
// subsequent call returns KindHalted immediately.
func (s *Simulation) Halt() {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
}

// Halted reports whether the simulation has stopped, and the error that
// caused it to stop, if any (a nil error with Halted()==true means Halt
// was called explicitly rather than a fault poisoning the run).
func (s *Simulation) Halted() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted, s.haltErr
}

func (s *Simulation) onWorkerPanic(err error) {
	s.mu.Lock()
	s.halted = true
	if s.haltErr == nil {
		s.haltErr = err
	}
	s.mu.Unlock()
}

// sendTo delivers deliver onto dst's mailbox "now" (the simulation time
// at the moment of the call), submitting it immediately since mailbox
// delivery is not itself time-ordered — the scheduler only orders when a
// callback becomes eligible to run, and a direct Send is eligible right
// away.
func (s *Simulation) sendTo(dst Address, deliver func(ctx Context)) error {
	return s.sendToAt(dst, s.Time(), deliver)
}

// sendToAt delivers deliver onto dst's mailbox, stamping the resulting
// Context with an explicit now rather than reading s.Time() at execution
// time. Scheduled dispatch needs this: by the time a mailbox-buffered
// closure actually runs, the controller's clock may already have moved
// past the deadline the closure was scheduled for.
func (s *Simulation) sendToAt(dst Address, now SimTime, deliver func(ctx Context)) error {
	s.mu.Lock()
	rm, ok := s.models[dst.name]
	s.mu.Unlock()

	if !ok {
		return NoRecipient(now, dst.name)
	}

	// Reserve a quiescence slot before the closure even reaches the
	// mailbox buffer, so WaitQuiescent can't fire while a message is
	// merely queued for a model's drain loop to pick up.
	s.executor.beforeSubmit()

	if s.NumHooks() > 0 {
		s.InvokeHook(HookCtx{Pos: HookPosMailboxSend, Now: now, Model: dst.name})
	}

	err := rm.mailbox.Send(func() {
		defer func() {
			if r := recover(); r != nil {
				s.reportModelPanic(now, dst.name, r)
			}
		}()

		if s.NumHooks() > 0 {
			s.InvokeHook(HookCtx{Pos: HookPosBeforeDispatch, Now: now, Model: dst.name})
		}
		deliver(&modelContext{sim: s, addr: dst, now: now})
		if s.NumHooks() > 0 {
			s.InvokeHook(HookCtx{Pos: HookPosAfterDispatch, Now: now, Model: dst.name})
		}
	})
	if err != nil {
		s.executor.afterComplete()
		return err
	}

	return nil
}

// reportModelPanic poisons the simulation with an ExecutionError
// attributing the fault to model, per §7: "unrecoverable errors abort
// the current step and surface at the controller... After a fatal error
// the simulator is poisoned."
func (s *Simulation) reportModelPanic(now SimTime, model string, r interface{}) {
	err := ExecutionError(now, model, valueToError(r))

	s.mu.Lock()
	s.halted = true
	if s.haltErr == nil {
		s.haltErr = err
	}
	s.mu.Unlock()
}

// ProcessEvent synchronously injects deliver onto addr's mailbox "now"
// and runs the simulation to quiescence before returning, per §4.E's
// process_event.
func (s *Simulation) ProcessEvent(addr Address, deliver func(ctx Context)) error {
	done := make(chan struct{})

	err := s.sendTo(addr, func(ctx Context) {
		// defer, not a plain trailing call: if deliver panics, sendTo's
		// own recover still needs to see the panic (to poison the
		// simulation and attribute it to addr), but done must close
		// either way or the wait below hangs forever.
		defer close(done)
		deliver(ctx)
	})
	if err != nil {
		return err
	}

	<-done
	s.executor.WaitQuiescent()

	if halted, herr := s.Halted(); halted {
		if herr != nil {
			return herr
		}
		return Halted(s.Time())
	}

	return nil
}

// ProcessQuery synchronously injects ask onto addr's mailbox "now",
// waits for its reply, and runs the simulation to quiescence before
// returning, per §4.E's process_query. It is a free function rather
// than a method because Go methods cannot carry their own type
// parameters.
func ProcessQuery[R any](s *Simulation, addr Address, ask func(ctx Context) R) (R, error) {
	var zero R

	replyCh := make(chan R, 1)

	err := s.sendTo(addr, func(ctx Context) {
		defer func() {
			if r := recover(); r != nil {
				replyCh <- zero
				panic(r)
			}
		}()
		replyCh <- ask(ctx)
	})
	if err != nil {
		return zero, err
	}

	reply := <-replyCh
	s.executor.WaitQuiescent()

	if halted, herr := s.Halted(); halted {
		if herr != nil {
			return zero, herr
		}
		return zero, Halted(s.Time())
	}

	return reply, nil
}

// Step advances the simulation by dispatching every action due at or
// before the scheduler's next deadline, running the executor to
// quiescence between same-instant passes until no new same-instant work
// appears. It returns the time the simulation reached, which is either
// the dispatched deadline or the time it was already at if nothing was
// pending. Once the simulation has halted, whether by Halt or by a fatal
// error, Step returns a KindHalted Error whose Cause is that fatal error
// (nil after an explicit Halt).
func (s *Simulation) Step() (SimTime, error) {
	s.mu.Lock()
	if s.halted {
		now := s.now
		cause := s.haltErr
		s.mu.Unlock()
		return now, &Error{Kind: KindHalted, At: now, Cause: cause}
	}
	s.mu.Unlock()

	deadline, ok := s.scheduler.PeekNextDeadline()
	if !ok {
		return s.Time(), nil
	}

	return s.advanceTo(deadline)
}

// StepUntil repeatedly steps until the simulation's time reaches or
// passes target, or the simulation halts.
func (s *Simulation) StepUntil(target SimTime) (SimTime, error) {
	for {
		now := s.Time()
		if !now.Before(target) {
			return now, nil
		}

		if halted, cause := s.Halted(); halted {
			return now, &Error{Kind: KindHalted, At: now, Cause: cause}
		}

		next, ok := s.scheduler.PeekNextDeadline()
		if !ok || next.After(target) {
			s.mu.Lock()
			s.now = target
			s.mu.Unlock()
			return target, nil
		}

		if _, err := s.advanceTo(next); err != nil {
			return s.Time(), err
		}
	}
}

// StepBy advances the simulation by exactly delta, dispatching everything
// due along the way.
func (s *Simulation) StepBy(delta Duration) (SimTime, error) {
	target, overflowed := s.Time().Add(delta)
	if overflowed {
		return s.Time(), InvalidDeadline(s.Time(), "step overshoots representable SimTime range")
	}

	return s.StepUntil(target)
}

// advanceTo dispatches everything due at or before deadline, looping
// while newly-scheduled work keeps landing at the same instant, up to the
// configured iteration bound. If a timeout was set on the builder, each
// same-instant pass's wait for quiescence is bounded by it; exceeding it
// poisons the simulation with a KindTimeout Error and returns immediately,
// leaving whatever work was already in flight to finish on its own.
func (s *Simulation) advanceTo(deadline SimTime) (SimTime, error) {
	iterations := 0

	for {
		dispatchedAny := false

		s.scheduler.DispatchUpTo(deadline, func(firedAt SimTime, e *entry) {
			if e.canceled.Load() {
				return
			}
			dispatchedAny = true
			e.act.deliver(firedAt)
		})

		s.mu.Lock()
		s.now = deadline
		s.mu.Unlock()

		if s.hasTimeout {
			if !s.executor.WaitQuiescentTimeout(time.Duration(s.timeout)) {
				err := TimeoutError(deadline)
				s.mu.Lock()
				s.halted = true
				if s.haltErr == nil {
					s.haltErr = err
				}
				s.mu.Unlock()
				return deadline, err
			}
		} else {
			s.executor.WaitQuiescent()
		}

		if halted, err := s.Halted(); halted {
			if err != nil {
				return deadline, err
			}
			return deadline, Halted(deadline)
		}

		next, ok := s.scheduler.PeekNextDeadline()
		if !ok || next.After(deadline) {
			return deadline, nil
		}

		if !dispatchedAny {
			return deadline, nil
		}

		iterations++
		if iterations >= s.maxSlice {
			err := CausalityCycle(deadline, iterations)
			s.mu.Lock()
			s.halted = true
			s.haltErr = err
			s.mu.Unlock()
			return deadline, err
		}
	}
}

// SchedulerHandle lets code running outside the step loop — a test
// harness, a CLI command, another goroutine entirely — inject scheduled
// work into a running Simulation. Every call is serialized through the
// Scheduler's own mutex, so concurrent external injection is safe.
type SchedulerHandle struct {
	sim *Simulation
}

// Handle returns a SchedulerHandle bound to s.
func (s *Simulation) Handle() SchedulerHandle {
	return SchedulerHandle{sim: s}
}

// ScheduleAt injects deliver to run against addr's mailbox at deadline,
// exactly as if addr's own Context had called ScheduleEvent. Routing
// through the mailbox (rather than handing deliver to the executor
// directly) keeps external injection from violating the
// at-most-one-handler-per-model invariant when it targets a model that
// also schedules its own events.
func (h SchedulerHandle) ScheduleAt(deadline SimTime, addr Address, deliver func(ctx Context)) (ScheduledEvent, error) {
	now := h.sim.Time()
	return h.sim.scheduler.ScheduleAt(now, deadline, func(t SimTime) {
		_ = h.sim.sendToAt(addr, t, deliver)
	})
}

// Send injects a direct mailbox delivery to dst, as if called from
// outside any model's handler.
func (h SchedulerHandle) Send(dst Address, deliver func(ctx Context)) error {
	return h.sim.sendTo(dst, deliver)
}
