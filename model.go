package quanta

// Initer is implemented by models that need to schedule their own
// initial events (e.g. a periodic self-tick) as soon as the simulation
// starts, rather than waiting for an external send. Init runs once, at
// init(t0), before the simulation's first Step.
type Initer interface {
	Init(ctx Context)
}

// Model is anything that can receive scheduled events and handle them
// against a Context. It mirrors the teacher's Handler interface
// (sim/*: Handle(e Event) error) but drops the direct Event coupling in
// favor of the closure-based mailbox, since each model's own handlers
// already close over their arguments.
type Model interface {
	// Name returns the model's registered name, used for addressing,
	// logging, and error reporting.
	Name() string
}

// Context is the capability surface a handler receives while running on
// an executor worker. All scheduling a handler does goes through the
// Context rather than touching the Scheduler or Executor directly, so
// that a model's code can be exercised without wiring up a full
// Simulation (grounded on sim/component.go's Engine/TickEvent
// parameters, generalized to an explicit struct).
type Context interface {
	// Now returns the simulation time at which the current handler is
	// running.
	Now() SimTime

	// Address returns the address of the model the context belongs to.
	Address() Address

	// ScheduleEvent runs deliver at deadline. deliver executes on some
	// executor worker, with a Context whose Now() is deadline.
	ScheduleEvent(deadline SimTime, deliver func(ctx Context)) (ScheduledEvent, error)

	// ScheduleIn runs deliver delay after Now().
	ScheduleIn(delay Duration, deliver func(ctx Context)) (ScheduledEvent, error)

	// SchedulePeriodic runs deliver at first, and then every period
	// thereafter, until the returned handle is canceled.
	SchedulePeriodic(first SimTime, period Duration, deliver func(ctx Context)) (ScheduledEvent, error)

	// Send enqueues a closure on dst's mailbox. Delivery happens
	// concurrently with the caller; Send does not block on the message
	// being handled, only (per the mailbox's bounded capacity) on room
	// being available.
	Send(dst Address, deliver func(ctx Context)) error
}

// modelContext is the concrete Context implementation threaded through a
// running simulation. One modelContext is allocated per (model, dispatch)
// pair rather than reused, keeping it trivially safe to capture in a
// closure that outlives the call that created it (e.g. inside a
// ScheduleEvent callback).
type modelContext struct {
	sim  *Simulation
	addr Address
	now  SimTime
}

func (c *modelContext) Now() SimTime    { return c.now }
func (c *modelContext) Address() Address { return c.addr }

func (c *modelContext) ScheduleEvent(
	deadline SimTime,
	deliver func(ctx Context),
) (ScheduledEvent, error) {
	return c.sim.scheduler.ScheduleAt(c.now, deadline, c.wrap(deliver))
}

func (c *modelContext) ScheduleIn(
	delay Duration,
	deliver func(ctx Context),
) (ScheduledEvent, error) {
	return c.sim.scheduler.ScheduleIn(c.now, delay, c.wrap(deliver))
}

func (c *modelContext) SchedulePeriodic(
	first SimTime,
	period Duration,
	deliver func(ctx Context),
) (ScheduledEvent, error) {
	return c.sim.scheduler.SchedulePeriodic(c.now, first, period, c.wrap(deliver))
}

func (c *modelContext) Send(dst Address, deliver func(ctx Context)) error {
	return c.sim.sendTo(dst, deliver)
}

// wrap adapts a Context-taking callback into the plain func(SimTime)
// shape the Scheduler stores, binding the callback to this model's
// address and its own mailbox when its deadline arrives. Going back
// through the mailbox rather than straight to the executor keeps a
// model's self-scheduled events and its externally-sent ones from ever
// running concurrently with each other.
func (c *modelContext) wrap(deliver func(ctx Context)) func(now SimTime) {
	addr := c.addr
	sim := c.sim
	return func(now SimTime) {
		_ = sim.sendToAt(addr, now, deliver)
	}
}
