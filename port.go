package quanta

import (
	"fmt"
	"sync"
)

// Sink receives values fanned out from an Output port. A Sink must not
// suspend simulation time: its Accept method runs inline on whichever
// executor worker is delivering the value, so it must return promptly
// (buffering internally if it needs to do something slower), matching
// the "sinks never block the clock" contract.
type Sink[T any] interface {
	Accept(now SimTime, v T)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc[T any] func(now SimTime, v T)

// Accept implements Sink.
func (f SinkFunc[T]) Accept(now SimTime, v T) { f(now, v) }

// Output is a fan-out port: a model declares one per distinct kind of
// value it produces, and any number of sinks can be connected to it.
// Connected sinks are notified in the order they were connected
// (declaration-order fan-out), and delivery to each sink happens on the
// emitting goroutine. Output's mutex guards only the sink list: Emit
// takes a snapshot of it under the lock and delivers outside it, so
// concurrent Emit calls on one port are not serialized and may reach a
// sink at the same time.
//
// This generalizes the teacher's Port/Connection split (sim/port.go,
// sim/directconnection.go) from a single point-to-point buffered link
// into a typed, multi-subscriber broadcast port; models that want
// point-to-point semantics simply connect exactly one sink.
type Output[T any] struct {
	mu    sync.Mutex
	name  string
	sinks []Sink[T]
}

// NewOutput creates a named, unconnected Output port.
func NewOutput[T any](name string) *Output[T] {
	return &Output[T]{name: name}
}

// Name returns the port's name.
func (o *Output[T]) Name() string { return o.name }

// Connect attaches sink to the port. Connect is not safe to call
// concurrently with Emit; wire up a model's ports before starting the
// simulation.
func (o *Output[T]) Connect(sink Sink[T]) {
	o.mu.Lock()
	o.sinks = append(o.sinks, sink)
	o.mu.Unlock()
}

// ConnectFunc is a convenience wrapper around Connect for a plain
// function sink.
func (o *Output[T]) ConnectFunc(fn func(now SimTime, v T)) {
	o.Connect(SinkFunc[T](fn))
}

// ConnectPort wires this Output directly to another model's Output,
// letting one model's production feed straight into another's without an
// intermediate sink — useful for building small fixed pipelines out of
// the same Output type. The target simply re-emits whatever it receives.
func (o *Output[T]) ConnectPort(dst *Output[T]) {
	o.Connect(SinkFunc[T](func(now SimTime, v T) {
		dst.Emit(now, v)
	}))
}

// ConnectAddress wires this Output directly to a peer model's address:
// each emitted value is delivered through the peer's own mailbox via
// handle, so the peer's handler runs under its usual single-consumer
// serialization rather than inline on the emitter's goroutine. This is
// the generic form of the external interface's
// "connect(handler_fn, &address)".
func (o *Output[T]) ConnectAddress(handle SchedulerHandle, addr Address, handler func(ctx Context, v T)) {
	o.ConnectFunc(func(now SimTime, v T) {
		_ = handle.Send(addr, func(ctx Context) {
			handler(ctx, v)
		})
	})
}

// ConnectMap wires o to dst, translating each emitted value through fn
// first. It is a free function rather than a method, since Go methods
// cannot introduce the extra type parameter the translated value needs;
// grounded on ports.rs's map_connect.
func ConnectMap[T, U any](o *Output[T], dst Sink[U], fn func(T) U) {
	o.Connect(SinkFunc[T](func(now SimTime, v T) {
		dst.Accept(now, fn(v))
	}))
}

// ConnectFilterMap is ConnectMap's filtering counterpart: fn additionally
// reports whether the translated value should be delivered at all,
// grounded on ports.rs's filter_map_connect, whose own doc example is a
// data-bus model selectively forwarding to the peripherals addressed by
// each message.
func ConnectFilterMap[T, U any](o *Output[T], dst Sink[U], fn func(T) (U, bool)) {
	o.Connect(SinkFunc[T](func(now SimTime, v T) {
		if u, ok := fn(v); ok {
			dst.Accept(now, u)
		}
	}))
}

// Emit delivers v to every connected sink, in connection order.
func (o *Output[T]) Emit(now SimTime, v T) {
	o.mu.Lock()
	sinks := o.sinks
	o.mu.Unlock()

	for _, s := range sinks {
		s.Accept(now, v)
	}
}

// NumSinks reports how many sinks are connected.
func (o *Output[T]) NumSinks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sinks)
}

// CollectingSink is an in-memory Sink that records every value it
// receives along with the time it arrived, for use in tests and in the
// CLI's "run" command, which collects its scenarios' outputs in one
// whether or not a tracing backend is configured.
type CollectingSink[T any] struct {
	mu      sync.Mutex
	records []Record[T]
}

// Record pairs a delivered value with its arrival time.
type Record[T any] struct {
	At    SimTime
	Value T
}

// NewCollectingSink creates an empty CollectingSink.
func NewCollectingSink[T any]() *CollectingSink[T] {
	return &CollectingSink[T]{}
}

// Accept implements Sink.
func (s *CollectingSink[T]) Accept(now SimTime, v T) {
	s.mu.Lock()
	s.records = append(s.records, Record[T]{At: now, Value: v})
	s.mu.Unlock()
}

// Records returns a snapshot of everything collected so far, in arrival
// order.
func (s *CollectingSink[T]) Records() []Record[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record[T], len(s.records))
	copy(out, s.records)
	return out
}

// LatestSink is a Sink that keeps only the most recently accepted value,
// overwriting on each new one, grounded on ports.rs's EventSlot — the
// exit point for code that only cares about a model's current output,
// not its whole history the way CollectingSink does.
type LatestSink[T any] struct {
	mu  sync.Mutex
	at  SimTime
	v   T
	set bool
}

// NewLatestSink creates an empty LatestSink.
func NewLatestSink[T any]() *LatestSink[T] {
	return &LatestSink[T]{}
}

// Accept implements Sink.
func (s *LatestSink[T]) Accept(now SimTime, v T) {
	s.mu.Lock()
	s.at, s.v, s.set = now, v, true
	s.mu.Unlock()
}

// Latest returns the most recently accepted value and the time it
// arrived. ok is false if nothing has arrived yet.
func (s *LatestSink[T]) Latest() (v T, at SimTime, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, s.at, s.set
}

// AskAddress sends q to addr and blocks for ask's reply, the way
// Context.Send delivers a fire-and-forget closure except that this one
// waits. It is the model-to-model counterpart of the top-level
// ProcessQuery: ProcessQuery is called from outside any model (the
// controller, a test, the CLI); AskAddress is called from inside a
// handler already running against its own Context. It is a free
// function for the same reason ProcessQuery is: Go methods cannot carry
// their own type parameters.
func AskAddress[Q, R any](c Context, addr Address, q Q, ask func(ctx Context, q Q) R) (R, error) {
	var zero R
	replyCh := make(chan R, 1)

	err := c.Send(addr, func(ctx Context) {
		defer func() {
			if r := recover(); r != nil {
				replyCh <- zero
				panic(r)
			}
		}()
		replyCh <- ask(ctx, q)
	})
	if err != nil {
		return zero, err
	}

	return <-replyCh, nil
}

// requestorReplier is one peer a Requestor port has been connected to.
type requestorReplier[Q, R any] struct {
	addr Address
	ask  func(ctx Context, q Q) R
}

// Requestor is a model-to-model query port: a model declares one per
// distinct query it wants to put to its peers, connects it to any number
// of repliers by address, and calling Ask from its own handler delivers
// the query to every connected replier in turn and collects their
// replies, grounded on ports.rs's Requestor ("returns an iterator of as
// many replies as there are connected repliers").
type Requestor[Q, R any] struct {
	mu       sync.Mutex
	name     string
	repliers []requestorReplier[Q, R]
}

// NewRequestor creates a named, unconnected Requestor port.
func NewRequestor[Q, R any](name string) *Requestor[Q, R] {
	return &Requestor[Q, R]{name: name}
}

// Name returns the port's name.
func (r *Requestor[Q, R]) Name() string { return r.name }

// Connect registers addr as a replier: ask runs against addr's own
// mailbox and Context whenever Ask is called. Connect is not safe to
// call concurrently with Ask; wire a model's ports before starting the
// simulation.
func (r *Requestor[Q, R]) Connect(addr Address, ask func(ctx Context, q Q) R) {
	r.mu.Lock()
	r.repliers = append(r.repliers, requestorReplier[Q, R]{addr: addr, ask: ask})
	r.mu.Unlock()
}

// Ask sends q to every connected replier and blocks until each has
// replied in turn, returning their replies in connection order. A
// replier that errors (its model was removed, say) is skipped rather
// than failing the whole call, since the others may still be reachable.
func (r *Requestor[Q, R]) Ask(ctx Context, q Q) []R {
	r.mu.Lock()
	repliers := append([]requestorReplier[Q, R](nil), r.repliers...)
	r.mu.Unlock()

	replies := make([]R, 0, len(repliers))
	for _, rep := range repliers {
		if v, err := AskAddress(ctx, rep.addr, q, rep.ask); err == nil {
			replies = append(replies, v)
		}
	}

	return replies
}

// UniRequestor is Requestor's singly-connected variant: Connect accepts
// exactly one replier, and Ask returns its one reply directly instead of
// a slice, grounded on ports.rs's UniRequestor.
type UniRequestor[Q, R any] struct {
	mu   sync.Mutex
	name string
	addr Address
	ask  func(ctx Context, q Q) R
	set  bool
}

// NewUniRequestor creates a named, unconnected UniRequestor port.
func NewUniRequestor[Q, R any](name string) *UniRequestor[Q, R] {
	return &UniRequestor[Q, R]{name: name}
}

// Name returns the port's name.
func (r *UniRequestor[Q, R]) Name() string { return r.name }

// Connect wires addr as the port's one replier. Connecting a second time
// panics, matching AddModel's treatment of a build-time wiring mistake.
func (r *UniRequestor[Q, R]) Connect(addr Address, ask func(ctx Context, q Q) R) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.set {
		panic(fmt.Sprintf("quanta: UniRequestor %q already connected", r.name))
	}

	r.addr, r.ask, r.set = addr, ask, true
}

// Ask sends q to the connected replier and blocks for its reply. It
// reports KindNoRecipient if nothing has been connected yet.
func (r *UniRequestor[Q, R]) Ask(ctx Context, q Q) (R, error) {
	r.mu.Lock()
	addr, ask, set := r.addr, r.ask, r.set
	r.mu.Unlock()

	if !set {
		var zero R
		return zero, NoRecipient(ctx.Now(), r.name)
	}

	return AskAddress(ctx, addr, q, ask)
}
