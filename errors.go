package quanta

import "fmt"

// Kind enumerates the error kinds defined in the error handling design.
type Kind int

// The error kinds a simulation can surface.
const (
	// KindInvalidDeadline means a caller tried to schedule an action
	// before the current simulation time (a deadline equal to it is legal).
	KindInvalidDeadline Kind = iota

	// KindChannelClosed means a send targeted a mailbox whose model has
	// already been dropped.
	KindChannelClosed

	// KindHalted means the simulation was explicitly stopped, or a prior
	// fatal error poisoned it.
	KindHalted

	// KindTimeout means a step's wall-clock budget was exceeded.
	KindTimeout

	// KindExecutionError means a handler panicked or reported an
	// unrecoverable fault.
	KindExecutionError

	// KindNoRecipient means a query named a handler with no matching
	// registration.
	KindNoRecipient

	// KindCausalityCycle means a same-instant dispatch loop exceeded its
	// configured iteration bound without the scheduler's minimum
	// deadline advancing past the current instant.
	KindCausalityCycle
)

func (k Kind) String() string {
	switch k {
	case KindInvalidDeadline:
		return "InvalidDeadline"
	case KindChannelClosed:
		return "ChannelClosed"
	case KindHalted:
		return "Halted"
	case KindTimeout:
		return "Timeout"
	case KindExecutionError:
		return "ExecutionError"
	case KindNoRecipient:
		return "NoRecipient"
	case KindCausalityCycle:
		return "CausalityCycle"
	default:
		return "Unknown"
	}
}

// Error is the single error type the simulator surfaces. Every user-visible
// failure carries the simulation time it occurred at and, where relevant,
// the offending model's name, per §7 of the error handling design.
type Error struct {
	Kind      Kind
	At        SimTime
	Model     string
	Cause     error
	Detail    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s @ %s", e.Kind, e.At)

	if e.Model != "" {
		msg += fmt.Sprintf(" (model %q)", e.Model)
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}

	return msg
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// InvalidDeadline builds a KindInvalidDeadline error.
func InvalidDeadline(at SimTime, detail string) *Error {
	return &Error{Kind: KindInvalidDeadline, At: at, Detail: detail}
}

// ChannelClosed builds a KindChannelClosed error.
func ChannelClosed(at SimTime, model string) *Error {
	return &Error{Kind: KindChannelClosed, At: at, Model: model}
}

// Halted builds a KindHalted error.
func Halted(at SimTime) *Error {
	return &Error{Kind: KindHalted, At: at}
}

// TimeoutError builds a KindTimeout error.
func TimeoutError(at SimTime) *Error {
	return &Error{Kind: KindTimeout, At: at}
}

// ExecutionError builds a KindExecutionError error, wrapping the panic
// value or fault that caused it.
func ExecutionError(at SimTime, model string, cause error) *Error {
	return &Error{Kind: KindExecutionError, At: at, Model: model, Cause: cause}
}

// NoRecipient builds a KindNoRecipient error.
func NoRecipient(at SimTime, model string) *Error {
	return &Error{Kind: KindNoRecipient, At: at, Model: model}
}

// CausalityCycle builds a KindCausalityCycle error.
func CausalityCycle(at SimTime, iterations int) *Error {
	return &Error{
		Kind:   KindCausalityCycle,
		At:     at,
		Detail: fmt.Sprintf("same-instant dispatch exceeded %d iterations", iterations),
	}
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, quanta.Halted(quanta.Epoch)) style checks that
// ignore the time/model fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}
