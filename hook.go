package quanta

import (
	"log"
	"sync"
)

// HookPos names a site in the simulator where a Hook may be invoked.
type HookPos struct {
	Name string
}

// Defined hook positions. Components elsewhere in the repository (the
// tracing package, the CLI) attach hooks at these positions rather than
// reaching into scheduler or executor internals.
var (
	HookPosBeforeDispatch = &HookPos{Name: "BeforeDispatch"}
	HookPosAfterDispatch  = &HookPos{Name: "AfterDispatch"}
	HookPosMailboxSend    = &HookPos{Name: "MailboxSend"}
	HookPosMailboxRecv    = &HookPos{Name: "MailboxRecv"}
	HookPosQuiescent      = &HookPos{Name: "Quiescent"}
)

// HookCtx carries the information about the site a hook fired at.
type HookCtx struct {
	Pos   *HookPos
	Now   SimTime
	Model string
	Item  interface{}
}

// Hook is invoked by a Hookable at one of its defined positions.
type Hook interface {
	Func(ctx HookCtx)
}

// Hookable accepts Hooks.
type Hookable interface {
	AcceptHook(hook Hook)
}

// HookableBase implements Hookable and provides InvokeHook for embedders,
// grounded on the teacher's HookableBase (sim/hook.go).
type HookableBase struct {
	mu    sync.RWMutex
	hooks []Hook
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mu.Lock()
	h.hooks = append(h.hooks, hook)
	h.mu.Unlock()
}

// NumHooks returns the number of registered hooks, letting callers skip
// building a HookCtx entirely on the (common) hot path with no observers.
func (h *HookableBase) NumHooks() int {
	h.mu.RLock()
	n := len(h.hooks)
	h.mu.RUnlock()
	return n
}

// InvokeHook calls every registered hook with ctx, in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	h.mu.RLock()
	hooks := h.hooks
	h.mu.RUnlock()

	for _, hk := range hooks {
		hk.Func(ctx)
	}
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func implements Hook.
func (f HookFunc) Func(ctx HookCtx) { f(ctx) }

// EventLogger prints one line per dispatched closure, grounded on the
// teacher's sim/eventlogger.go. Accept it on a Simulation via its
// AcceptHook, at HookPosBeforeDispatch.
type EventLogger struct {
	Logger *log.Logger
}

// NewEventLogger creates an EventLogger writing through logger.
func NewEventLogger(logger *log.Logger) *EventLogger {
	return &EventLogger{Logger: logger}
}

// Func implements Hook.
func (h *EventLogger) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeDispatch {
		return
	}

	h.Logger.Printf("%s %s", ctx.Now, ctx.Model)
}
