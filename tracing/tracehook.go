package tracing

import (
	"fmt"
	"reflect"

	"github.com/quantasim/quanta"
)

// NamedHookable is anything a tracer can attach to: a model that also
// accepts hooks, grounded on the teacher's own NamedHookable (tracing
// only ever attaches to components that embed HookableBase, never to a
// bare Model).
type NamedHookable interface {
	quanta.Model
	quanta.Hookable
	NumHooks() int
	InvokeHook(quanta.HookCtx)
}

// Hook positions a task's lifecycle fires at.
var (
	HookPosTaskStart = &quanta.HookPos{Name: "HookPosTaskStart"}
	HookPosTaskStep  = &quanta.HookPos{Name: "HookPosTaskStep"}
	HookPosTaskEnd   = &quanta.HookPos{Name: "HookPosTaskEnd"}
)

// CollectTrace attaches tracer to domain as a hook. It makes no duplicate
// check: attaching the same tracer twice registers two hooks, and the
// tracer then receives every task event twice.
func CollectTrace(domain NamedHookable, tracer Tracer) {
	h := &traceHook{t: tracer}
	domain.AcceptHook(h)
}

type traceHook struct {
	t Tracer
}

func (h *traceHook) Func(ctx quanta.HookCtx) {
	switch ctx.Pos {
	case HookPosTaskStart:
		h.t.StartTask(ctx.Item.(Task))
	case HookPosTaskStep:
		h.t.StepTask(ctx.Item.(Task))
	case HookPosTaskEnd:
		h.t.EndTask(ctx.Item.(Task))
	}
}

func mustHaveTaskFields(id, kind, what string) {
	if id == "" {
		panic("tracing: task id must not be empty")
	}
	if kind == "" {
		panic("tracing: task kind must not be empty")
	}
	if what == "" {
		panic("tracing: task what must not be empty")
	}
}

// StartTask notifies domain's hooks about the start of a task. It is a
// no-op if domain has no hooks attached, so call sites can leave
// tracing calls in place unconditionally.
func StartTask(id, parentID string, domain NamedHookable, kind, what string, detail interface{}) {
	if domain.NumHooks() == 0 {
		return
	}

	mustHaveTaskFields(id, kind, what)

	task := Task{
		ID:       id,
		ParentID: parentID,
		Kind:     kind,
		What:     what,
		Where:    domain.Name(),
		Detail:   detail,
	}
	domain.InvokeHook(quanta.HookCtx{Pos: HookPosTaskStart, Model: domain.Name(), Item: task})
}

// AddTaskStep marks that a milestone was reached while processing a task.
func AddTaskStep(id string, domain NamedHookable, what string) {
	if domain.NumHooks() == 0 {
		return
	}

	task := Task{ID: id, Steps: []TaskStep{{What: what}}}
	domain.InvokeHook(quanta.HookCtx{Pos: HookPosTaskStep, Model: domain.Name(), Item: task})
}

// EndTask notifies domain's hooks about the end of a task.
func EndTask(id string, domain NamedHookable) {
	if domain.NumHooks() == 0 {
		return
	}

	domain.InvokeHook(quanta.HookCtx{
		Pos:   HookPosTaskEnd,
		Model: domain.Name(),
		Item:  Task{ID: id},
	})
}

// TaskIDFor builds a deterministic task ID for a value handled by domain,
// used when a model has no natural request ID of its own to key on.
func TaskIDFor(v interface{}, domain NamedHookable) string {
	return fmt.Sprintf("%s@%s", reflect.TypeOf(v).String(), domain.Name())
}
