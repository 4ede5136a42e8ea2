package sim

// HookPos names a place in the code of a domain where hooks are invoked.
type HookPos struct {
	Name string
}

// HookCtx tells a hook where and when it is invoked and what is at hand.
type HookCtx struct {
	Domain Hookable
	Now    Tick
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// Hookable is an object that invokes hooks.
type Hookable interface {
	AcceptHook(hook Hook)

	// NumHooks lets the domain skip building a HookCtx that nobody reads.
	NumHooks() int
}

// HookPosBeforeEvent is invoked by the EventQueue before an event is handled.
var HookPosBeforeEvent = &HookPos{Name: "BeforeEvent"}

// HookPosAfterEvent is invoked by the EventQueue after an event is handled.
var HookPosAfterEvent = &HookPos{Name: "AfterEvent"}

// Hook observes a domain.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc turns a function into a Hook.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// HookableBase keeps the hooks of a domain. It is meant to be embedded.
type HookableBase struct {
	Hooks []Hook
}

// NewHookableBase creates a HookableBase without hooks.
func NewHookableBase() *HookableBase {
	return &HookableBase{Hooks: make([]Hook, 0)}
}

// AcceptHook adds a hook. Hooks are invoked in the order they are added.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.Hooks = append(h.Hooks, hook)
}

// NumHooks returns the number of hooks.
func (h *HookableBase) NumHooks() int {
	return len(h.Hooks)
}

// InvokeHook invokes every hook with the context.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks {
		hook.Func(ctx)
	}
}

// Named is an object that has a name.
type Named interface {
	Name() string
}
