package sim

// Priority orders events that are scheduled at the same tick. Events with a
// lower priority value are serviced first.
type Priority int

// Event priorities used by the components in this module.
const (
	MinimumPri          Priority = -1 << 31
	DebugEnablePri      Priority = -101
	DebugBreakPri       Priority = -100
	CPUSwitchPri        Priority = -31
	DelayedWritebackPri Priority = -1
	DefaultPri          Priority = 0
	SerializePri        Priority = 32
	CPUTickPri          Priority = 50
	StatEventPri        Priority = 90
	ProgressEventPri    Priority = 95
	SimExitPri          Priority = 100
	MaximumPri          Priority = 1<<31 - 1
)

// An Event is something going to happen in the future.
//
// Events are owned by the component that creates them. The EventQueue only
// refers to an event while it is scheduled, and an event can only be
// scheduled once at a time.
type Event interface {
	// Time returns the tick that the event is scheduled for.
	Time() Tick

	// Priority returns the same-tick ordering key.
	Priority() Priority

	// Handler returns the handler that handles the event.
	Handler() Handler

	// Scheduled tells if the event is waiting in a queue.
	Scheduled() bool

	// Description returns a short text used in logs.
	Description() string

	base() *EventBase
}

// EventBase provides the basic fields and getters for other events. Embed it
// in a struct to make the struct an Event.
type EventBase struct {
	ID       string
	when     Tick
	priority Priority
	handler  Handler
	desc     string
	interval Tick

	scheduled bool
	heapIndex int
	seq       uint64
}

// NewEventBase creates a new EventBase with the default priority.
func NewEventBase(handler Handler) *EventBase {
	e := new(EventBase)
	e.handler = handler
	e.priority = DefaultPri
	e.heapIndex = -1
	return e
}

// MakeEventBase creates an EventBase value to be embedded in other events.
func MakeEventBase(handler Handler, priority Priority, desc string) EventBase {
	return EventBase{
		handler:   handler,
		priority:  priority,
		desc:      desc,
		heapIndex: -1,
	}
}

// Time returns the time that the event is going to happen.
func (e *EventBase) Time() Tick {
	return e.when
}

// Priority returns the priority of the event.
func (e *EventBase) Priority() Priority {
	return e.priority
}

// SetPriority changes the priority. It can only be changed while the event is
// not scheduled.
func (e *EventBase) SetPriority(p Priority) {
	if e.scheduled {
		panic("cannot change the priority of a scheduled event")
	}

	e.priority = p
}

// Handler returns the handler to handle the event.
func (e *EventBase) Handler() Handler {
	return e.handler
}

// SetHandler sets which handler that handles the event.
func (e *EventBase) SetHandler(h Handler) {
	e.handler = h
}

// Scheduled returns true if the event is waiting in a queue.
func (e *EventBase) Scheduled() bool {
	return e.scheduled
}

// Description returns the description of the event.
func (e *EventBase) Description() string {
	if e.desc == "" {
		return "generic event"
	}

	return e.desc
}

// SetDescription sets the text used to describe the event in logs.
func (e *EventBase) SetDescription(desc string) {
	e.desc = desc
}

// SetPeriodic makes the event repeat every interval ticks after it is
// serviced, unless the handler reschedules it. An interval of 0 stops the
// repetition.
func (e *EventBase) SetPeriodic(interval Tick) {
	if interval < 0 {
		panic("negative event interval")
	}

	e.interval = interval
}

// Interval returns the repeat interval. Zero means the event does not repeat.
func (e *EventBase) Interval() Tick {
	return e.interval
}

func (e *EventBase) base() *EventBase {
	return e
}

// A Handler defines a domain for the events.
//
// One event is always constraint to one Handler, which means the event can
// only be scheduled by one handler and can only directly modify that handler.
type Handler interface {
	Handle(e Event) error
}

// FuncEvent is an event that calls a function when it is serviced.
type FuncEvent struct {
	EventBase
	f func()
}

// NewFuncEvent creates an event that calls f.
func NewFuncEvent(desc string, priority Priority, f func()) *FuncEvent {
	e := &FuncEvent{f: f}
	e.EventBase = MakeEventBase(e, priority, desc)

	return e
}

// Handle calls the wrapped function.
func (e *FuncEvent) Handle(_ Event) error {
	e.f()
	return nil
}
