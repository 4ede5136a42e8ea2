package sim

import "github.com/sirupsen/logrus"

// ExitEvent stops the run of its queue when it is serviced.
type ExitEvent struct {
	EventBase
	queue *EventQueue
	Cause string
	Code  int
}

// NewExitEvent creates an ExitEvent for the given queue.
func NewExitEvent(queue *EventQueue, cause string, code int) *ExitEvent {
	e := &ExitEvent{queue: queue, Cause: cause, Code: code}
	e.EventBase = MakeEventBase(e, SimExitPri, "exit: "+cause)

	return e
}

// Handle makes the queue leave its run loop.
func (e *ExitEvent) Handle(_ Event) error {
	e.queue.exitLoop(ExitInfo{
		Cause: e.Cause,
		Code:  e.Code,
		Tick:  e.queue.Now(),
	})

	return nil
}

// Drainable is implemented by objects that hold in-flight work which must be
// completed before the simulation state can be saved.
type Drainable interface {
	// Drain returns the number of times the object will call Process on the
	// DrainEvent before it is drained. Zero means it is already drained.
	Drain(de *DrainEvent) int
}

// DrainEvent counts the objects that are still draining. When the last one
// reports, it stops the run of the queue with CauseDrained.
type DrainEvent struct {
	queue *EventQueue
	count int
}

// NewDrainEvent creates a DrainEvent bound to a queue.
func NewDrainEvent(queue *EventQueue) *DrainEvent {
	return &DrainEvent{queue: queue}
}

// SetCount sets the number of outstanding signals.
func (d *DrainEvent) SetCount(n int) {
	d.count = n
}

// Count returns the number of outstanding signals.
func (d *DrainEvent) Count() int {
	return d.count
}

// Process is called by a drainable object once it is drained.
func (d *DrainEvent) Process() {
	if d.count <= 0 {
		logrus.Panicf("drain event processed more times than expected")
	}

	d.count--
	if d.count == 0 {
		d.queue.ScheduleExit(d.queue.Now(), CauseDrained, 0)
	}
}
