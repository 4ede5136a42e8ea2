package sim

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ExitInfo tells why a run of the EventQueue stopped.
type ExitInfo struct {
	Cause string
	Code  int
	Tick  Tick
}

// Exit causes reported by the EventQueue itself.
const (
	CauseQueueEmpty   = "event queue empty"
	CauseLimitReached = "simulate() limit reached"
	CauseDrained      = "Finished drain"
)

// EventQueue keeps the pending events of one simulation and services them in
// the order of (tick, priority, insertion).
type EventQueue struct {
	HookableBase

	name string

	timeLock sync.RWMutex
	now      Tick

	events  eventHeap
	nextSeq uint64

	exit *ExitInfo

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex

	simulationEndHandlers []SimulationEndHandler
}

// NewEventQueue creates an empty EventQueue at tick 0.
func NewEventQueue(name string) *EventQueue {
	q := new(EventQueue)
	q.name = name
	q.events = make(eventHeap, 0)
	heap.Init(&q.events)

	return q
}

// Name returns the name of the queue.
func (q *EventQueue) Name() string {
	return q.name
}

// Now returns the tick of the event being serviced, or of the last serviced
// event.
func (q *EventQueue) Now() Tick {
	q.timeLock.RLock()
	t := q.now
	q.timeLock.RUnlock()

	return t
}

func (q *EventQueue) setNow(t Tick) {
	q.timeLock.Lock()
	q.now = t
	q.timeLock.Unlock()
}

// RestoreNow moves the current time to a tick restored from a checkpoint. The
// queue must be empty.
func (q *EventQueue) RestoreNow(t Tick) {
	if len(q.events) != 0 {
		logrus.Panicf("%s: restoring the time with %d events pending",
			q.name, len(q.events))
	}

	q.setNow(t)
}

// Schedule inserts the event at the given tick.
func (q *EventQueue) Schedule(evt Event, when Tick) {
	b := evt.base()
	if b.scheduled {
		logrus.Panicf("%s: event %q is already scheduled at %d",
			q.name, evt.Description(), b.when)
	}

	now := q.Now()
	if when < now {
		logrus.Panicf("%s: scheduling event %q at %d, earlier than now %d",
			q.name, evt.Description(), when, now)
	}

	b.when = when
	b.seq = q.nextSeq
	q.nextSeq++
	b.scheduled = true

	heap.Push(&q.events, evt)
}

// Deschedule removes a pending event. It will not be serviced.
func (q *EventQueue) Deschedule(evt Event) {
	b := evt.base()
	if !b.scheduled {
		logrus.Panicf("%s: descheduling event %q that is not scheduled",
			q.name, evt.Description())
	}

	heap.Remove(&q.events, b.heapIndex)
	b.scheduled = false
}

// Reschedule moves a pending event to a new tick. If the event is not
// scheduled, it is scheduled when always is set, otherwise it is an error.
func (q *EventQueue) Reschedule(evt Event, when Tick, always bool) {
	b := evt.base()
	if b.scheduled {
		q.Deschedule(evt)
	} else if !always {
		logrus.Panicf("%s: rescheduling event %q that is not scheduled",
			q.name, evt.Description())
	}

	q.Schedule(evt, when)
}

// Empty tells if no event is pending.
func (q *EventQueue) Empty() bool {
	return len(q.events) == 0
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	return len(q.events)
}

// NextTick returns the tick of the earliest pending event, or MaxTick if the
// queue is empty.
func (q *EventQueue) NextTick() Tick {
	if len(q.events) == 0 {
		return MaxTick
	}

	return q.events[0].Time()
}

// ServiceOne removes the earliest event from the queue, advances the time to
// the tick of the event, and lets the event handler handle it. It returns the
// serviced event, or nil if the queue is empty.
func (q *EventQueue) ServiceOne() (Event, error) {
	if len(q.events) == 0 {
		return nil, nil
	}

	evt := heap.Pop(&q.events).(Event)
	b := evt.base()
	b.scheduled = false

	now := q.Now()
	if b.when < now {
		logrus.Panicf("%s: cannot run event %q in the past, evt @ %d, now %d",
			q.name, evt.Description(), b.when, now)
	}

	q.setNow(b.when)

	hookCtx := HookCtx{
		Domain: q,
		Now:    b.when,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	q.InvokeHook(hookCtx)

	err := evt.Handler().Handle(evt)

	hookCtx.Pos = HookPosAfterEvent
	q.InvokeHook(hookCtx)

	if err != nil {
		return evt, fmt.Errorf("handling %s at %d: %w",
			evt.Description(), b.when, err)
	}

	if b.interval > 0 && !b.scheduled {
		q.Schedule(evt, b.when+b.interval)
	}

	return evt, nil
}

// ScheduleExit schedules an event that stops the current run when serviced.
func (q *EventQueue) ScheduleExit(when Tick, cause string, code int) *ExitEvent {
	evt := NewExitEvent(q, cause, code)
	q.Schedule(evt, when)

	return evt
}

func (q *EventQueue) exitLoop(info ExitInfo) {
	q.exit = &info
}

// Run services events until an exit event fires or the queue is empty.
func (q *EventQueue) Run() (ExitInfo, error) {
	return q.RunUntil(MaxTick)
}

// RunUntil services events until an exit event fires, the queue is empty, or
// the given tick is passed.
func (q *EventQueue) RunUntil(limit Tick) (ExitInfo, error) {
	q.singleRunLock.Lock()
	defer q.singleRunLock.Unlock()

	var limitEvent *ExitEvent
	if limit < MaxTick {
		limitEvent = q.ScheduleExit(limit, CauseLimitReached, 0)
	}

	q.exit = nil
	for {
		if len(q.events) == 0 {
			return ExitInfo{Cause: CauseQueueEmpty, Tick: q.Now()}, nil
		}

		q.pauseLock.Lock()
		_, err := q.ServiceOne()
		q.pauseLock.Unlock()

		if err != nil {
			q.dropLimitEvent(limitEvent)
			return ExitInfo{Cause: err.Error(), Code: 1, Tick: q.Now()}, err
		}

		if q.exit != nil {
			info := *q.exit
			q.exit = nil
			q.dropLimitEvent(limitEvent)

			return info, nil
		}
	}
}

func (q *EventQueue) dropLimitEvent(evt *ExitEvent) {
	if evt != nil && evt.Scheduled() {
		q.Deschedule(evt)
	}
}

// Pause prevents the EventQueue from servicing more events.
func (q *EventQueue) Pause() {
	q.isPausedLock.Lock()
	defer q.isPausedLock.Unlock()

	if q.isPaused {
		return
	}

	q.pauseLock.Lock()
	q.isPaused = true
}

// Paused tells if the EventQueue is paused.
func (q *EventQueue) Paused() bool {
	q.isPausedLock.Lock()
	defer q.isPausedLock.Unlock()

	return q.isPaused
}

// Continue allows the EventQueue to service more events.
func (q *EventQueue) Continue() {
	q.isPausedLock.Lock()
	defer q.isPausedLock.Unlock()

	if !q.isPaused {
		return
	}

	q.pauseLock.Unlock()
	q.isPaused = false
}

// RegisterSimulationEndHandler registers a handler that perform some
// actions after the simulation is finished.
func (q *EventQueue) RegisterSimulationEndHandler(
	handler SimulationEndHandler,
) {
	q.simulationEndHandlers = append(q.simulationEndHandlers, handler)
}

// Finished should be called after the simulation ends. This function
// calls all the registered SimulationEndHandler.
func (q *EventQueue) Finished() {
	now := q.Now()
	for _, h := range q.simulationEndHandlers {
		h.Handle(now)
	}
}

type eventHeap []Event

func (h eventHeap) Len() int {
	return len(h)
}

func (h eventHeap) Less(i, j int) bool {
	a, b := h[i].base(), h[j].base()
	if a.when != b.when {
		return a.when < b.when
	}

	if a.priority != b.priority {
		return a.priority < b.priority
	}

	return a.seq < b.seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].base().heapIndex = i
	h[j].base().heapIndex = j
}

func (h *eventHeap) Push(x interface{}) {
	evt := x.(Event)
	evt.base().heapIndex = len(*h)
	*h = append(*h, evt)
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	evt := old[n-1]
	old[n-1] = nil
	evt.base().heapIndex = -1
	*h = old[0 : n-1]

	return evt
}
