package sim

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	Now() Tick
}

// EventScheduler can be used to schedule future events.
type EventScheduler interface {
	TimeTeller

	Schedule(evt Event, when Tick)
	Deschedule(evt Event)
	Reschedule(evt Event, when Tick, always bool)
}

// A SimulationEndHandler is a handler that is called after the simulation ends.
type SimulationEndHandler interface {
	Handle(now Tick)
}
