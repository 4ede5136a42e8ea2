package sim

import (
	"github.com/sirupsen/logrus"
)

// EventLogger is an hook that prints the event information
type EventLogger struct {
	Logger *logrus.Logger
}

// NewEventLogger returns a new EventLogger which writes into the logger at the
// debug level.
func NewEventLogger(logger *logrus.Logger) *EventLogger {
	h := new(EventLogger)
	h.Logger = logger
	return h
}

// Func writes the event information into the logger
func (h *EventLogger) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	evt, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	fields := logrus.Fields{
		"tick":     evt.Time(),
		"priority": evt.Priority(),
	}

	if named, ok := evt.Handler().(Named); ok {
		fields["handler"] = named.Name()
	}

	h.Logger.WithFields(fields).Debug(evt.Description())
}
