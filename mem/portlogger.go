package mem

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/sim"
)

// PortLogger is a hook for logging packets as they go across a Port
type PortLogger struct {
	Logger *logrus.Logger
}

// NewPortLogger returns a new PortLogger which will write into the logger at
// the debug level.
func NewPortLogger(logger *logrus.Logger) *PortLogger {
	h := new(PortLogger)
	h.Logger = logger
	return h
}

// Func writes the packet information into the logger
func (h *PortLogger) Func(ctx sim.HookCtx) {
	port, ok := ctx.Domain.(*Port)
	if !ok {
		return
	}

	fields := logrus.Fields{
		"tick": ctx.Now,
		"port": port.Name(),
		"pos":  ctx.Pos.Name,
	}

	if pkt, ok := ctx.Item.(*Packet); ok {
		fields["cmd"] = pkt.Cmd.String()
		fields["addr"] = uint64(pkt.Addr())
		fields["size"] = pkt.Size()
		fields["id"] = pkt.ID
	}

	if ctx.Detail != nil {
		fields["detail"] = ctx.Detail
	}

	h.Logger.WithFields(fields).Debug("port traffic")
}
