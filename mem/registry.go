package mem

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/sim"
)

// PortHandle refers to a port in a PortRegistry. A handle becomes stale when
// its port is released, and a stale handle never resolves to a port again.
// The zero PortHandle refers to no port.
type PortHandle struct {
	index uint32
	gen   uint32
}

// IsZero tells if the handle refers to no port.
func (h PortHandle) IsZero() bool {
	return h.gen == 0
}

type portSlot struct {
	port *Port
	gen  uint32
}

// PortRegistry owns the ports of a simulation. Ports refer to their peers by
// handles into the registry.
type PortRegistry struct {
	clock sim.TimeTeller
	slots []portSlot
	free  []uint32
}

// NewPortRegistry creates an empty registry. The clock timestamps the hooks
// invoked by the ports. It can be nil.
func NewPortRegistry(clock sim.TimeTeller) *PortRegistry {
	return &PortRegistry{clock: clock}
}

func (r *PortRegistry) now() sim.Tick {
	if r.clock == nil {
		return 0
	}

	return r.clock.Now()
}

func (r *PortRegistry) register(p *Port) PortHandle {
	if n := len(r.free); n > 0 {
		index := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[index].port = p

		return PortHandle{index: index, gen: r.slots[index].gen}
	}

	r.slots = append(r.slots, portSlot{port: p, gen: 1})

	return PortHandle{index: uint32(len(r.slots) - 1), gen: 1}
}

// Resolve returns the port of the handle, or nil if the handle is zero or
// stale.
func (r *PortRegistry) Resolve(h PortHandle) *Port {
	if h.IsZero() || int(h.index) >= len(r.slots) {
		return nil
	}

	slot := r.slots[h.index]
	if slot.gen != h.gen {
		return nil
	}

	return slot.port
}

// Release removes the port from the registry. All the handles to the port
// become stale.
func (r *PortRegistry) Release(p *Port) {
	if r.Resolve(p.self) != p {
		logrus.Panicf("port %s is not in the registry", p.name)
	}

	slot := &r.slots[p.self.index]
	slot.port = nil
	slot.gen++

	if slot.gen == 0 {
		slot.gen = 1
	}

	r.free = append(r.free, p.self.index)
	p.self = PortHandle{}
}

// Len returns the number of live ports.
func (r *PortRegistry) Len() int {
	return len(r.slots) - len(r.free)
}

// Ports returns the live ports in registration slot order.
func (r *PortRegistry) Ports() []*Port {
	ports := make([]*Port, 0, r.Len())
	for _, s := range r.slots {
		if s.port != nil {
			ports = append(ports, s.port)
		}
	}

	return ports
}
