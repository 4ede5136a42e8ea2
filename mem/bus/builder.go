package bus

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
)

// Params configures a Bus.
type Params struct {
	// BusID identifies the bus in a system with several buses.
	BusID int

	// Clock is the bus clock period in ticks.
	Clock sim.Tick

	// HeaderCycles is the number of cycles that every transfer spends on
	// the address phase.
	HeaderCycles int

	// Width is the number of data bytes transferred per cycle.
	Width int

	// ResponderSet tells that the default port has a responder with its own
	// address ranges. Addresses outside of every range are then an error
	// instead of going to the default port.
	ResponderSet bool

	// BlockSize is reported when no attached device has a block size.
	BlockSize int
}

// DefaultParams returns the parameters of a 64-bit bus with one header
// cycle.
func DefaultParams() Params {
	return Params{
		BusID:        1,
		Clock:        1000,
		HeaderCycles: 1,
		Width:        8,
		BlockSize:    64,
	}
}

func (p Params) mustBeValid(name string) {
	if p.Width <= 0 {
		logrus.Panicf("%s: bus width must be positive", name)
	}

	if p.Clock <= 0 {
		logrus.Panicf("%s: bus clock period must be positive", name)
	}

	if p.HeaderCycles <= 0 {
		logrus.Panicf("%s: number of header cycles must be positive", name)
	}

	if p.BlockSize <= 0 {
		logrus.Panicf("%s: default block size must be positive", name)
	}

	if p.BusID <= 0 {
		logrus.Panicf("%s: bus id must be positive", name)
	}
}

// Builder can build buses.
type Builder struct {
	queue    sim.EventScheduler
	registry *mem.PortRegistry
	params   Params
}

// MakeBuilder returns a Builder with the default parameters.
func MakeBuilder() Builder {
	return Builder{
		params: DefaultParams(),
	}
}

// WithEventQueue sets the queue that the bus schedules its events on.
func (b Builder) WithEventQueue(queue sim.EventScheduler) Builder {
	b.queue = queue
	return b
}

// WithPortRegistry sets the registry that owns the ports of the bus.
func (b Builder) WithPortRegistry(registry *mem.PortRegistry) Builder {
	b.registry = registry
	return b
}

// WithParams replaces all the parameters.
func (b Builder) WithParams(p Params) Builder {
	b.params = p
	return b
}

// WithBusID sets the bus id.
func (b Builder) WithBusID(id int) Builder {
	b.params.BusID = id
	return b
}

// WithClock sets the clock period.
func (b Builder) WithClock(period sim.Tick) Builder {
	b.params.Clock = period
	return b
}

// WithHeaderCycles sets the number of header cycles.
func (b Builder) WithHeaderCycles(n int) Builder {
	b.params.HeaderCycles = n
	return b
}

// WithWidth sets the number of bytes transferred per cycle.
func (b Builder) WithWidth(width int) Builder {
	b.params.Width = width
	return b
}

// WithResponderSet tells that the default port leads to a responder that
// reports its own ranges.
func (b Builder) WithResponderSet(set bool) Builder {
	b.params.ResponderSet = set
	return b
}

// WithBlockSize sets the block size used when no device reports one.
func (b Builder) WithBlockSize(size int) Builder {
	b.params.BlockSize = size
	return b
}

// Build creates a bus.
func (b Builder) Build(name string) *Bus {
	b.params.mustBeValid(name)

	if b.queue == nil {
		logrus.Panicf("%s: event queue is not set", name)
	}

	if b.registry == nil {
		logrus.Panicf("%s: port registry is not set", name)
	}

	bus := &Bus{
		MemObjectBase:  mem.NewMemObjectBase(name),
		queue:          b.queue,
		registry:       b.registry,
		params:         b.params,
		clock:          sim.NewClock(b.params.Clock),
		interfaces:     make(map[mem.PortID]*BusPort),
		inStatusChange: make(map[mem.PortID]bool),
		portMap:        mem.NewRangeMap[mem.PortID](),
		portCache:      mem.NewMRUCache[mem.AddrRange, mem.PortID](cacheSize),
		busCache:       mem.NewMRUCache[mem.PortID, *BusPort](cacheSize),
		funcPortID:     noPortID,
	}

	bus.busIdle = sim.NewFuncEvent(name+" free", sim.DefaultPri,
		func() { bus.recvRetry(noPortID) })

	return bus
}
