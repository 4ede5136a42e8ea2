package physmem

import (
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
)

// Params configures a PhysicalMemory.
type Params struct {
	// Range is the address range of the memory. Its size must be a multiple
	// of PageBytes.
	Range mem.AddrRange

	// Latency is the time that every access takes.
	Latency sim.Tick

	// LatencyVar adds a uniformly random extra latency in [0, LatencyVar].
	LatencyVar sim.Tick

	// NullData makes reads return zeros and writes have no effect.
	NullData bool

	// BlockSize is reported to the peers. 0 accepts any size.
	BlockSize int

	// Seed seeds the latency variation.
	Seed int64
}

// DefaultParams returns the parameters of a 128MB memory at address 0 with
// a latency of one tick.
func DefaultParams() Params {
	return Params{
		Range:   mem.RangeSize(0, 128*1024*1024),
		Latency: 1,
	}
}

func (p Params) mustBeValid(name string) {
	if !p.Range.Valid() || p.Range.Size() == 0 {
		logrus.Panicf("%s: invalid range %s", name, p.Range)
	}

	if p.Range.Size()%PageBytes != 0 {
		logrus.Panicf("%s: memory size not divisible by page size", name)
	}

	if p.Latency < 0 || p.LatencyVar < 0 {
		logrus.Panicf("%s: latency must not be negative", name)
	}

	if p.BlockSize < 0 {
		logrus.Panicf("%s: block size must not be negative", name)
	}
}

// Builder can build physical memories.
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

// WithEventQueue sets the queue that the ports schedule their responses on.
func (b Builder) WithEventQueue(queue sim.EventScheduler) Builder {
	b.queue = queue
	return b
}

// WithPortRegistry sets the registry that owns the ports.
func (b Builder) WithPortRegistry(registry *mem.PortRegistry) Builder {
	b.registry = registry
	return b
}

// WithParams replaces all the parameters.
func (b Builder) WithParams(p Params) Builder {
	b.params = p
	return b
}

// WithRange sets the address range.
func (b Builder) WithRange(r mem.AddrRange) Builder {
	b.params.Range = r
	return b
}

// WithLatency sets the access latency.
func (b Builder) WithLatency(latency sim.Tick) Builder {
	b.params.Latency = latency
	return b
}

// WithLatencyVar sets the maximum random extra latency.
func (b Builder) WithLatencyVar(v sim.Tick) Builder {
	b.params.LatencyVar = v
	return b
}

// WithNullData makes the memory drop the data.
func (b Builder) WithNullData(null bool) Builder {
	b.params.NullData = null
	return b
}

// WithBlockSize sets the block size reported to the peers.
func (b Builder) WithBlockSize(size int) Builder {
	b.params.BlockSize = size
	return b
}

// WithSeed sets the seed of the latency variation.
func (b Builder) WithSeed(seed int64) Builder {
	b.params.Seed = seed
	return b
}

// Build creates a PhysicalMemory.
func (b Builder) Build(name string) *PhysicalMemory {
	b.params.mustBeValid(name)

	if b.queue == nil {
		logrus.Panicf("%s: event queue is not set", name)
	}

	if b.registry == nil {
		logrus.Panicf("%s: port registry is not set", name)
	}

	return &PhysicalMemory{
		MemObjectBase: mem.NewMemObjectBase(name),
		queue:         b.queue,
		registry:      b.registry,
		params:        b.params,
		storage:       NewStorage(b.params.Range.Size()),
		rng:           rand.New(rand.NewSource(b.params.Seed)),
	}
}
