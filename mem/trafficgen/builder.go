package trafficgen

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
)

// Mode selects how the generator accesses memory.
type Mode int

// Access modes.
const (
	Timing Mode = iota
	Atomic
	Functional
)

// ErrUnknownMode is returned when a mode name is not recognized.
var ErrUnknownMode = errors.New("unknown access mode")

var modeNames = map[Mode]string{
	Timing:     "timing",
	Atomic:     "atomic",
	Functional: "functional",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}

	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a mode name to a Mode.
func ParseMode(name string) (Mode, error) {
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}

	return 0, fmt.Errorf("%q: %w", name, ErrUnknownMode)
}

// Params configures a TrafficGen.
type Params struct {
	Mode Mode

	// Ranges are the address ranges that the generator accesses.
	Ranges []mem.AddrRange

	// NumRequests is the number of accesses to issue.
	NumRequests int

	// Interval is the time between two accesses.
	Interval sim.Tick

	// Size is the number of bytes per access. Accesses are aligned to it.
	Size int

	// ReadPercent is the share of reads among the accesses.
	ReadPercent int

	// CPUNum is stamped on the requests.
	CPUNum int

	Seed int64
}

// DefaultParams returns the parameters of a generator that issues 100
// accesses of 8 bytes, half of them reads.
func DefaultParams() Params {
	return Params{
		Mode:        Timing,
		NumRequests: 100,
		Interval:    1,
		Size:        8,
		ReadPercent: 50,
	}
}

func (p Params) mustBeValid(name string) {
	if len(p.Ranges) == 0 {
		logrus.Panicf("%s: no address range to access", name)
	}

	if p.Size <= 0 {
		logrus.Panicf("%s: access size must be positive", name)
	}

	for _, r := range p.Ranges {
		if r.Size() < uint64(p.Size) {
			logrus.Panicf("%s: range %s is smaller than an access", name, r)
		}
	}

	if p.NumRequests < 0 {
		logrus.Panicf("%s: number of requests must not be negative", name)
	}

	if p.Interval <= 0 {
		logrus.Panicf("%s: interval must be positive", name)
	}

	if p.ReadPercent < 0 || p.ReadPercent > 100 {
		logrus.Panicf("%s: read percent must be in [0, 100]", name)
	}

	if _, ok := modeNames[p.Mode]; !ok {
		logrus.Panicf("%s: %s", name, p.Mode)
	}
}

// Builder can build traffic generators.
type Builder struct {
	queue       sim.EventScheduler
	registry    *mem.PortRegistry
	idGenerator sim.IDGenerator
	params      Params
}

// MakeBuilder returns a Builder with the default parameters.
func MakeBuilder() Builder {
	return Builder{
		params: DefaultParams(),
	}
}

// WithEventQueue sets the queue that the generator runs on.
func (b Builder) WithEventQueue(queue sim.EventScheduler) Builder {
	b.queue = queue
	return b
}

// WithPortRegistry sets the registry that owns the port.
func (b Builder) WithPortRegistry(registry *mem.PortRegistry) Builder {
	b.registry = registry
	return b
}

// WithIDGenerator sets the generator of the request IDs.
func (b Builder) WithIDGenerator(g sim.IDGenerator) Builder {
	b.idGenerator = g
	return b
}

// WithParams replaces all the parameters.
func (b Builder) WithParams(p Params) Builder {
	b.params = p
	return b
}

// WithMode sets the access mode.
func (b Builder) WithMode(mode Mode) Builder {
	b.params.Mode = mode
	return b
}

// WithRanges sets the accessed ranges.
func (b Builder) WithRanges(ranges ...mem.AddrRange) Builder {
	b.params.Ranges = ranges
	return b
}

// WithNumRequests sets the number of accesses.
func (b Builder) WithNumRequests(n int) Builder {
	b.params.NumRequests = n
	return b
}

// WithInterval sets the time between two accesses.
func (b Builder) WithInterval(interval sim.Tick) Builder {
	b.params.Interval = interval
	return b
}

// WithSize sets the number of bytes per access.
func (b Builder) WithSize(size int) Builder {
	b.params.Size = size
	return b
}

// WithReadPercent sets the share of reads.
func (b Builder) WithReadPercent(percent int) Builder {
	b.params.ReadPercent = percent
	return b
}

// WithCPUNum sets the CPU number of the requests.
func (b Builder) WithCPUNum(n int) Builder {
	b.params.CPUNum = n
	return b
}

// WithSeed sets the seed of the address and data generation.
func (b Builder) WithSeed(seed int64) Builder {
	b.params.Seed = seed
	return b
}

// Build creates a TrafficGen.
func (b Builder) Build(name string) *TrafficGen {
	b.params.mustBeValid(name)

	if b.queue == nil {
		logrus.Panicf("%s: event queue is not set", name)
	}

	if b.registry == nil {
		logrus.Panicf("%s: port registry is not set", name)
	}

	if b.idGenerator == nil {
		b.idGenerator = sim.NewSequentialIDGenerator()
	}

	g := &TrafficGen{
		MemObjectBase: mem.NewMemObjectBase(name),
		queue:         b.queue,
		idGenerator:   b.idGenerator,
		params:        b.params,
		rng:           rand.New(rand.NewSource(b.params.Seed)),
		shadow:        make(map[mem.Addr]byte),
		inflight:      make(map[*mem.Packet]inflight),
	}

	g.port = mem.NewPort(b.registry, name+"-port", g, g)
	g.AddPort(g.port.Name(), g.port)
	g.tickEvent = sim.NewFuncEvent(name+" tick", sim.CPUTickPri, g.tick)

	return g
}
