// Package analysis summarizes the activity of memory objects over periods of
// simulated time.
package analysis

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/mem/bus"
	"github.com/sarchlab/membus/sim"
)

// Entry is a single entry in the performance database.
type Entry struct {
	Start       int64
	End         int64
	Where       string
	WhereRemote string
	What        string
	EntryType   string
	Value       float64
	Unit        string
}

// PerfLogger is the interface that provide the service that can record
// performance data entries.
type PerfLogger interface {
	AddDataEntry(entry Entry)
}

type finisher interface {
	finish(now sim.Tick)
}

// PerfAnalyzer attaches analyzers to ports and buses and forwards what they
// report to a backend. The last period is reported when the simulation ends.
type PerfAnalyzer struct {
	backend   Backend
	usePeriod bool
	period    sim.Tick

	analyzers []finisher
}

// RegisterPort counts the traffic that goes out of the port.
func (p *PerfAnalyzer) RegisterPort(port *mem.Port) {
	a := &PortAnalyzer{
		PerfLogger: p,
		port:       port,
		usePeriod:  p.usePeriod,
		period:     p.period,
		traffic:    make(map[trafficKey]trafficCount),
	}

	port.AcceptHook(a)
	p.analyzers = append(p.analyzers, a)
}

// RegisterLevel tracks the average of a level that can change whenever the
// domain invokes its hooks.
func (p *PerfAnalyzer) RegisterLevel(
	domain sim.Hookable,
	name string,
	level func() int,
) {
	a := &LevelAnalyzer{
		PerfLogger:      p,
		name:            name,
		level:           level,
		usePeriod:       p.usePeriod,
		period:          p.period,
		levelToDuration: make(map[int]sim.Tick),
	}

	domain.AcceptHook(a)
	p.analyzers = append(p.analyzers, a)
}

// RegisterMemObject analyzes all the ports of the object. A bus also has its
// retry list analyzed.
func (p *PerfAnalyzer) RegisterMemObject(o mem.MemObject) {
	if b, ok := o.(*bus.Bus); ok {
		p.RegisterLevel(b, b.Name()+".RetryList", b.RetryListLen)
	}

	withPorts, ok := o.(interface{ Ports() []*mem.Port })
	if !ok {
		logrus.Warnf("%s: cannot list the ports to analyze", o.Name())
		return
	}

	for _, port := range withPorts.Ports() {
		p.RegisterPort(port)
	}
}

// AddDataEntry adds a data entry to the backend.
func (p *PerfAnalyzer) AddDataEntry(entry Entry) {
	p.backend.AddDataEntry(entry)
}

// Handle reports what is left of the last period and flushes the backend.
func (p *PerfAnalyzer) Handle(now sim.Tick) {
	for _, a := range p.analyzers {
		a.finish(now)
	}

	p.backend.Flush()
}

// PerfAnalyzerBuilder is a builder that can build a PerfAnalyzer.
type PerfAnalyzerBuilder struct {
	usePeriod bool
	period    sim.Tick
	backend   Backend
	queue     *sim.EventQueue
}

// MakePerfAnalyzerBuilder creates a new PerfAnalyzerBuilder.
func MakePerfAnalyzerBuilder() PerfAnalyzerBuilder {
	return PerfAnalyzerBuilder{}
}

// WithPeriod makes the analyzers report once per period instead of once at
// the end.
func (b PerfAnalyzerBuilder) WithPeriod(period sim.Tick) PerfAnalyzerBuilder {
	b.usePeriod = true
	b.period = period

	return b
}

// WithBackend sets where the entries go.
func (b PerfAnalyzerBuilder) WithBackend(backend Backend) PerfAnalyzerBuilder {
	b.backend = backend
	return b
}

// WithEventQueue registers the analyzer to be finished when the simulation on
// the queue ends.
func (b PerfAnalyzerBuilder) WithEventQueue(
	queue *sim.EventQueue,
) PerfAnalyzerBuilder {
	b.queue = queue
	return b
}

// Build creates a PerfAnalyzer.
func (b PerfAnalyzerBuilder) Build() *PerfAnalyzer {
	if b.backend == nil {
		logrus.Panic("PerfAnalyzer requires a backend")
	}

	if b.usePeriod && b.period <= 0 {
		logrus.Panicf("analysis period %d must be positive", b.period)
	}

	p := &PerfAnalyzer{
		backend:   b.backend,
		usePeriod: b.usePeriod,
		period:    b.period,
	}

	if b.queue != nil {
		b.queue.RegisterSimulationEndHandler(p)
	}

	return p
}

func periodStartTime(t, period sim.Tick) sim.Tick {
	return t / period * period
}

func periodEndTime(t, period sim.Tick) sim.Tick {
	return periodStartTime(t, period) + period
}
