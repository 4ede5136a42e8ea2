package config

import (
	"errors"
	"fmt"

	"github.com/sarchlab/membus/analysis"
	"github.com/sarchlab/membus/datarecording"
	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/mem/bus"
	"github.com/sarchlab/membus/mem/physmem"
	"github.com/sarchlab/membus/mem/trafficgen"
	"github.com/sarchlab/membus/simulation"
)

// Tables that the built platform records into.
const (
	TransferTable   = "transfers"
	CompletionTable = "completions"
	AnalysisTable   = "analysis"
)

// A Platform is a system built from its description.
type Platform struct {
	Simulation *simulation.Simulation
	Bus        *bus.Bus
	Memories   []*physmem.PhysicalMemory
	Generators []*trafficgen.TrafficGen

	// Analyzer is nil unless the analysis is enabled. It reports when the
	// simulation terminates.
	Analyzer *analysis.PerfAnalyzer

	csv *analysis.CSVBackend
}

// Build creates the simulation and the objects of the system, connects them
// and registers them with the simulation.
func (s *System) Build() (*Platform, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	sys, err := s.buildSimulation()
	if err != nil {
		return nil, err
	}

	p := &Platform{Simulation: sys}

	p.Bus = s.buildBus(sys)
	sys.RegisterMemObject(p.Bus)

	for _, m := range s.Memories {
		memory := buildMemory(sys, m)
		mem.ConnectPorts(memory, "port", -1, p.Bus, "port", -1)
		sys.RegisterMemObject(memory)
		p.Memories = append(p.Memories, memory)
	}

	for _, g := range s.Generators {
		gen := buildGenerator(sys, g)
		mem.ConnectPorts(gen, "port", 0, p.Bus, "port", -1)
		sys.RegisterMemObject(gen)
		p.Generators = append(p.Generators, gen)
	}

	p.attachTracers()

	if err := p.attachAnalyzer(s.Analysis); err != nil {
		return nil, err
	}

	return p, nil
}

func (s *System) buildSimulation() (*simulation.Simulation, error) {
	builder := simulation.MakeBuilder()

	if s.Monitor.Enabled {
		builder = builder.WithMonitorPort(s.Monitor.Port)
	} else {
		builder = builder.WithoutMonitoring()
	}

	switch s.Recorder.Kind {
	case RecorderSQLite:
		builder = builder.WithOutputFileName(s.Recorder.Path)
	case RecorderClickHouse:
		ch := s.Recorder.ClickHouse

		recorder, err := datarecording.NewClickHouse(
			datarecording.ClickHouseOptions{
				Host:      ch.Host,
				Port:      ch.Port,
				Database:  ch.Database,
				Username:  ch.Username,
				Password:  ch.Password,
				BatchSize: ch.BatchSize,
			})
		if err != nil {
			return nil, fmt.Errorf("creating recorder: %w", err)
		}

		builder = builder.WithDataRecorder(recorder)
	default:
		builder = builder.WithoutRecording()
	}

	return builder.Build(), nil
}

func (s *System) buildBus(sys *simulation.Simulation) *bus.Bus {
	b := s.Bus

	return bus.MakeBuilder().
		WithEventQueue(sys.GetEventQueue()).
		WithPortRegistry(sys.GetPortRegistry()).
		WithBusID(b.BusID).
		WithClock(b.Clock).
		WithHeaderCycles(b.HeaderCycles).
		WithWidth(b.Width).
		WithBlockSize(b.BlockSize).
		Build(b.Name)
}

func buildMemory(
	sys *simulation.Simulation,
	m Memory,
) *physmem.PhysicalMemory {
	return physmem.MakeBuilder().
		WithEventQueue(sys.GetEventQueue()).
		WithPortRegistry(sys.GetPortRegistry()).
		WithRange(mem.RangeSize(m.Start, m.Size)).
		WithLatency(m.Latency).
		WithLatencyVar(m.LatencyVar).
		WithNullData(m.NullData).
		WithBlockSize(m.BlockSize).
		WithSeed(m.Seed).
		Build(m.Name)
}

// buildGenerator expects a validated description.
func buildGenerator(
	sys *simulation.Simulation,
	g Generator,
) *trafficgen.TrafficGen {
	mode, _ := trafficgen.ParseMode(g.Mode)

	ranges := make([]mem.AddrRange, 0, len(g.Ranges))
	for _, r := range g.Ranges {
		ranges = append(ranges, r.AddrRange())
	}

	builder := trafficgen.MakeBuilder().
		WithEventQueue(sys.GetEventQueue()).
		WithPortRegistry(sys.GetPortRegistry()).
		WithIDGenerator(sys.GetIDGenerator()).
		WithMode(mode).
		WithRanges(ranges...).
		WithNumRequests(g.Requests).
		WithInterval(g.Interval).
		WithSize(g.Size).
		WithCPUNum(g.CPU).
		WithSeed(g.Seed)

	if g.ReadPercent != nil {
		builder = builder.WithReadPercent(*g.ReadPercent)
	}

	return builder.Build(g.Name)
}

func (p *Platform) attachTracers() {
	recorder := p.Simulation.GetDataRecorder()
	if recorder == nil {
		return
	}

	p.Bus.AcceptHook(datarecording.NewTransferTracer(recorder, TransferTable))

	completions := datarecording.NewCompletionTracer(recorder, CompletionTable)
	for _, g := range p.Generators {
		g.AcceptHook(completions)
	}
}

func (p *Platform) attachAnalyzer(a Analysis) error {
	if !a.Enabled {
		return nil
	}

	var backend analysis.Backend

	if a.CSV != "" {
		csv, err := analysis.NewCSVBackend(a.CSV)
		if err != nil {
			return err
		}

		p.csv = csv
		backend = csv
	} else {
		backend = analysis.NewRecorderBackend(
			p.Simulation.GetDataRecorder(), AnalysisTable)
	}

	builder := analysis.MakePerfAnalyzerBuilder().
		WithBackend(backend).
		WithEventQueue(p.Simulation.GetEventQueue())

	if a.Period > 0 {
		builder = builder.WithPeriod(a.Period)
	}

	p.Analyzer = builder.Build()

	for _, o := range p.Simulation.MemObjects() {
		p.Analyzer.RegisterMemObject(o)
	}

	return nil
}

// Terminate ends the simulation and closes the analysis output.
func (p *Platform) Terminate() error {
	err := p.Simulation.Terminate()

	if p.csv != nil {
		err = errors.Join(err, p.csv.Close())
	}

	return err
}

// Done tells if every generator has issued and completed all its accesses.
func (p *Platform) Done() bool {
	for _, g := range p.Generators {
		if !g.Done() {
			return false
		}
	}

	return true
}
