// Package config describes a simulated system in YAML and builds it.
//
// A system has one bus, the physical memories behind it and the traffic
// generators in front of it:
//
//	resolution: 1000000000000
//	limit: 0
//	bus:
//	  name: membus
//	  frequency: 1000000000
//	  width: 8
//	memories:
//	  - name: dram
//	    start: 0x0
//	    size: 0x100000
//	    latency: 30000
//	generators:
//	  - name: cpu0
//	    mode: timing
//	    ranges: [{start: 0x0, size: 0x1000}]
//	    requests: 1000
//	    interval: 1000
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/mem/physmem"
	"github.com/sarchlab/membus/mem/trafficgen"
	"github.com/sarchlab/membus/sim"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid system")

// Recorder kinds.
const (
	RecorderNone       = "none"
	RecorderSQLite     = "sqlite"
	RecorderClickHouse = "clickhouse"
)

// System is the description of a simulated system.
type System struct {
	// Resolution is the number of ticks per simulated second. It defaults
	// to one tick per picosecond.
	Resolution sim.Resolution `yaml:"resolution"`

	// Limit stops the run at the given tick. 0 runs until all the events
	// are serviced.
	Limit sim.Tick `yaml:"limit"`

	Bus        Bus         `yaml:"bus"`
	Memories   []Memory    `yaml:"memories"`
	Generators []Generator `yaml:"generators"`
	Recorder   Recorder    `yaml:"recorder"`
	Monitor    Monitor     `yaml:"monitor"`
	Analysis   Analysis    `yaml:"analysis"`
}

// Bus describes the bus that connects everything.
type Bus struct {
	Name  string `yaml:"name"`
	BusID int    `yaml:"bus_id"`

	// Clock is the period in ticks. Frequency, in Hz, can be given instead.
	Clock     sim.Tick `yaml:"clock"`
	Frequency sim.Freq `yaml:"frequency"`

	HeaderCycles int `yaml:"header_cycles"`
	Width        int `yaml:"width"`
	BlockSize    int `yaml:"block_size"`
}

// Memory describes a physical memory.
type Memory struct {
	Name       string   `yaml:"name"`
	Start      mem.Addr `yaml:"start"`
	Size       uint64   `yaml:"size"`
	Latency    sim.Tick `yaml:"latency"`
	LatencyVar sim.Tick `yaml:"latency_var"`
	NullData   bool     `yaml:"null_data"`
	BlockSize  int      `yaml:"block_size"`
	Seed       int64    `yaml:"seed"`
}

// Range is an address range given by its start and size.
type Range struct {
	Start mem.Addr `yaml:"start"`
	Size  uint64   `yaml:"size"`
}

// AddrRange converts the range.
func (r Range) AddrRange() mem.AddrRange {
	return mem.RangeSize(r.Start, r.Size)
}

// Generator describes a traffic generator.
type Generator struct {
	Name        string   `yaml:"name"`
	Mode        string   `yaml:"mode"`
	Ranges      []Range  `yaml:"ranges"`
	Requests    int      `yaml:"requests"`
	Interval    sim.Tick `yaml:"interval"`
	Size        int      `yaml:"size"`
	ReadPercent *int     `yaml:"read_percent"`
	CPU         int      `yaml:"cpu"`
	Seed        int64    `yaml:"seed"`
}

// Recorder selects where the transfers and the completions are recorded.
type Recorder struct {
	Kind       string     `yaml:"kind"`
	Path       string     `yaml:"path"`
	ClickHouse ClickHouse `yaml:"clickhouse"`
}

// ClickHouse is the connection to a ClickHouse server.
type ClickHouse struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BatchSize int    `yaml:"batch_size"`
}

// Monitor configures the web monitor.
type Monitor struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Analysis summarizes the traffic of every port and the retry list of the
// bus. The entries go into the CSV file if one is given, and into the
// recorder otherwise.
type Analysis struct {
	Enabled bool `yaml:"enabled"`

	// Period in ticks. 0 reports once at the end of the simulation.
	Period sim.Tick `yaml:"period"`

	// CSV is the name of the output file without the .csv extension.
	CSV string `yaml:"csv"`
}

// Load reads a system from a YAML file. Unknown keys are errors.
func Load(path string) (*System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading system %s: %w", path, err)
	}

	return Parse(data)
}

// Parse reads a system from YAML, fills in the defaults and validates it.
func Parse(data []byte) (*System, error) {
	var s System

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing system: %w", err)
	}

	s.SetDefaults()

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// SetDefaults fills the fields that are not given.
func (s *System) SetDefaults() {
	if s.Resolution == 0 {
		s.Resolution = sim.DefaultResolution
	}

	s.setBusDefaults()

	for i := range s.Memories {
		m := &s.Memories[i]
		if m.Name == "" {
			m.Name = fmt.Sprintf("mem%d", i)
		}
	}

	gen := trafficgen.DefaultParams()

	for i := range s.Generators {
		g := &s.Generators[i]

		if g.Name == "" {
			g.Name = fmt.Sprintf("gen%d", i)
		}

		if g.Mode == "" {
			g.Mode = gen.Mode.String()
		}

		if g.Size == 0 {
			g.Size = gen.Size
		}

		if g.Interval == 0 {
			g.Interval = gen.Interval
		}

		if g.ReadPercent == nil {
			percent := gen.ReadPercent
			g.ReadPercent = &percent
		}
	}

	if s.Recorder.Kind == "" {
		s.Recorder.Kind = RecorderNone
	}
}

func (s *System) setBusDefaults() {
	b := &s.Bus

	if b.Name == "" {
		b.Name = "membus"
	}

	if b.Clock == 0 && b.Frequency > 0 {
		b.Clock = period(s.Resolution, b.Frequency)
	}

	if b.Clock == 0 && b.Frequency == 0 {
		b.Clock = 1000
	}

	if b.BusID == 0 {
		b.BusID = 1
	}

	if b.HeaderCycles == 0 {
		b.HeaderCycles = 1
	}

	if b.Width == 0 {
		b.Width = 8
	}

	if b.BlockSize == 0 {
		b.BlockSize = 64
	}
}

// period is the clock period of the frequency, or 0 if the resolution cannot
// express it.
func period(r sim.Resolution, f sim.Freq) sim.Tick {
	if r <= 0 || f <= 0 {
		return 0
	}

	p := math.Round(float64(r) / float64(f))
	if p < 1 {
		return 0
	}

	return sim.Tick(p)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks that the system can be built. It returns all the problems
// it finds.
func (s *System) Validate() error {
	var errs []error

	if s.Resolution <= 0 {
		errs = append(errs, invalid("resolution must be positive"))
	}

	if s.Limit < 0 {
		errs = append(errs, invalid("limit must not be negative"))
	}

	errs = append(errs, s.validateBus()...)
	errs = append(errs, s.validateMemories()...)
	errs = append(errs, s.validateGenerators()...)
	errs = append(errs, s.validateNames()...)
	errs = append(errs, s.validateRecorder()...)

	if s.Monitor.Port < 0 {
		errs = append(errs, invalid("monitor port must not be negative"))
	}

	errs = append(errs, s.validateAnalysis()...)

	return errors.Join(errs...)
}

func (s *System) validateBus() []error {
	var errs []error

	b := s.Bus

	if b.Frequency < 0 {
		errs = append(errs,
			invalid("bus %s: frequency must not be negative", b.Name))
	}

	if b.Clock > 0 && b.Frequency > 0 &&
		b.Clock != period(s.Resolution, b.Frequency) {
		errs = append(errs,
			invalid("bus %s: clock and frequency disagree", b.Name))
	}

	if b.Clock <= 0 {
		errs = append(errs,
			invalid("bus %s: clock period must be positive", b.Name))
	}

	if b.HeaderCycles <= 0 {
		errs = append(errs,
			invalid("bus %s: header cycles must be positive", b.Name))
	}

	if b.Width <= 0 {
		errs = append(errs, invalid("bus %s: width must be positive", b.Name))
	}

	if b.BlockSize <= 0 {
		errs = append(errs,
			invalid("bus %s: block size must be positive", b.Name))
	}

	if b.BusID <= 0 {
		errs = append(errs,
			invalid("bus %s: bus id must be positive", b.Name))
	}

	return errs
}

func (s *System) validateMemories() []error {
	var errs []error

	if len(s.Memories) == 0 {
		errs = append(errs, invalid("no memory"))
	}

	for i, m := range s.Memories {
		r := mem.RangeSize(m.Start, m.Size)

		switch {
		case m.Size == 0:
			errs = append(errs, invalid("memory %s: size is zero", m.Name))
		case !r.Valid():
			errs = append(errs,
				invalid("memory %s: range wraps around", m.Name))
		case m.Size%physmem.PageBytes != 0:
			errs = append(errs, invalid(
				"memory %s: size is not a multiple of %d",
				m.Name, physmem.PageBytes))
		}

		if m.Latency < 0 || m.LatencyVar < 0 {
			errs = append(errs,
				invalid("memory %s: latency must not be negative", m.Name))
		}

		if m.BlockSize < 0 {
			errs = append(errs,
				invalid("memory %s: block size must not be negative", m.Name))
		}

		for _, other := range s.Memories[:i] {
			if r.Intersects(mem.RangeSize(other.Start, other.Size)) {
				errs = append(errs, invalid(
					"memory %s overlaps memory %s", m.Name, other.Name))
			}
		}
	}

	return errs
}

func (s *System) memoryRanges() mem.AddrRangeList {
	ranges := make(mem.AddrRangeList, 0, len(s.Memories))
	for _, m := range s.Memories {
		ranges = append(ranges, mem.RangeSize(m.Start, m.Size))
	}

	return ranges
}

func (s *System) validateGenerators() []error {
	var errs []error

	if len(s.Generators) == 0 {
		errs = append(errs, invalid("no traffic generator"))
	}

	memories := s.memoryRanges()

	for i, g := range s.Generators {
		if _, err := trafficgen.ParseMode(g.Mode); err != nil {
			errs = append(errs, invalid("generator %s: %v", g.Name, err))
		}

		if len(g.Ranges) == 0 {
			errs = append(errs,
				invalid("generator %s: no address range", g.Name))
		}

		if g.Requests < 0 {
			errs = append(errs, invalid(
				"generator %s: number of requests must not be negative",
				g.Name))
		}

		if g.Interval <= 0 {
			errs = append(errs,
				invalid("generator %s: interval must be positive", g.Name))
		}

		if g.Size <= 0 {
			errs = append(errs,
				invalid("generator %s: access size must be positive", g.Name))
		}

		if g.ReadPercent != nil && (*g.ReadPercent < 0 || *g.ReadPercent > 100) {
			errs = append(errs, invalid(
				"generator %s: read percent must be in [0, 100]", g.Name))
		}

		for _, r := range g.Ranges {
			errs = append(errs,
				s.validateGenRange(g, r.AddrRange(), memories, i)...)
		}
	}

	return errs
}

func (s *System) validateGenRange(
	g Generator,
	r mem.AddrRange,
	memories mem.AddrRangeList,
	idx int,
) []error {
	var errs []error

	if !r.Valid() || r.Size() < uint64(max(g.Size, 1)) {
		return append(errs, invalid(
			"generator %s: range %s is smaller than an access", g.Name, r))
	}

	inMemory := false

	for _, m := range memories {
		if r.IsSubsetOf(m) {
			inMemory = true
		}
	}

	if !inMemory {
		errs = append(errs, invalid(
			"generator %s: range %s is not inside one memory", g.Name, r))
	}

	for _, other := range s.Generators[:idx] {
		for _, or := range other.Ranges {
			if r.Intersects(or.AddrRange()) {
				errs = append(errs, invalid(
					"generator %s: range %s is shared with generator %s",
					g.Name, r, other.Name))
			}
		}
	}

	return errs
}

func (s *System) validateNames() []error {
	var errs []error

	seen := map[string]bool{}

	names := []string{s.Bus.Name}
	for _, m := range s.Memories {
		names = append(names, m.Name)
	}

	for _, g := range s.Generators {
		names = append(names, g.Name)
	}

	for _, name := range names {
		if err := sim.ValidateName(name); err != nil {
			errs = append(errs, invalid("%v", err))
		}

		if seen[name] {
			errs = append(errs, invalid("name %s is used twice", name))
		}

		seen[name] = true
	}

	return errs
}

func (s *System) validateRecorder() []error {
	r := s.Recorder

	switch r.Kind {
	case RecorderNone, RecorderSQLite:
		return nil
	case RecorderClickHouse:
		if r.ClickHouse.Host == "" {
			return []error{invalid("clickhouse recorder needs a host")}
		}

		if r.ClickHouse.Port <= 0 {
			return []error{invalid("clickhouse recorder needs a port")}
		}

		return nil
	default:
		return []error{invalid("unknown recorder kind %q", r.Kind)}
	}
}

func (s *System) validateAnalysis() []error {
	a := s.Analysis

	if !a.Enabled {
		return nil
	}

	var errs []error

	if a.Period < 0 {
		errs = append(errs, invalid("analysis period must not be negative"))
	}

	if a.CSV == "" && s.Recorder.Kind == RecorderNone {
		errs = append(errs,
			invalid("analysis needs a csv file or a recorder"))
	}

	return errs
}

// SetMode makes all the generators use the given access mode.
func (s *System) SetMode(mode trafficgen.Mode) {
	for i := range s.Generators {
		s.Generators[i].Mode = mode.String()
	}
}

// Save writes the system as YAML.
func (s *System) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding system: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing system %s: %w", path, err)
	}

	return nil
}
