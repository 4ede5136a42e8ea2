package analysis

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/membus/datarecording"
	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/mem/bus"
	"github.com/sarchlab/membus/mem/physmem"
	"github.com/sarchlab/membus/mem/trafficgen"
	"github.com/sarchlab/membus/sim"
)

var _ = ginkgo.Describe("PerfAnalyzerBuilder", func() {
	ginkgo.It("should panic without a backend", func() {
		Expect(func() { MakePerfAnalyzerBuilder().Build() }).To(Panic())
	})

	ginkgo.It("should panic on a period that is not positive", func() {
		Expect(func() {
			MakePerfAnalyzerBuilder().
				WithBackend(NewRecorderBackend(
					datarecording.New(filepath.Join(ginkgo.GinkgoT().TempDir(), "p")),
					"perf")).
				WithPeriod(0).
				Build()
		}).To(Panic())
	})
})

var _ = ginkgo.Describe("PerfAnalyzer", func() {
	var (
		queue   *sim.EventQueue
		b       *bus.Bus
		memory  *physmem.PhysicalMemory
		gen     *trafficgen.TrafficGen
		objects []mem.MemObject
	)

	ginkgo.BeforeEach(func() {
		queue = sim.NewEventQueue("queue")
		registry := mem.NewPortRegistry(queue)

		b = bus.MakeBuilder().
			WithEventQueue(queue).
			WithPortRegistry(registry).
			WithClock(1).
			WithWidth(8).
			Build("bus")
		memory = physmem.MakeBuilder().
			WithEventQueue(queue).
			WithPortRegistry(registry).
			WithRange(mem.RangeSize(0, 0x1000)).
			WithLatency(10).
			Build("mem")
		gen = trafficgen.MakeBuilder().
			WithEventQueue(queue).
			WithPortRegistry(registry).
			WithRanges(mem.RangeSize(0, 0x1000)).
			WithNumRequests(50).
			WithInterval(2).
			Build("gen")

		mem.ConnectPorts(memory, "port", -1, b, "port", -1)
		mem.ConnectPorts(gen, "port", 0, b, "port", -1)

		objects = []mem.MemObject{b, memory, gen}
	})

	simulate := func(p *PerfAnalyzer) {
		for _, o := range objects {
			p.RegisterMemObject(o)
		}

		b.Init()
		memory.Init()
		gen.Startup()

		_, err := queue.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(gen.Done()).To(BeTrue())

		queue.Finished()
	}

	ginkgo.It("should write the traffic of every port into a CSV file", func() {
		name := filepath.Join(ginkgo.GinkgoT().TempDir(), "perf")
		backend, err := NewCSVBackend(name)
		Expect(err).NotTo(HaveOccurred())

		p := MakePerfAnalyzerBuilder().
			WithBackend(backend).
			WithEventQueue(queue).
			Build()
		simulate(p)
		Expect(backend.Close()).To(Succeed())

		f, err := os.Open(name + ".csv")
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		rows, err := csv.NewReader(f).ReadAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows[0]).To(Equal([]string{
			"Start", "End", "Where", "WhereRemote", "What", "EntryType",
			"Value", "Unit",
		}))

		end := strconv.FormatInt(int64(queue.Now()), 10)
		remote := gen.Port().Peer().Name()
		Expect(rows).To(ContainElement([]string{
			"0", end, "gen-port", remote, "Timing", "Traffic", "50", "Pkt",
		}))
		Expect(rows).To(ContainElement([]string{
			"0", end, "gen-port", remote, "Timing", "Traffic", "400",
			"Byte",
		}))
		Expect(rows).To(ContainElement(
			ContainElements("mem-port0", "Timing", "Traffic", "50", "Pkt")))
	})

	ginkgo.It("should insert the entries into a data recorder", func() {
		recorder := datarecording.New(
			filepath.Join(ginkgo.GinkgoT().TempDir(), "perf"))
		defer recorder.Close()

		p := MakePerfAnalyzerBuilder().
			WithBackend(NewRecorderBackend(recorder, "perf")).
			WithPeriod(100).
			WithEventQueue(queue).
			Build()
		simulate(p)

		Expect(recorder.ListTables()).To(ContainElement("perf"))
	})
})
