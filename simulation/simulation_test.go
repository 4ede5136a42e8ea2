package simulation

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/mem/bus"
	"github.com/sarchlab/membus/mem/physmem"
	"github.com/sarchlab/membus/mem/trafficgen"
	"github.com/sarchlab/membus/sim"
	"github.com/sarchlab/membus/sim/checkpoint"
)

var _ = Describe("Builder", func() {
	It("should build a bare simulation", func() {
		s := MakeBuilder().WithoutMonitoring().WithoutRecording().Build()

		Expect(s.ID()).NotTo(BeEmpty())
		Expect(s.GetEventQueue()).NotTo(BeNil())
		Expect(s.GetPortRegistry()).NotTo(BeNil())
		Expect(s.GetIDGenerator().Generate()).To(Equal("1"))
		Expect(s.GetDataRecorder()).To(BeNil())
		Expect(s.GetMonitor()).To(BeNil())
		Expect(s.Terminate()).To(Succeed())
	})

	It("should not allow a monitor port without monitoring", func() {
		Expect(func() {
			MakeBuilder().WithoutMonitoring().WithMonitorPort(8080).Build()
		}).To(Panic())
	})

	It("should not allow an output file without recording", func() {
		Expect(func() {
			MakeBuilder().
				WithoutMonitoring().
				WithoutRecording().
				WithOutputFileName("out").
				Build()
		}).To(Panic())
	})

	It("should record into the custom output file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "custom")

		s := MakeBuilder().
			WithoutMonitoring().
			WithOutputFileName(path).
			Build()

		Expect(s.GetDataRecorder()).NotTo(BeNil())
		Expect(s.Terminate()).To(Succeed())

		_, err := os.Stat(path + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("Simulation", func() {
	var (
		mockCtrl *gomock.Controller
		s        *Simulation
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		s = MakeBuilder().WithoutMonitoring().WithoutRecording().Build()
	})

	AfterEach(func() {
		Expect(s.Terminate()).To(Succeed())
		mockCtrl.Finish()
	})

	It("should register objects", func() {
		obj := NewMockMemObject(mockCtrl)
		obj.EXPECT().Name().Return("obj").AnyTimes()

		s.RegisterMemObject(obj)

		Expect(s.GetMemObjectByName("obj")).To(BeIdenticalTo(obj))
		Expect(s.GetMemObjectByName("other")).To(BeNil())
		Expect(s.MemObjects()).To(HaveLen(1))
		Expect(func() { s.RegisterMemObject(obj) }).To(Panic())
	})

	It("should drain at once when nothing is in flight", func() {
		info, err := s.Drain()

		Expect(err).NotTo(HaveOccurred())
		Expect(info.Cause).To(Equal(sim.CauseDrained))
	})

	Context("with a system", func() {
		var (
			b      *bus.Bus
			memory *physmem.PhysicalMemory
			gens   []*trafficgen.TrafficGen
		)

		buildSystem := func(sys *Simulation) {
			b = bus.MakeBuilder().
				WithEventQueue(sys.GetEventQueue()).
				WithPortRegistry(sys.GetPortRegistry()).
				WithClock(1).
				Build("bus")
			memory = physmem.MakeBuilder().
				WithEventQueue(sys.GetEventQueue()).
				WithPortRegistry(sys.GetPortRegistry()).
				WithRange(mem.RangeSize(0, 0x2000)).
				WithLatency(10).
				Build("mem")
			mem.ConnectPorts(memory, "port", -1, b, "port", -1)

			sys.RegisterMemObject(b)
			sys.RegisterMemObject(memory)

			gens = nil
			for i, name := range []string{"gen0", "gen1"} {
				g := trafficgen.MakeBuilder().
					WithEventQueue(sys.GetEventQueue()).
					WithPortRegistry(sys.GetPortRegistry()).
					WithIDGenerator(sys.GetIDGenerator()).
					WithRanges(mem.RangeSize(mem.Addr(i*0x1000), 0x1000)).
					WithNumRequests(30).
					WithInterval(2).
					Build(name)
				mem.ConnectPorts(g, "port", 0, b, "port", -1)
				sys.RegisterMemObject(g)
				gens = append(gens, g)
			}
		}

		BeforeEach(func() {
			buildSystem(s)
		})

		It("should find ports by name", func() {
			Expect(s.GetPortByName("gen0-port")).
				To(BeIdenticalTo(gens[0].Port()))
			Expect(s.GetPortByName("cpu")).To(BeNil())
		})

		It("should run all the generators to completion", func() {
			info, err := s.Run(0)

			Expect(err).NotTo(HaveOccurred())
			Expect(info.Cause).To(Equal(sim.CauseQueueEmpty))

			for _, g := range gens {
				Expect(g.Done()).To(BeTrue())
				Expect(g.Stats().Mismatches).To(BeZero())
			}

			Expect(b.Stats().Transfers).To(BeNumerically(">=", 120))
		})

		It("should only be initialized once", func() {
			s.Init()

			Expect(func() { s.Init() }).To(Panic())
		})

		It("should drain and resume", func() {
			info, err := s.Run(11)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Cause).To(Equal(sim.CauseLimitReached))

			info, err = s.Drain()
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Cause).To(Equal(sim.CauseDrained))

			for _, g := range gens {
				Expect(g.Stats().Completed).To(Equal(g.Stats().Issued))
				Expect(g.Done()).To(BeFalse())
			}

			s.Resume()

			_, err = s.Run(0)
			Expect(err).NotTo(HaveOccurred())

			for _, g := range gens {
				Expect(g.Done()).To(BeTrue())
			}
		})

		It("should save and restore the objects", func() {
			_, err := s.Run(0)
			Expect(err).NotTo(HaveOccurred())

			cp := checkpoint.New()
			s.Serialize(cp)

			Expect(cp.Sections()).To(ContainElements("bus", "mem", "simulation"))

			restored := MakeBuilder().WithoutMonitoring().WithoutRecording().Build()
			defer restored.Terminate()

			written := memory.Storage().Units()
			buildSystem(restored)

			Expect(restored.Unserialize(cp)).To(Succeed())
			Expect(memory.Storage().Units()).To(Equal(written))
		})

		It("should continue from a checkpoint at the saved time", func() {
			_, err := s.Run(20)
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Drain()
			Expect(err).NotTo(HaveOccurred())

			cp := checkpoint.New()
			s.Serialize(cp)
			savedNow := s.GetEventQueue().Now()
			savedIdle := b.TickNextIdle()
			Expect(savedNow).To(BeNumerically(">=", 20))

			restored := MakeBuilder().WithoutMonitoring().WithoutRecording().Build()
			defer restored.Terminate()

			buildSystem(restored)
			Expect(restored.Unserialize(cp)).To(Succeed())

			Expect(restored.GetEventQueue().Now()).To(Equal(savedNow))
			Expect(b.TickNextIdle()).To(Equal(savedIdle))

			info, err := restored.Run(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Cause).To(Equal(sim.CauseQueueEmpty))
			Expect(info.Tick).To(BeNumerically(">", savedNow))

			for _, g := range gens {
				Expect(g.Done()).To(BeTrue())
				Expect(g.Stats().Issued).To(Equal(uint64(30)))
				Expect(g.Stats().Mismatches).To(BeZero())
			}
		})

		It("should not restore a started simulation", func() {
			_, err := s.Run(0)
			Expect(err).NotTo(HaveOccurred())

			cp := checkpoint.New()
			s.Serialize(cp)

			Expect(s.Unserialize(cp)).NotTo(Succeed())
		})
	})
})
