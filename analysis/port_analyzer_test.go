package analysis

import (
	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
)

type testClock struct {
	now sim.Tick
}

func (c *testClock) Now() sim.Tick {
	return c.now
}

type stubReceiver struct {
	mem.ReceiverBase
	accept bool
}

func (r *stubReceiver) RecvTiming(*mem.Packet) bool { return r.accept }
func (r *stubReceiver) RecvAtomic(*mem.Packet) sim.Tick { return 10 }
func (r *stubReceiver) RecvFunctional(*mem.Packet) {}
func (r *stubReceiver) RecvStatusChange(mem.Status) {}
func (r *stubReceiver) RecvRetry() {}

type entryCollector struct {
	entries []Entry
}

func (c *entryCollector) AddDataEntry(entry Entry) {
	c.entries = append(c.entries, entry)
}

var _ = ginkgo.Describe("PortAnalyzer", func() {
	var (
		clock     *testClock
		collector *entryCollector
		recvB     *stubReceiver
		a, b      *mem.Port
		analyzer  *PortAnalyzer
	)

	newPacket := func() *mem.Packet {
		return mem.NewPacket(mem.NewPhysRequest(nil, 0x40, 8, 0),
			mem.ReadReq, mem.Broadcast)
	}

	traffic := func(start, end int64, what string, bytes, pkts float64) []Entry {
		entry := Entry{
			Start:       start,
			End:         end,
			Where:       "a",
			WhereRemote: "b",
			What:        what,
			EntryType:   "Traffic",
			Value:       bytes,
			Unit:        "Byte",
		}
		pktEntry := entry
		pktEntry.Value = pkts
		pktEntry.Unit = "Pkt"

		return []Entry{entry, pktEntry}
	}

	attach := func(usePeriod bool, period sim.Tick) {
		analyzer = &PortAnalyzer{
			PerfLogger: collector,
			port:       a,
			usePeriod:  usePeriod,
			period:     period,
			traffic:    make(map[trafficKey]trafficCount),
		}
		a.AcceptHook(analyzer)
	}

	ginkgo.BeforeEach(func() {
		clock = &testClock{}
		collector = &entryCollector{}
		registry := mem.NewPortRegistry(clock)
		recvB = &stubReceiver{accept: true}
		a = mem.NewPort(registry, "a", nil, &stubReceiver{accept: true})
		b = mem.NewPort(registry, "b", nil, recvB)
		mem.Connect(a, b)
	})

	ginkgo.It("should count each kind of traffic", func() {
		attach(false, 0)

		clock.now = 5
		a.SendTiming(newPacket())

		recvB.accept = false
		a.SendTiming(newPacket())
		b.SendRetry()

		recvB.accept = true
		a.SendTiming(newPacket())
		a.SendAtomic(newPacket())
		a.SendFunctional(newPacket())

		analyzer.finish(100)

		var expected []Entry
		expected = append(expected, traffic(0, 100, TrafficAtomic, 8, 1)...)
		expected = append(expected, traffic(0, 100, TrafficFunctional, 8, 1)...)
		expected = append(expected, traffic(0, 100, TrafficRefused, 8, 1)...)
		expected = append(expected, traffic(0, 100, TrafficTiming, 16, 2)...)

		Expect(collector.entries).To(Equal(expected))
	})

	ginkgo.It("should report the traffic of each period", func() {
		attach(true, 100)

		clock.now = 10
		a.SendTiming(newPacket())
		clock.now = 150
		a.SendTiming(newPacket())
		a.SendTiming(newPacket())

		Expect(collector.entries).To(Equal(
			traffic(0, 100, TrafficTiming, 8, 1)))

		analyzer.finish(180)

		Expect(collector.entries[2:]).To(Equal(
			traffic(100, 180, TrafficTiming, 16, 2)))
	})

	ginkgo.It("should ignore the hooks of other positions", func() {
		attach(false, 0)

		analyzer.Func(sim.HookCtx{
			Now:  10,
			Pos:  mem.HookPosPortRetry,
			Item: newPacket(),
		})
		analyzer.finish(20)

		Expect(collector.entries).To(BeEmpty())
	})
})
