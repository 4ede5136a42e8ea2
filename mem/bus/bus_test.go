package bus

import (
	"errors"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"go.uber.org/mock/gomock"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
	"github.com/sarchlab/membus/sim/checkpoint"
)

var _ = Describe("Builder", func() {
	var (
		queue    *sim.EventQueue
		registry *mem.PortRegistry
		builder  Builder
	)

	BeforeEach(func() {
		queue = sim.NewEventQueue("queue")
		registry = mem.NewPortRegistry(queue)
		builder = MakeBuilder().
			WithEventQueue(queue).
			WithPortRegistry(registry)
	})

	It("should build with the default parameters", func() {
		b := builder.Build("bus")

		Expect(b.Name()).To(Equal("bus"))
		Expect(b.Params()).To(Equal(DefaultParams()))
	})

	It("should reject parameters that are not positive", func() {
		Expect(func() { builder.WithWidth(0).Build("bus") }).To(Panic())
		Expect(func() { builder.WithClock(0).Build("bus") }).To(Panic())
		Expect(func() { builder.WithHeaderCycles(0).Build("bus") }).To(Panic())
		Expect(func() { builder.WithBlockSize(-1).Build("bus") }).To(Panic())
		Expect(func() { builder.WithBusID(-1).Build("bus") }).To(Panic())
		Expect(func() { builder.WithBusID(0).Build("bus") }).To(Panic())
	})

	It("should require an event queue and a port registry", func() {
		Expect(func() {
			MakeBuilder().WithPortRegistry(registry).Build("bus")
		}).To(Panic())
		Expect(func() {
			MakeBuilder().WithEventQueue(queue).Build("bus")
		}).To(Panic())
	})
})

var _ = Describe("Bus", func() {
	var (
		queue    *sim.EventQueue
		registry *mem.PortRegistry
		b        *Bus
		rec      *transferRecorder
	)

	rangeA := mem.AddrRange{Start: 0x1000, End: 0x2000}
	rangeB := mem.AddrRange{Start: 0x2000, End: 0x3000}

	attach := func(name string, ranges ...mem.AddrRange) *testDevice {
		d := newTestDevice(registry, queue, name, ranges...)
		mem.Connect(d.port, b.GetPort("port", -1))

		return d
	}

	attachSnooper := func(
		ctrl *gomock.Controller,
		name string,
	) *MockReceiver {
		snooper := NewMockReceiver(ctrl)
		snooper.EXPECT().
			GetDeviceAddressRanges().
			Return(nil, true).
			AnyTimes()
		snooper.EXPECT().DeviceBlockSize().Return(0).AnyTimes()
		snooper.EXPECT().RecvStatusChange(gomock.Any()).AnyTimes()

		port := mem.NewPort(registry, name+".port", nil, snooper)
		mem.Connect(port, b.GetPort("port", -1))

		return snooper
	}

	idOf := func(d *testDevice) mem.PortID {
		return d.port.Peer().Receiver().(*BusPort).ID()
	}

	read := func(addr mem.Addr) *mem.Packet {
		req := mem.NewPhysRequest(queue, addr, 4, 0)
		return mem.NewPacket(req, mem.ReadReq, mem.Broadcast)
	}

	write := func(addr mem.Addr, size int) *mem.Packet {
		req := mem.NewPhysRequest(queue, addr, size, 0)
		pkt := mem.NewPacket(req, mem.WriteReq, mem.Broadcast)
		pkt.Allocate()

		return pkt
	}

	at := func(when sim.Tick, f func()) {
		queue.Schedule(sim.NewFuncEvent("test", sim.DefaultPri, f), when)
	}

	run := func() sim.ExitInfo {
		info, err := queue.Run()
		Expect(err).NotTo(HaveOccurred())

		return info
	}

	BeforeEach(func() {
		queue = sim.NewEventQueue("queue")
		registry = mem.NewPortRegistry(queue)
		b = MakeBuilder().
			WithEventQueue(queue).
			WithPortRegistry(registry).
			WithClock(1).
			WithHeaderCycles(1).
			WithWidth(8).
			Build("bus")
		rec = &transferRecorder{}
		b.AcceptHook(rec)
	})

	Context("ports", func() {
		It("should give new ports increasing ids", func() {
			p0 := b.GetPort("port", -1)
			p1 := b.GetPort("port", -1)

			Expect(p0.Name()).To(Equal("bus-p0"))
			Expect(p1.Name()).To(Equal("bus-p1"))
			Expect(p1.Receiver().(*BusPort).ID()).To(Equal(mem.PortID(1)))
			Expect(b.Ports()).To(HaveLen(2))
		})

		It("should create the default port once", func() {
			p := b.GetPort("default", -1)

			Expect(p.Receiver().(*BusPort).ID()).To(Equal(DefaultID))
			Expect(func() { b.GetPort("default", -1) }).To(Panic())
		})

		It("should reuse the functional port", func() {
			p := b.GetPort("functional", -1)

			Expect(b.GetPort("functional", -1)).To(BeIdenticalTo(p))
			Expect(p.Name()).To(Equal("bus-p0-func"))
		})

		It("should forget a disconnected port", func() {
			devA := attach("a", rangeA)
			devB := attach("b", rangeB)
			b.Init()
			idB := idOf(devB)
			numPorts := registry.Len()

			devB.port.RemoveConn()

			Expect(b.PortByID(idB)).To(BeNil())
			Expect(registry.Len()).To(Equal(numPorts - 1))
			Expect(b.FindPort(0x1500)).To(Equal(idOf(devA)))
			Expect(func() { b.FindPort(0x2500) }).To(Panic())
		})

		It("should keep the functional port when it is disconnected", func() {
			fp := mem.NewFunctionalPort(registry, "fp", nil)
			busPort := b.GetPort("functional", -1)
			mem.Connect(fp.Port, busPort)

			fp.RemoveConn()

			Expect(b.GetPort("functional", -1)).To(BeIdenticalTo(busPort))
		})
	})

	Context("routing", func() {
		var devA, devB *testDevice

		BeforeEach(func() {
			devA = attach("a", rangeA)
			devB = attach("b", rangeB)
		})

		It("should find the port of an address", func() {
			b.Init()

			for a := rangeA.Start; a < rangeA.End; a += 0x100 {
				Expect(b.FindPort(a)).To(Equal(idOf(devA)))
			}

			Expect(b.FindPort(0x1fff)).To(Equal(idOf(devA)))
			Expect(b.FindPort(0x2000)).To(Equal(idOf(devB)))
			Expect(b.FindPort(0x2fff)).To(Equal(idOf(devB)))
		})

		It("should panic if no port responds and there is no default", func() {
			b.Init()

			Expect(func() { b.FindPort(0x3000) }).To(Panic())
		})

		It("should use the default port for unknown addresses", func() {
			def := newTestDevice(registry, queue, "default")
			mem.Connect(def.port, b.GetPort("default", -1))
			b.Init()

			Expect(b.FindPort(0x3000)).To(Equal(DefaultID))
			Expect(b.FindPort(0x1500)).To(Equal(idOf(devA)))
		})

		It("should panic on two devices with overlapping ranges", func() {
			attach("c", mem.AddrRange{Start: 0x1800, End: 0x2800})

			Expect(func() { b.Init() }).To(Panic())
		})

		It("should agree with the uncached lookup", func() {
			devC := attach("c", mem.AddrRange{Start: 0x8000, End: 0x8100})
			def := newTestDevice(registry, queue, "default")
			mem.Connect(def.port, b.GetPort("default", -1))
			b.Init()

			uncached := func(a mem.Addr) mem.PortID {
				if _, id, ok := b.portMap.Find(a); ok {
					return id
				}

				return DefaultID
			}

			r := rand.New(rand.NewSource(1))
			hits := 0

			for i := 0; i < 2000; i++ {
				a := mem.Addr(r.Intn(0x9000))

				_, cached := b.portCache.Lookup(
					func(k mem.AddrRange) bool { return k.Contains(a) })
				if cached {
					hits++
				}

				Expect(b.FindPort(a)).To(Equal(uncached(a)))
				Expect(b.portCache.Len()).To(BeNumerically("<=", 3))
			}

			Expect(hits).To(BeNumerically(">", 0))

			for _, d := range []*testDevice{devA, devB, devC} {
				id := idOf(d)
				Expect(b.lookupPort(id)).To(BeIdenticalTo(b.interfaces[id]))
			}
		})

		It("should update the ranges when a device changes them", func() {
			r := attach("r")
			b.Init()
			Expect(b.FindPort(0x1500)).To(Equal(idOf(devA)))
			changesB := devB.statusChanges
			changesR := r.statusChanges

			devA.ranges = mem.AddrRangeList{{Start: 0x4000, End: 0x5000}}
			devA.port.SendStatusChange(mem.RangeChange)

			Expect(b.FindPort(0x4800)).To(Equal(idOf(devA)))
			Expect(func() { b.FindPort(0x1500) }).To(Panic())
			Expect(devB.statusChanges).To(Equal(changesB + 1))
			Expect(r.statusChanges).To(Equal(changesR + 1))
		})

		It("should report the ranges of the other ports", func() {
			snooper := attach("s")
			snooper.snoop = true
			b.Init()

			ranges, snoop := b.AddressRanges(idOf(devA))
			Expect(ranges).To(Equal(mem.AddrRangeList{rangeB}))
			Expect(snoop).To(BeTrue())

			ranges, snoop = snooper.port.GetPeerAddressRanges()
			Expect(ranges).To(Equal(mem.AddrRangeList{rangeA, rangeB}))
			Expect(snoop).To(BeFalse())
		})

		It("should report the largest block size", func() {
			r := attach("r")
			b.Init()

			Expect(r.port.PeerBlockSize()).To(Equal(64))

			devA.blockSize = 32
			devB.blockSize = 128
			Expect(r.port.PeerBlockSize()).To(Equal(64))

			devA.port.SendStatusChange(mem.RangeChange)
			Expect(r.port.PeerBlockSize()).To(Equal(128))
		})
	})

	Context("with a default responder", func() {
		var def *testDevice

		BeforeEach(func() {
			b = MakeBuilder().
				WithEventQueue(queue).
				WithPortRegistry(registry).
				WithClock(1).
				WithResponderSet(true).
				Build("bus")
			def = newTestDevice(registry, queue, "default",
				mem.AddrRange{Start: 0, End: 0x10000})
			mem.Connect(def.port, b.GetPort("default", -1))
		})

		It("should route the default ranges to the default port", func() {
			attach("a", rangeA)
			b.Init()

			Expect(b.FindPort(0x5000)).To(Equal(DefaultID))
			Expect(func() { b.FindPort(0x20000) }).To(Panic())
		})

		It("should hide the ranges inside the default ranges", func() {
			devA := attach("a", rangeA)
			r := attach("r")
			b.Init()

			ranges, _ := b.AddressRanges(idOf(r))
			Expect(ranges).To(Equal(mem.AddrRangeList{{Start: 0, End: 0x10000}}))

			ranges, _ = b.AddressRanges(idOf(devA))
			Expect(ranges).To(HaveLen(1))
		})

		It("should panic on ranges that cross the default ranges", func() {
			r := attach("r")
			attach("a", mem.AddrRange{Start: 0xf000, End: 0x11000})
			b.Init()

			Expect(func() { b.AddressRanges(idOf(r)) }).To(Panic())
		})
	})

	Context("timing", func() {
		var devA, devB *testDevice

		BeforeEach(func() {
			devA = attach("a", rangeA)
			devB = attach("b", rangeB)
		})

		It("should route two packets sent in the same tick", func() {
			r1 := attach("r1")
			r2 := attach("r2")
			b.Init()
			pkt1 := read(0x1500)
			pkt2 := read(0x2500)

			Expect(r1.issue(pkt1)).To(BeTrue())
			Expect(r2.issue(pkt2)).To(BeFalse())
			run()

			Expect(devA.timing).To(HaveLen(1))
			Expect(devA.timing[0].pkt).To(BeIdenticalTo(pkt1))
			Expect(devA.timing[0].tick).To(Equal(sim.Tick(0)))
			Expect(devB.timing).To(HaveLen(1))
			Expect(devB.timing[0].pkt).To(BeIdenticalTo(pkt2))
			Expect(devB.timing[0].tick).To(Equal(sim.Tick(1)))
			Expect(r2.retries).To(Equal(1))
			Expect(b.TickNextIdle()).To(BeNumerically(">=", pkt1.FinishTime))
			Expect(b.TickNextIdle()).To(BeNumerically(">=", pkt2.FinishTime))
			Expect(b.TickNextIdle()).To(Equal(sim.Tick(2)))
		})

		It("should not accept until the sender is retried once", func() {
			r := attach("r")
			b.Init()
			devB.refuseTiming = 1
			at(1, func() { devB.port.SendRetry() })
			pkt := read(0x2500)

			Expect(r.issue(pkt)).To(BeFalse())
			Expect(b.RetryList()).To(Equal([]mem.PortID{idOf(r)}))
			run()

			Expect(r.retries).To(Equal(1))
			Expect(r.accepted).To(HaveLen(1))
			Expect(r.accepted[0].tick).To(Equal(sim.Tick(1)))
			Expect(devB.timing).To(HaveLen(1))
			Expect(b.RetryListLen()).To(Equal(0))
		})

		It("should keep a failed retry at the head of the list", func() {
			r1 := attach("r1")
			r3 := attach("r3")
			b.Init()
			devB.refuseTiming = 1
			pkt1 := write(0x2000, 4)
			pkt3 := write(0x2100, 4)
			at(2, func() { Expect(r3.issue(pkt3)).To(BeFalse()) })
			at(5, func() { devB.port.SendRetry() })

			Expect(r1.issue(pkt1)).To(BeFalse())
			run()

			Expect(devB.timing).To(HaveLen(2))
			Expect(devB.timing[0].pkt).To(BeIdenticalTo(pkt1))
			Expect(devB.timing[0].tick).To(Equal(sim.Tick(5)))
			Expect(devB.timing[1].pkt).To(BeIdenticalTo(pkt3))
			Expect(devB.timing[1].tick).To(Equal(sim.Tick(7)))
			Expect(r1.retries).To(Equal(2))
			Expect(r3.retries).To(Equal(1))
			Expect(b.Stats().Refusals).To(Equal(uint64(3)))
			Expect(rec.refusals[1].Reason).To(Equal("destination waiting for retry"))
		})

		It("should never overlap two transfers", func() {
			requesters := []*testDevice{
				attach("r0"), attach("r1"), attach("r2"), attach("r3"),
			}
			b.Init()

			for i, r := range requesters {
				r.issue(write(rangeA.Start+mem.Addr(i*64), 64))
			}

			run()

			Expect(rec.transfers).To(HaveLen(4))
			Expect(devA.timing).To(HaveLen(4))

			for i := range rec.transfers {
				Expect(rec.transfers[i].Src).To(Equal(idOf(requesters[i])))
				Expect(rec.transfers[i].Finish - rec.transfers[i].Start).
					To(Equal(sim.Tick(9)))

				if i > 0 {
					Expect(rec.transfers[i].Start).
						To(BeNumerically(">=", rec.transfers[i-1].Finish))
				}
			}

			Expect(b.Stats().Transfers).To(Equal(uint64(4)))
			Expect(b.Stats().BusyTicks).To(Equal(sim.Tick(36)))
		})

		It("should give the bus away if the retried port does not send", func() {
			r1 := attach("r1")
			r2 := attach("r2")
			b.Init()
			r2.resendOnRetry = false

			r1.issue(read(0x1500))
			r2.issue(read(0x1600))
			run()

			Expect(r2.retries).To(Equal(1))
			Expect(r2.port.Blocked()).To(BeFalse())
			Expect(b.RetryListLen()).To(Equal(0))
			Expect(b.Stats().MissedGrants).To(Equal(uint64(1)))
			Expect(b.TickNextIdle()).To(Equal(sim.Tick(2)))
		})

		It("should deliver responses to the requester", func() {
			r := attach("r")
			b.Init()
			devA.onTiming = func(pkt *mem.Packet) {
				at(queue.Now()+10, func() {
					pkt.MakeTimingResponse()
					pkt.Allocate()
					Expect(devA.port.SendTiming(pkt)).To(BeTrue())
				})
			}
			pkt := read(0x1500)

			r.issue(pkt)
			run()

			Expect(r.timing).To(HaveLen(1))
			Expect(r.timing[0].tick).To(Equal(sim.Tick(10)))
			Expect(pkt.Cmd).To(Equal(mem.ReadResp))
			Expect(pkt.FinishTime).To(Equal(sim.Tick(12)))
		})

		It("should show packets to snoopers before the target", func() {
			r := attach("r")
			snooper := attach("s")
			snooper.snoop = true
			b.Init()
			var order []string
			snooper.onTiming = func(*mem.Packet) { order = append(order, "s") }
			devA.onTiming = func(*mem.Packet) { order = append(order, "a") }

			r.issue(read(0x1500))

			Expect(order).To(Equal([]string{"s", "a"}))
		})

		It("should not show a packet to the snooper that sent it", func() {
			snooper := attach("s")
			snooper.snoop = true
			b.Init()

			snooper.issue(read(0x1500))

			Expect(snooper.timing).To(BeEmpty())
			Expect(devA.timing).To(HaveLen(1))
		})

		It("should panic if a snooper refuses", func() {
			mockCtrl := gomock.NewController(GinkgoT())
			defer mockCtrl.Finish()

			r := attach("r")
			snooper := attachSnooper(mockCtrl, "s")
			snooper.EXPECT().RecvTiming(gomock.Any()).Return(false)
			b.Init()

			Expect(func() { r.issue(read(0x1500)) }).To(Panic())
		})
	})

	Context("atomic", func() {
		var devA, devB, r *testDevice

		BeforeEach(func() {
			devA = attach("a", rangeA)
			devB = attach("b", rangeB)
			r = attach("r")
		})

		It("should return the latency of the target", func() {
			b.Init()
			devB.atomicLatency = 30
			pkt := read(0x2500)

			Expect(r.port.SendAtomic(pkt)).To(Equal(sim.Tick(30)))
			Expect(pkt.IsResponse()).To(BeTrue())
			Expect(pkt.FinishTime).To(Equal(sim.Tick(30)))
			Expect(devB.atomic).To(HaveLen(1))
			Expect(devA.atomic).To(BeEmpty())
		})

		It("should use the response of a snooper", func() {
			mockCtrl := gomock.NewController(GinkgoT())
			defer mockCtrl.Finish()

			snooper := attachSnooper(mockCtrl, "s")
			snooper.EXPECT().
				RecvAtomic(gomock.Any()).
				DoAndReturn(func(pkt *mem.Packet) sim.Tick {
					pkt.AssertMemInhibit()
					pkt.MakeAtomicResponse()

					return 5
				})
			devB.atomicLatency = 30
			b.Init()
			pkt := read(0x2500)

			Expect(r.port.SendAtomic(pkt)).To(Equal(sim.Tick(5)))
			Expect(pkt.Cmd).To(Equal(mem.ReadResp))
			Expect(devB.atomic).To(HaveLen(1))
			Expect(pkt.MemInhibitAsserted()).To(BeTrue())
		})

		It("should not snoop the source", func() {
			snooper := attach("s")
			snooper.snoop = true
			b.Init()

			snooper.port.SendAtomic(read(0x1500))

			Expect(snooper.atomic).To(BeEmpty())
			Expect(devA.atomic).To(HaveLen(1))
			Expect(b.Stats().AtomicAccesses).To(Equal(uint64(1)))
		})
	})

	Context("functional", func() {
		var devA, snooper, r *testDevice

		BeforeEach(func() {
			devA = attach("a", rangeA)
			snooper = attach("s")
			snooper.snoop = true
			r = attach("r")
			b.Init()
		})

		It("should deliver to the snoopers and then to the target", func() {
			pkt := read(0x1500)

			r.port.SendFunctional(pkt)

			Expect(snooper.functional).To(HaveLen(1))
			Expect(devA.functional).To(HaveLen(1))
			Expect(queue.Now()).To(Equal(sim.Tick(0)))
			Expect(queue.Empty()).To(BeTrue())
		})

		It("should stop once a snooper satisfies the access", func() {
			snooper.onFunctional = func(pkt *mem.Packet) {
				pkt.Allocate()
				pkt.Data()[0] = 7
				pkt.MakeResponse()
			}

			for i := 0; i < 2; i++ {
				pkt := read(0x1500)
				r.port.SendFunctional(pkt)

				Expect(pkt.IsResponse()).To(BeTrue())
				Expect(pkt.Data()[0]).To(Equal(uint8(7)))
			}

			Expect(devA.functional).To(BeEmpty())
			Expect(queue.Now()).To(Equal(sim.Tick(0)))
			Expect(b.TickNextIdle()).To(Equal(sim.Tick(0)))
		})
	})

	Context("drain", func() {
		It("should be drained when idle", func() {
			Expect(b.Drain(sim.NewDrainEvent(queue))).To(Equal(0))
		})

		It("should finish the drain when the bus becomes idle", func() {
			attach("a", rangeA)
			r := attach("r")
			b.Init()
			r.issue(write(0x1000, 4))

			de := sim.NewDrainEvent(queue)
			de.SetCount(b.Drain(de))
			Expect(de.Count()).To(Equal(1))

			info := run()

			Expect(info.Cause).To(Equal(sim.CauseDrained))
			Expect(info.Tick).To(Equal(sim.Tick(2)))
		})
	})

	Context("startup", func() {
		It("should move the idle tick to the next edge", func() {
			at(5, func() {})
			run()

			b.Startup()

			Expect(b.TickNextIdle()).To(Equal(sim.Tick(6)))
		})
	})

	Context("checkpoint", func() {
		It("should save and restore the retry list", func() {
			attach("a", rangeA)
			r1 := attach("r1")
			r2 := attach("r2")
			b.Init()
			r1.issue(read(0x1500))
			r2.issue(read(0x1600))

			cp := checkpoint.New()
			b.Serialize(cp, "bus")

			queue2 := sim.NewEventQueue("queue2")
			registry2 := mem.NewPortRegistry(queue2)
			b2 := MakeBuilder().
				WithEventQueue(queue2).
				WithPortRegistry(registry2).
				WithClock(1).
				Build("bus")
			for i := 0; i < 3; i++ {
				b2.GetPort("port", -1)
			}

			Expect(b2.Unserialize(cp, "bus")).To(Succeed())
			Expect(b2.TickNextIdle()).To(Equal(sim.Tick(1)))
			Expect(b2.RetryList()).To(Equal([]mem.PortID{idOf(r2)}))
			Expect(b2.PortByID(idOf(r2)).OnRetryList()).To(BeTrue())
			Expect(b2.InRetry()).To(BeFalse())
			Expect(queue2.NextTick()).To(Equal(sim.Tick(1)))
		})

		It("should refuse to save while granting a retry", func() {
			attach("a", rangeA)
			r1 := attach("r1")
			r2 := attach("r2")
			b.Init()
			r1.issue(read(0x1500))
			r2.issue(read(0x1600))
			r2.onRetry = func() {
				b.Serialize(checkpoint.New(), "bus")
			}

			Expect(func() { run() }).To(Panic())
		})

		It("should not save the retry grant", func() {
			attach("a", rangeA)
			b.Init()

			cp := checkpoint.New()
			b.Serialize(cp, "bus")

			_, err := cp.Get("bus", "inRetry")
			Expect(errors.Is(err, checkpoint.ErrMissingKey)).To(BeTrue())
		})

		It("should fail on unknown ports", func() {
			cp := checkpoint.New()
			cp.SetTick("bus", "tickNextIdle", 0)
			cp.SetInts("bus", "retryList", []int{4})

			Expect(b.Unserialize(cp, "bus")).NotTo(Succeed())
		})

		It("should fail on missing sections", func() {
			err := b.Unserialize(checkpoint.New(), "bus")

			Expect(errors.Is(err, checkpoint.ErrMissingKey)).To(BeTrue())
		})
	})
})
