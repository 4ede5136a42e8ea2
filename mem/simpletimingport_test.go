package mem

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/membus/sim"
)

var _ = Describe("SimpleTimingPort", func() {
	var (
		mockCtrl  *gomock.Controller
		queue     *sim.EventQueue
		registry  *PortRegistry
		device    *MockAtomicDevice
		requester *MockReceiver
		reqPort   *Port
		port      *SimpleTimingPort
	)

	respondAfter := func(latency sim.Tick) func(pkt *Packet) sim.Tick {
		return func(pkt *Packet) sim.Tick {
			if pkt.IsRead() {
				pkt.Allocate()
				pkt.Data()[0] = 0x5a
			}
			pkt.MakeAtomicResponse()
			return latency
		}
	}

	newRead := func(addr Addr) *Packet {
		pkt := NewPacket(NewPhysRequest(queue, addr, 4, 0), ReadReq, Broadcast)
		pkt.SetSrc(0)
		return pkt
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		queue = sim.NewEventQueue("queue")
		registry = NewPortRegistry(queue)
		device = NewMockAtomicDevice(mockCtrl)
		requester = NewMockReceiver(mockCtrl)
		port = NewSimpleTimingPort(registry, queue, "mem.port", nil, device)
		reqPort = NewPort(registry, "cpu.port", nil, requester)
		Connect(port.Port, reqPort)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should respond after the atomic latency", func() {
		pkt := newRead(0x10)
		device.EXPECT().RecvAtomic(pkt).DoAndReturn(respondAfter(10))
		requester.EXPECT().RecvTiming(pkt).DoAndReturn(func(p *Packet) bool {
			Expect(queue.Now()).To(Equal(sim.Tick(10)))
			Expect(p.Cmd).To(Equal(ReadResp))
			return true
		})

		Expect(reqPort.SendTiming(pkt)).To(BeTrue())
		Expect(port.TransmitListLen()).To(Equal(1))

		_, err := queue.Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(port.TransmitListLen()).To(Equal(0))
	})

	It("should send responses in tick order", func() {
		slow := newRead(0x10)
		fast := newRead(0x20)
		device.EXPECT().RecvAtomic(slow).DoAndReturn(respondAfter(20))
		device.EXPECT().RecvAtomic(fast).DoAndReturn(respondAfter(10))
		first := requester.EXPECT().RecvTiming(fast).Return(true)
		requester.EXPECT().RecvTiming(slow).Return(true).After(first)

		reqPort.SendTiming(slow)
		reqPort.SendTiming(fast)
		_, err := queue.Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(queue.Now()).To(Equal(sim.Tick(20)))
	})

	It("should wait for a retry after a refused response", func() {
		pkt := newRead(0x10)
		device.EXPECT().RecvAtomic(pkt).DoAndReturn(respondAfter(5))
		refused := requester.EXPECT().RecvTiming(pkt).Return(false)

		reqPort.SendTiming(pkt)
		_, err := queue.Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(port.WaitingOnRetry()).To(BeTrue())
		Expect(port.TransmitListLen()).To(Equal(1))

		requester.EXPECT().RecvTiming(pkt).Return(true).After(refused)
		reqPort.SendRetry()

		Expect(port.WaitingOnRetry()).To(BeFalse())
		Expect(port.TransmitListLen()).To(Equal(0))
	})

	It("should drop requests that a snooper answers", func() {
		pkt := newRead(0x10)
		pkt.AssertMemInhibit()

		Expect(reqPort.SendTiming(pkt)).To(BeTrue())
		Expect(port.TransmitListLen()).To(Equal(0))
	})

	It("should answer functional reads from pending responses", func() {
		pending := newRead(0x10)
		device.EXPECT().RecvAtomic(pending).DoAndReturn(respondAfter(5))
		reqPort.SendTiming(pending)

		probe := NewPacket(NewPhysRequest(queue, 0x10, 1, 0), ReadReq, Broadcast)
		probe.SetSrc(0)
		reqPort.SendFunctional(probe)

		Expect(probe.IsResponse()).To(BeTrue())
		Expect(probe.GetUint8()).To(Equal(uint8(0x5a)))
	})

	It("should fall back to atomic access for functional packets", func() {
		probe := newRead(0x10)
		device.EXPECT().RecvAtomic(probe).DoAndReturn(respondAfter(5))

		reqPort.SendFunctional(probe)

		Expect(probe.IsResponse()).To(BeTrue())
		Expect(queue.Empty()).To(BeTrue())
	})

	It("should drain once the transmit list is empty", func() {
		Expect(port.Drain(sim.NewDrainEvent(queue))).To(Equal(0))

		pkt := newRead(0x10)
		device.EXPECT().RecvAtomic(pkt).DoAndReturn(respondAfter(5))
		requester.EXPECT().RecvTiming(pkt).Return(true)
		reqPort.SendTiming(pkt)

		de := sim.NewDrainEvent(queue)
		de.SetCount(port.Drain(de))
		Expect(de.Count()).To(Equal(1))

		info, err := queue.Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(info.Cause).To(Equal(sim.CauseDrained))
		Expect(info.Tick).To(Equal(sim.Tick(5)))
	})

	It("should forward device queries", func() {
		device.EXPECT().DeviceBlockSize().Return(64)
		device.EXPECT().GetDeviceAddressRanges().
			Return(AddrRangeList{RangeSize(0, 0x1000)}, false)
		device.EXPECT().RecvStatusChange(RangeChange)

		Expect(reqPort.PeerBlockSize()).To(Equal(64))
		ranges, _ := reqPort.GetPeerAddressRanges()
		Expect(ranges).To(HaveLen(1))
		reqPort.SendStatusChange(RangeChange)
	})
})
