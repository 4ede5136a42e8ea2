package mem

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/sim"
)

// AtomicDevice is the device behind a SimpleTimingPort. The port turns the
// atomic accesses of the device into timing responses.
type AtomicDevice interface {
	// RecvAtomic performs the access, turns the packet into its response if
	// needed, and returns the latency.
	RecvAtomic(pkt *Packet) sim.Tick
	RecvStatusChange(status Status)
	DeviceBlockSize() int
	GetDeviceAddressRanges() (ranges AddrRangeList, snoop bool)
}

// FunctionalDevice is an AtomicDevice that has its own functional path. A
// functional access must not leave side effects such as load-locked records.
type FunctionalDevice interface {
	AtomicDevice
	RecvFunctional(pkt *Packet)
}

type deferredPacket struct {
	tick sim.Tick
	pkt  *Packet
}

// SimpleTimingPort is a responder port. It answers a timing request with the
// response of the atomic access after the atomic latency, and holds the
// responses in a transmit list ordered by tick until they are sent.
type SimpleTimingPort struct {
	*Port

	device AtomicDevice
	queue  sim.EventScheduler

	transmitList   []deferredPacket
	sendEvent      *sim.FuncEvent
	waitingOnRetry bool
	drainEvent     *sim.DrainEvent
}

// NewSimpleTimingPort creates a SimpleTimingPort.
func NewSimpleTimingPort(
	registry *PortRegistry,
	queue sim.EventScheduler,
	name string,
	owner MemObject,
	device AtomicDevice,
) *SimpleTimingPort {
	p := &SimpleTimingPort{
		device: device,
		queue:  queue,
	}
	p.Port = NewPort(registry, name, owner, p)
	p.sendEvent = sim.NewFuncEvent(name+" send", sim.DefaultPri,
		p.processSendEvent)

	return p
}

// TransmitListLen returns the number of responses waiting to be sent.
func (p *SimpleTimingPort) TransmitListLen() int {
	return len(p.transmitList)
}

// WaitingOnRetry tells if the last response was refused.
func (p *SimpleTimingPort) WaitingOnRetry() bool {
	return p.waitingOnRetry
}

// CheckFunctional lets a functional access see the responses that are not
// delivered yet. It returns true if the access is complete.
func (p *SimpleTimingPort) CheckFunctional(pkt *Packet) bool {
	for _, dp := range p.transmitList {
		target := dp.pkt
		if !target.HasDataBuffer() {
			continue
		}

		if pkt.CheckFunctional(target, target.Addr(), target.Data()) {
			return true
		}
	}

	return false
}

// RecvFunctional checks the transmit list first. The device then completes
// the access, through its functional path if it has one, or atomically with
// the latency discarded.
func (p *SimpleTimingPort) RecvFunctional(pkt *Packet) {
	if p.CheckFunctional(pkt) {
		return
	}

	if fd, ok := p.device.(FunctionalDevice); ok {
		fd.RecvFunctional(pkt)
		return
	}

	p.device.RecvAtomic(pkt)
}

// RecvAtomic forwards the access to the device.
func (p *SimpleTimingPort) RecvAtomic(pkt *Packet) sim.Tick {
	return p.device.RecvAtomic(pkt)
}

// RecvStatusChange forwards the notification to the device.
func (p *SimpleTimingPort) RecvStatusChange(status Status) {
	p.device.RecvStatusChange(status)
}

// DeviceBlockSize returns the block size of the device.
func (p *SimpleTimingPort) DeviceBlockSize() int {
	return p.device.DeviceBlockSize()
}

// GetDeviceAddressRanges returns the ranges of the device.
func (p *SimpleTimingPort) GetDeviceAddressRanges() (AddrRangeList, bool) {
	return p.device.GetDeviceAddressRanges()
}

// RecvTiming accepts every request. If a response is needed, it is sent
// after the latency of the atomic access.
func (p *SimpleTimingPort) RecvTiming(pkt *Packet) bool {
	if !pkt.IsRequest() {
		logrus.Panicf("%s: received %s, expecting a request", p.Name(), pkt)
	}

	if pkt.MemInhibitAsserted() {
		return true
	}

	needsResponse := pkt.NeedsResponse()
	latency := p.device.RecvAtomic(pkt)

	if needsResponse {
		if !pkt.IsResponse() {
			logrus.Panicf("%s: device did not respond to %s", p.Name(), pkt)
		}

		p.SchedSendTiming(pkt, p.queue.Now()+latency)
	}

	return true
}

// SchedSendTiming puts a packet in the transmit list to be sent at when.
func (p *SimpleTimingPort) SchedSendTiming(pkt *Packet, when sim.Tick) {
	if when < p.queue.Now() {
		logrus.Panicf("%s: sending %s in the past", p.Name(), pkt)
	}

	dp := deferredPacket{tick: when, pkt: pkt}

	if len(p.transmitList) == 0 || when < p.transmitList[0].tick {
		p.transmitList = append([]deferredPacket{dp}, p.transmitList...)
		p.schedSendEvent(when)

		return
	}

	i := len(p.transmitList)
	for i > 0 && p.transmitList[i-1].tick > when {
		i--
	}

	p.transmitList = append(p.transmitList, deferredPacket{})
	copy(p.transmitList[i+1:], p.transmitList[i:])
	p.transmitList[i] = dp
}

func (p *SimpleTimingPort) schedSendEvent(when sim.Tick) {
	if p.waitingOnRetry {
		return
	}

	if !p.sendEvent.Scheduled() {
		p.queue.Schedule(p.sendEvent, when)
	} else if p.sendEvent.Time() > when {
		p.queue.Reschedule(p.sendEvent, when, false)
	}
}

func (p *SimpleTimingPort) deferredPacketReady() bool {
	return len(p.transmitList) > 0 &&
		p.transmitList[0].tick <= p.queue.Now()
}

func (p *SimpleTimingPort) sendDeferredPacket() {
	if !p.deferredPacketReady() {
		logrus.Panicf("%s: no response is ready to send", p.Name())
	}

	dp := p.transmitList[0]
	p.transmitList = p.transmitList[1:]

	success := p.SendTiming(dp.pkt)
	if success {
		if len(p.transmitList) > 0 && !p.sendEvent.Scheduled() {
			t := p.transmitList[0].tick
			if t <= p.queue.Now() {
				t = p.queue.Now() + 1
			}

			p.queue.Schedule(p.sendEvent, t)
		}

		if len(p.transmitList) == 0 && p.drainEvent != nil {
			de := p.drainEvent
			p.drainEvent = nil
			de.Process()
		}
	} else {
		p.transmitList = append([]deferredPacket{dp}, p.transmitList...)
	}

	p.waitingOnRetry = !success
	if p.waitingOnRetry {
		logrus.WithField("port", p.Name()).Debug("send failed, waiting on retry")
	}
}

// RecvRetry sends the refused response again.
func (p *SimpleTimingPort) RecvRetry() {
	if !p.waitingOnRetry {
		logrus.Panicf("%s: retry received while not waiting", p.Name())
	}

	p.sendDeferredPacket()
}

func (p *SimpleTimingPort) processSendEvent() {
	if p.waitingOnRetry {
		logrus.Panicf("%s: send event while waiting on retry", p.Name())
	}

	p.sendDeferredPacket()
}

// Drain returns 1 if responses are waiting to be sent. It processes the
// drain event once the transmit list is empty.
func (p *SimpleTimingPort) Drain(de *sim.DrainEvent) int {
	if len(p.transmitList) == 0 {
		return 0
	}

	p.drainEvent = de

	return 1
}
