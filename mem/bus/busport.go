package bus

import (
	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
)

// BusPort is the port of the bus that one device connects to. It stamps the
// incoming packets with its id and hands everything to the bus.
type BusPort struct {
	*mem.Port

	bus         *Bus
	id          mem.PortID
	onRetryList bool
}

// ID returns the id of the port on the bus.
func (p *BusPort) ID() mem.PortID {
	return p.id
}

// OnRetryList tells if the port waits for a retry from the bus.
func (p *BusPort) OnRetryList() bool {
	return p.onRetryList
}

// RecvTiming passes a timing packet to the bus.
func (p *BusPort) RecvTiming(pkt *mem.Packet) bool {
	pkt.SetSrc(p.id)
	return p.bus.recvTiming(pkt)
}

// RecvAtomic passes an atomic packet to the bus.
func (p *BusPort) RecvAtomic(pkt *mem.Packet) sim.Tick {
	pkt.SetSrc(p.id)
	return p.bus.recvAtomic(pkt)
}

// RecvFunctional passes a functional packet to the bus.
func (p *BusPort) RecvFunctional(pkt *mem.Packet) {
	pkt.SetSrc(p.id)
	p.bus.recvFunctional(pkt)
}

// RecvStatusChange lets the bus update its ranges.
func (p *BusPort) RecvStatusChange(status mem.Status) {
	p.bus.recvStatusChange(status, p.id)
}

// RecvRetry lets the bus retry the waiting senders.
func (p *BusPort) RecvRetry() {
	p.bus.recvRetry(p.id)
}

// GetDeviceAddressRanges returns the addresses of all the other devices on
// the bus.
func (p *BusPort) GetDeviceAddressRanges() (mem.AddrRangeList, bool) {
	return p.bus.AddressRanges(p.id)
}

// DeviceBlockSize returns the largest block size on the bus.
func (p *BusPort) DeviceBlockSize() int {
	return p.bus.FindBlockSize(p.id)
}
