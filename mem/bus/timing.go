package bus

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
)

func (b *Bus) recvTiming(pkt *mem.Packet) bool {
	src := pkt.Src()
	srcPort := b.mustLookupPort(src)
	now := b.queue.Now()

	if b.tickNextIdle > now {
		b.refuse(pkt, srcPort, "busy")
		return false
	}

	if len(b.retryList) > 0 && (!b.inRetry || srcPort != b.retryList[0]) {
		b.refuse(pkt, srcPort, "others waiting")
		return false
	}

	destID, destPort := b.route(pkt)

	if destPort.Blocked() {
		if pkt.IsResponse() {
			logrus.Panicf("%s: cannot deliver %s, port %s is waiting "+
				"for a retry", b.Name(), pkt, destPort.Name())
		}

		b.refuse(pkt, srcPort, "destination waiting for retry")

		return false
	}

	headerTime := b.preparePacket(pkt)
	start := headerTime - b.clock.Cycles(b.params.HeaderCycles)
	finish := pkt.FinishTime

	if pkt.Dest() == mem.Broadcast {
		b.snoopTiming(pkt, srcPort, destPort)
	}

	if destID != src {
		if !destPort.SendTiming(pkt) {
			if pkt.IsResponse() {
				logrus.Panicf("%s: response %s refused by %s",
					b.Name(), pkt, destPort.Name())
			}

			if pkt.MemInhibitAsserted() {
				logrus.Panicf("%s: %s refused after a snooper "+
					"committed to respond", b.Name(), pkt)
			}

			b.refuse(pkt, srcPort, "target refused")
			b.occupyBus(headerTime)

			return false
		}
	}

	b.occupyBus(finish)
	b.stats.Transfers++

	if b.NumHooks() > 0 {
		b.InvokeHook(sim.HookCtx{
			Domain: b,
			Now:    now,
			Pos:    HookPosTransfer,
			Item:   pkt,
			Detail: Transfer{
				Src:        src,
				Dest:       destID,
				Start:      start,
				HeaderTime: headerTime,
				Finish:     finish,
			},
		})
	}

	if b.inRetry {
		if b.retryList[0] != srcPort {
			logrus.Panicf("%s: port %s sent during the retry of %s",
				b.Name(), srcPort.Name(), b.retryList[0].Name())
		}

		b.logger().WithField("port", src).Debug("remove retry from list")
		b.retryList[0].onRetryList = false
		b.retryList = b.retryList[1:]
		b.inRetry = false
	}

	return true
}

// route returns the destination of a packet. A response goes back to the
// port in its destination field, and a request is routed by address.
func (b *Bus) route(pkt *mem.Packet) (mem.PortID, *BusPort) {
	dest := pkt.Dest()
	if dest == mem.Broadcast {
		dest = b.FindPort(pkt.Addr())
	} else if dest == pkt.Src() {
		logrus.Panicf("%s: packet %s is sent back to its source",
			b.Name(), pkt)
	}

	return dest, b.mustLookupPort(dest)
}

// snoopTiming offers a packet to every snooper other than the source and the
// destination. Snoopers must accept it.
func (b *Bus) snoopTiming(pkt *mem.Packet, srcPort, destPort *BusPort) {
	for _, p := range b.snoopPorts {
		if p == destPort || p == srcPort {
			continue
		}

		if !p.SendTiming(pkt) {
			logrus.Panicf("%s: snooper %s refused %s",
				b.Name(), p.Name(), pkt)
		}
	}
}

// preparePacket works out how long the packet occupies the bus. It sets the
// first word and finish times of the packet and returns when the header
// finishes.
func (b *Bus) preparePacket(pkt *mem.Packet) sim.Tick {
	now := b.queue.Now()
	if b.tickNextIdle < now {
		b.tickNextIdle = b.clock.ThisEdge(now)
	}

	headerTime := b.tickNextIdle + b.clock.Cycles(b.params.HeaderCycles)

	numCycles := 0
	if pkt.HasData() {
		numCycles = (pkt.Size() + b.params.Width - 1) / b.params.Width
	}

	pkt.FirstWordTime = headerTime + b.clock.Period()
	pkt.FinishTime = headerTime + b.clock.Cycles(numCycles)

	return headerTime
}

func (b *Bus) occupyBus(until sim.Tick) {
	if until == 0 {
		return
	}

	from := max(b.queue.Now(), b.tickNextIdle)
	if until > from {
		b.stats.BusyTicks += until - from
	}

	b.tickNextIdle = until
	b.queue.Reschedule(b.busIdle, until, true)

	b.logger().WithField("until", until).Debug("bus occupied")
}

func (b *Bus) refuse(pkt *mem.Packet, srcPort *BusPort, reason string) {
	b.addToRetryList(srcPort)
	b.stats.Refusals++

	b.logger().WithFields(logrus.Fields{
		"src":    srcPort.id,
		"pkt":    pkt.String(),
		"reason": reason,
	}).Debug("refused timing packet")

	if b.NumHooks() > 0 {
		b.InvokeHook(sim.HookCtx{
			Domain: b,
			Now:    b.queue.Now(),
			Pos:    HookPosRefuse,
			Item:   pkt,
			Detail: Transfer{
				Src:    srcPort.id,
				Dest:   pkt.Dest(),
				Start:  b.queue.Now(),
				Reason: reason,
			},
		})
	}
}

// addToRetryList queues a refused sender. A sender that fails again while
// being retried keeps its place at the head of the list.
func (b *Bus) addToRetryList(p *BusPort) {
	if !b.inRetry {
		if p.onRetryList {
			logrus.Panicf("%s: port %s is already waiting for a retry",
				b.Name(), p.Name())
		}

		p.onRetryList = true
		b.retryList = append(b.retryList, p)

		return
	}

	if p.onRetryList {
		if b.retryList[0] != p {
			logrus.Panicf("%s: port %s retried out of order",
				b.Name(), p.Name())
		}

		b.inRetry = false

		return
	}

	p.onRetryList = true
	b.retryList = append(b.retryList, p)
}

// recvRetry gives the bus to the head of the retry list once the bus is
// idle. If the head does not send, its grant is lost and the bus stays busy
// for one cycle.
func (b *Bus) recvRetry(_ mem.PortID) {
	now := b.queue.Now()

	if len(b.retryList) > 0 && now < b.tickNextIdle && !b.busIdle.Scheduled() {
		b.queue.Schedule(b.busIdle, b.tickNextIdle)
	}

	if len(b.retryList) > 0 && now >= b.tickNextIdle {
		head := b.retryList[0]
		b.inRetry = true
		b.stats.Retries++

		b.logger().WithField("port", head.id).Debug("sending retry")
		head.SendRetry()

		if b.inRetry {
			head.onRetryList = false
			b.retryList = b.retryList[1:]
			b.inRetry = false
			b.stats.MissedGrants++

			b.tickNextIdle = b.clock.ThisEdge(max(b.tickNextIdle, now))
			b.tickNextIdle += b.clock.Period()
			b.queue.Reschedule(b.busIdle, b.tickNextIdle, true)
		}
	}

	if b.drainEvent != nil && len(b.retryList) == 0 &&
		b.queue.Now() >= b.tickNextIdle {
		de := b.drainEvent
		b.drainEvent = nil
		de.Process()
	}
}

func (b *Bus) recvAtomic(pkt *mem.Packet) sim.Tick {
	if pkt.Dest() != mem.Broadcast {
		logrus.Panicf("%s: atomic packet %s must be routed by address",
			b.Name(), pkt)
	}

	if !pkt.IsRequest() {
		logrus.Panicf("%s: atomic packet %s is not a request", b.Name(), pkt)
	}

	b.stats.AtomicAccesses++

	origCmd := pkt.Cmd
	origSrc := pkt.Src()
	snoopRespCmd := mem.InvalidCmd
	snoopRespLatency := sim.Tick(0)

	targetID := b.FindPort(pkt.Addr())
	target := b.mustLookupPort(targetID)

	for _, p := range b.snoopPorts {
		if p == target {
			logrus.Panicf("%s: port %s both snoops and responds to %#x",
				b.Name(), p.Name(), uint64(pkt.Addr()))
		}

		if p.id == origSrc {
			continue
		}

		latency := p.SendAtomic(pkt)
		if !pkt.IsResponse() {
			continue
		}

		if snoopRespCmd != mem.InvalidCmd {
			logrus.Panicf("%s: %s answered by two snoopers", b.Name(), pkt)
		}

		if !pkt.MemInhibitAsserted() {
			logrus.Panicf("%s: snooper %s responded to %s without "+
				"inhibiting memory", b.Name(), p.Name(), pkt)
		}

		snoopRespCmd = pkt.Cmd
		snoopRespLatency = latency

		pkt.Cmd = origCmd
		pkt.SetSrc(origSrc)
		pkt.SetDest(mem.Broadcast)
	}

	latency := sim.Tick(0)
	if targetID != origSrc {
		latency = target.SendAtomic(pkt)
	}

	if snoopRespCmd != mem.InvalidCmd {
		if pkt.IsResponse() {
			logrus.Panicf("%s: %s answered by a snooper and by %s",
				b.Name(), pkt, target.Name())
		}

		pkt.Cmd = snoopRespCmd
		latency = snoopRespLatency
	}

	pkt.FinishTime = b.queue.Now() + latency

	return latency
}

func (b *Bus) recvFunctional(pkt *mem.Packet) {
	if pkt.Dest() != mem.Broadcast {
		logrus.Panicf("%s: functional packet %s must be routed by address",
			b.Name(), pkt)
	}

	if !pkt.IsRequest() {
		logrus.Panicf("%s: functional packet %s is already satisfied",
			b.Name(), pkt)
	}

	b.stats.FunctionalAccesses++

	srcID := pkt.Src()
	destID := b.FindPort(pkt.Addr())
	destPort := b.mustLookupPort(destID)

	if !pkt.IsPrint() {
		b.logger().WithFields(logrus.Fields{
			"src":  srcID,
			"dest": destID,
			"addr": fmt.Sprintf("%#x", uint64(pkt.Addr())),
		}).Debug("functional access")
	}

	for _, p := range b.snoopPorts {
		if p != destPort && p.id != srcID {
			p.SendFunctional(pkt)
		}

		if pkt.IsResponse() {
			break
		}

		pkt.SetSrc(srcID)
	}

	if !pkt.IsResponse() && destID != srcID {
		destPort.SendFunctional(pkt)
	}
}
