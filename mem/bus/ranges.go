package bus

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
)

// recvStatusChange queries the ranges of the device behind port id and
// tells all the other devices that the ranges of the bus changed.
func (b *Bus) recvStatusChange(status mem.Status, id mem.PortID) {
	if b.inStatusChange[id] {
		return
	}

	b.inStatusChange[id] = true
	defer delete(b.inStatusChange, id)

	if status != mem.RangeChange {
		logrus.Panicf("%s: unsupported status %d from port %d",
			b.Name(), status, id)
	}

	b.portCache.Invalidate()
	b.cachedBlockSizeValid = false

	if id == DefaultID {
		b.updateDefaultRange()
	} else {
		b.updatePortRanges(id)
	}

	for _, otherID := range b.sortedIDs() {
		if otherID == id || otherID == b.funcPortID {
			continue
		}

		p := b.interfaces[otherID]
		if p.IsConnected() {
			p.SendStatusChange(mem.RangeChange)
		}
	}

	if id != DefaultID && b.defaultPort != nil && b.defaultPort.IsConnected() {
		b.defaultPort.SendStatusChange(mem.RangeChange)
	}
}

func (b *Bus) updateDefaultRange() {
	b.defaultRange = nil

	if !b.params.ResponderSet {
		return
	}

	ranges, snoop := b.defaultPort.GetPeerAddressRanges()
	if snoop {
		logrus.Panicf("%s: the default responder cannot snoop", b.Name())
	}

	for _, r := range ranges {
		b.logger().WithField("range", r.String()).
			Debug("adding default range")
		b.defaultRange = append(b.defaultRange, r)
	}
}

func (b *Bus) updatePortRanges(id mem.PortID) {
	port, ok := b.interfaces[id]
	if !ok {
		logrus.Panicf("%s: status change from unknown port %d", b.Name(), id)
	}

	b.portMap.EraseIf(func(v mem.PortID) bool { return v == id })
	b.removeSnooper(id)

	ranges, snoop := port.GetPeerAddressRanges()

	if snoop {
		b.logger().WithField("port", id).Debug("adding snooper")
		b.snoopPorts = append(b.snoopPorts, port)
	}

	for _, r := range ranges {
		b.logger().WithFields(logrus.Fields{
			"port":  id,
			"range": r.String(),
		}).Debug("adding range")

		if !b.portMap.Insert(r, id) {
			logrus.Panicf("%s: two devices with same range %s",
				b.Name(), r)
		}
	}
}

func (b *Bus) removeSnooper(id mem.PortID) {
	kept := b.snoopPorts[:0]
	for _, p := range b.snoopPorts {
		if p.id != id {
			kept = append(kept, p)
		}
	}

	b.snoopPorts = kept
}

// AddressRanges returns the ranges that the bus responds to when it is
// asked through port id. They are the default ranges plus the ranges of all
// the other ports that the default ranges do not cover. Snoop is true if
// any other port snoops.
func (b *Bus) AddressRanges(id mem.PortID) (mem.AddrRangeList, bool) {
	resp := make(mem.AddrRangeList, 0, len(b.defaultRange)+b.portMap.Len())
	resp = append(resp, b.defaultRange...)

	b.portMap.Each(func(r mem.AddrRange, owner mem.PortID) {
		subset := false

		for _, d := range b.defaultRange {
			if r.IsSubsetOf(d) {
				subset = true
				continue
			}

			if r.Intersects(d) {
				logrus.Panicf("%s: range %s intersects the default range "+
					"%s but is not a subset of it", b.Name(), r, d)
			}
		}

		if owner != id && !subset {
			resp = append(resp, r)
		}
	})

	snoop := false

	for _, p := range b.snoopPorts {
		if p.id != id {
			snoop = true
			break
		}
	}

	return resp, snoop
}

// FindBlockSize returns the largest block size of the devices on the bus,
// or the default block size if no device has one.
func (b *Bus) FindBlockSize(_ mem.PortID) int {
	if b.cachedBlockSizeValid {
		return b.cachedBlockSize
	}

	maxBS := -1

	b.portMap.Each(func(_ mem.AddrRange, owner mem.PortID) {
		if bs := b.interfaces[owner].PeerBlockSize(); bs > maxBS {
			maxBS = bs
		}
	})

	for _, p := range b.snoopPorts {
		if bs := p.PeerBlockSize(); bs > maxBS {
			maxBS = bs
		}
	}

	if maxBS <= 0 {
		maxBS = b.params.BlockSize
	}

	b.cachedBlockSize = maxBS
	b.cachedBlockSizeValid = true

	return maxBS
}
