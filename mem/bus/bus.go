// Package bus provides a shared bus that connects any number of memory
// objects. The bus routes packets by address, serializes the transfers in
// time, lets snoopers see the traffic, and keeps the refused senders in a
// retry list.
package bus

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
)

// DefaultID is the id of the default port. It does not collide with
// mem.Broadcast.
const DefaultID mem.PortID = -3

const (
	noPortID  mem.PortID = -4
	cacheSize            = 3
)

// HookPosTransfer marks a packet that the bus accepted. The hook detail is a
// Transfer.
var HookPosTransfer = &sim.HookPos{Name: "Bus Transfer"}

// HookPosRefuse marks a packet that the bus refused. The hook detail is a
// Transfer with the reason set.
var HookPosRefuse = &sim.HookPos{Name: "Bus Refuse"}

// Transfer describes what the bus did with a timing packet.
type Transfer struct {
	Src        mem.PortID
	Dest       mem.PortID
	Start      sim.Tick
	HeaderTime sim.Tick
	Finish     sim.Tick
	Reason     string
}

// Stats counts the activity of a bus.
type Stats struct {
	Transfers          uint64
	Refusals           uint64
	Retries            uint64
	MissedGrants       uint64
	BusyTicks          sim.Tick
	AtomicAccesses     uint64
	FunctionalAccesses uint64
}

// Bus is a MemObject that connects the ports of other memory objects.
type Bus struct {
	*mem.MemObjectBase
	sim.HookableBase

	queue    sim.EventScheduler
	registry *mem.PortRegistry
	params   Params
	clock    sim.Clock

	tickNextIdle sim.Tick
	busIdle      *sim.FuncEvent
	drainEvent   *sim.DrainEvent

	inRetry        bool
	inStatusChange map[mem.PortID]bool

	maxID       mem.PortID
	interfaces  map[mem.PortID]*BusPort
	retryList   []*BusPort
	defaultPort *BusPort
	funcPort    *BusPort
	funcPortID  mem.PortID

	portMap      *mem.RangeMap[mem.PortID]
	defaultRange mem.AddrRangeList
	snoopPorts   []*BusPort

	portCache *mem.MRUCache[mem.AddrRange, mem.PortID]
	busCache  *mem.MRUCache[mem.PortID, *BusPort]

	cachedBlockSize      int
	cachedBlockSizeValid bool

	stats Stats
}

// Params returns the parameters of the bus.
func (b *Bus) Params() Params {
	return b.params
}

// Stats returns the activity counters.
func (b *Bus) Stats() Stats {
	return b.stats
}

// TickNextIdle returns the tick when the current transfer finishes.
func (b *Bus) TickNextIdle() sim.Tick {
	return b.tickNextIdle
}

// RetryListLen returns the number of ports waiting for a retry.
func (b *Bus) RetryListLen() int {
	return len(b.retryList)
}

// RetryList returns the ids of the ports waiting for a retry, head first.
func (b *Bus) RetryList() []mem.PortID {
	ids := make([]mem.PortID, len(b.retryList))
	for i, p := range b.retryList {
		ids[i] = p.id
	}

	return ids
}

// InRetry tells if the head of the retry list is being retried.
func (b *Bus) InRetry() bool {
	return b.inRetry
}

// GetPort returns a port of the bus. The "default" interface gives the
// default port, which can only be created once. The "functional" interface
// gives the single functional port. Any other interface name creates a new
// port.
func (b *Bus) GetPort(ifName string, _ int) *mem.Port {
	switch ifName {
	case "default":
		if b.defaultPort != nil {
			logrus.Panicf("%s: default port already set", b.Name())
		}

		b.defaultPort = b.newBusPort(b.Name()+"-default", DefaultID)
		b.cachedBlockSizeValid = false

		return b.defaultPort.Port
	case "functional":
		if b.funcPort == nil {
			id := b.nextID()
			b.funcPort = b.newBusPort(
				fmt.Sprintf("%s-p%d-func", b.Name(), id), id)
			b.funcPortID = id
			b.interfaces[id] = b.funcPort
		}

		return b.funcPort.Port
	}

	id := b.nextID()
	bp := b.newBusPort(fmt.Sprintf("%s-p%d", b.Name(), id), id)
	b.interfaces[id] = bp
	b.cachedBlockSizeValid = false

	return bp.Port
}

func (b *Bus) nextID() mem.PortID {
	id := b.maxID
	b.maxID++

	return id
}

func (b *Bus) newBusPort(name string, id mem.PortID) *BusPort {
	bp := &BusPort{bus: b, id: id}
	bp.Port = mem.NewPort(b.registry, name, b, bp)
	b.AddPort(name, bp.Port)

	return bp
}

// PortByID returns the bus port with the given id, or nil if there is none.
func (b *Bus) PortByID(id mem.PortID) *BusPort {
	return b.lookupPort(id)
}

// DeletePortRefs forgets a port that its peer has disconnected. The
// functional port is kept for reuse.
func (b *Bus) DeletePortRefs(p *mem.Port) {
	bp := b.busPortOf(p)
	if bp == nil {
		logrus.Panicf("%s: port %s does not belong to the bus",
			b.Name(), p.Name())
	}

	if bp == b.funcPort {
		return
	}

	if bp == b.defaultPort {
		b.defaultPort = nil
		b.defaultRange = nil
	} else {
		delete(b.interfaces, bp.id)
	}

	b.portMap.EraseIf(func(id mem.PortID) bool { return id == bp.id })
	b.removeSnooper(bp.id)
	b.removeFromRetryList(bp)

	b.busCache.Invalidate()
	b.portCache.Invalidate()
	b.cachedBlockSizeValid = false

	b.RemovePort(bp.Name())
	bp.Release()
}

func (b *Bus) busPortOf(p *mem.Port) *BusPort {
	if b.defaultPort != nil && b.defaultPort.Port == p {
		return b.defaultPort
	}

	for _, bp := range b.interfaces {
		if bp.Port == p {
			return bp
		}
	}

	return nil
}

func (b *Bus) removeFromRetryList(bp *BusPort) {
	if !bp.onRetryList {
		return
	}

	for i, p := range b.retryList {
		if p == bp {
			if i == 0 {
				b.inRetry = false
			}

			b.retryList = append(b.retryList[:i], b.retryList[i+1:]...)

			break
		}
	}

	bp.onRetryList = false
}

// Init learns the address ranges of every attached device and tells the
// devices that the ranges of the bus are known.
func (b *Bus) Init() {
	if b.defaultPort != nil && b.defaultPort.IsConnected() {
		b.recvStatusChange(mem.RangeChange, DefaultID)
	}

	for _, id := range b.sortedIDs() {
		if id == b.funcPortID {
			continue
		}

		if b.interfaces[id].IsConnected() {
			b.recvStatusChange(mem.RangeChange, id)
		}
	}
}

// Startup moves the idle tick to the next clock edge if it is in the past.
func (b *Bus) Startup() {
	now := b.queue.Now()
	if b.tickNextIdle < now {
		b.tickNextIdle = b.clock.NextEdge(now)
	}
}

// Drain returns 1 if the bus is busy or has ports waiting for a retry. The
// drain event is processed when the bus becomes idle with no port waiting.
func (b *Bus) Drain(de *sim.DrainEvent) int {
	if len(b.retryList) > 0 ||
		(b.queue.Now() < b.tickNextIdle && b.busIdle.Scheduled()) {
		b.drainEvent = de
		return 1
	}

	return 0
}

func (b *Bus) sortedIDs() []mem.PortID {
	ids := make([]mem.PortID, 0, len(b.interfaces))
	for id := range b.interfaces {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// lookupPort resolves a port id through the bus cache.
func (b *Bus) lookupPort(id mem.PortID) *BusPort {
	if id == DefaultID {
		return b.defaultPort
	}

	if bp, ok := b.busCache.Lookup(
		func(k mem.PortID) bool { return k == id },
	); ok {
		return bp
	}

	bp, ok := b.interfaces[id]
	if !ok {
		return nil
	}

	b.busCache.Insert(id, bp)

	return bp
}

func (b *Bus) mustLookupPort(id mem.PortID) *BusPort {
	bp := b.lookupPort(id)
	if bp == nil {
		logrus.Panicf("%s: no port with id %d", b.Name(), id)
	}

	return bp
}

// FindPort returns the id of the port that responds to the address.
func (b *Bus) FindPort(addr mem.Addr) mem.PortID {
	if id, ok := b.portCache.Lookup(
		func(r mem.AddrRange) bool { return r.Contains(addr) },
	); ok {
		return id
	}

	if r, id, ok := b.portMap.Find(addr); ok {
		b.portCache.Insert(r, id)
		return id
	}

	if b.defaultRange.Contains(addr) {
		logrus.WithFields(logrus.Fields{
			"bus":  b.Name(),
			"addr": fmt.Sprintf("%#x", uint64(addr)),
		}).Debug("found address on default range")

		return DefaultID
	}

	if b.params.ResponderSet || b.defaultPort == nil {
		logrus.Panicf("%s: unable to find destination for addr %#x",
			b.Name(), uint64(addr))
	}

	logrus.WithFields(logrus.Fields{
		"bus":  b.Name(),
		"addr": fmt.Sprintf("%#x", uint64(addr)),
	}).Debug("no destination, using default port")

	return DefaultID
}

func (b *Bus) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"bus":  b.Name(),
		"tick": b.queue.Now(),
	})
}
