// Package trafficgen provides a requester that drives memory with random
// reads and writes and checks the data that comes back.
package trafficgen

import (
	"bytes"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
)

// HookPosReqAccept marks an access that the memory system took. The item is
// the request packet.
var HookPosReqAccept = &sim.HookPos{Name: "TrafficGen Req Accept"}

// HookPosReqComplete marks an access that completed. The item is the
// response packet and the detail is a Completion.
var HookPosReqComplete = &sim.HookPos{Name: "TrafficGen Req Complete"}

// Completion describes a completed access.
type Completion struct {
	Issued  sim.Tick
	Latency sim.Tick
	OK      bool
}

// Stats counts the activity of a generator.
type Stats struct {
	Issued       uint64
	Completed    uint64
	Reads        uint64
	Writes       uint64
	Refusals     uint64
	Retries      uint64
	TotalLatency sim.Tick
	Mismatches   uint64
	BadAddresses uint64
}

// AvgLatency returns the mean latency of the completed accesses.
func (s Stats) AvgLatency() float64 {
	if s.Completed == 0 {
		return 0
	}

	return float64(s.TotalLatency) / float64(s.Completed)
}

type inflight struct {
	issued   sim.Tick
	expected []byte
}

// TrafficGen is a MemObject with one port that issues accesses at a fixed
// interval. It keeps a copy of the bytes it wrote and verifies every read
// against it, so each generator should own the ranges it accesses.
//
// In timing mode the generator follows the retry protocol: once a packet is
// refused, it holds the packet and sends it again only when it receives the
// retry.
type TrafficGen struct {
	*mem.MemObjectBase
	sim.HookableBase

	queue       sim.EventScheduler
	idGenerator sim.IDGenerator
	params      Params
	rng         *rand.Rand

	port      *mem.Port
	tickEvent *sim.FuncEvent

	pending    *mem.Packet
	inflight   map[*mem.Packet]inflight
	shadow     map[mem.Addr]byte
	draining   bool
	drainEvent *sim.DrainEvent

	stats Stats
}

// Params returns the parameters of the generator.
func (g *TrafficGen) Params() Params {
	return g.params
}

// Stats returns the activity counters.
func (g *TrafficGen) Stats() Stats {
	return g.stats
}

// Port returns the port of the generator.
func (g *TrafficGen) Port() *mem.Port {
	return g.port
}

// Done tells if all the accesses completed.
func (g *TrafficGen) Done() bool {
	return g.stats.Completed == uint64(g.params.NumRequests)
}

// Blocked tells if a refused packet waits for a retry.
func (g *TrafficGen) Blocked() bool {
	return g.pending != nil
}

// GetPort returns the single port of the generator.
func (g *TrafficGen) GetPort(ifName string, _ int) *mem.Port {
	if ifName != "port" {
		logrus.Panicf("%s: unknown port %s requested", g.Name(), ifName)
	}

	return g.port
}

// Startup schedules the first access that is not issued yet.
func (g *TrafficGen) Startup() {
	g.scheduleNext(g.queue.Now())
}

// Drain stops issuing new accesses. It returns 1 if accesses are still in
// flight, and processes the drain event when the last one completes.
func (g *TrafficGen) Drain(de *sim.DrainEvent) int {
	g.draining = true

	if g.tickEvent.Scheduled() {
		g.queue.Deschedule(g.tickEvent)
	}

	if g.pending == nil && len(g.inflight) == 0 {
		return 0
	}

	g.drainEvent = de

	return 1
}

// Resume continues issuing after a drain.
func (g *TrafficGen) Resume() {
	g.draining = false
	g.drainEvent = nil
	g.scheduleNext(g.queue.Now())
}

func (g *TrafficGen) scheduleNext(when sim.Tick) {
	if g.draining || g.pending != nil || g.tickEvent.Scheduled() {
		return
	}

	if g.stats.Issued >= uint64(g.params.NumRequests) {
		return
	}

	g.queue.Schedule(g.tickEvent, when)
}

func (g *TrafficGen) tick() {
	pkt := g.generate()
	g.stats.Issued++

	switch g.params.Mode {
	case Timing:
		g.sendTiming(pkt)
	case Atomic:
		g.accept(pkt)
		latency := g.port.SendAtomic(pkt)
		g.complete(pkt, latency)
	case Functional:
		g.accept(pkt)
		g.port.SendFunctional(pkt)
		g.complete(pkt, 0)
	}

	g.scheduleNext(g.queue.Now() + g.params.Interval)
}

func (g *TrafficGen) generate() *mem.Packet {
	r := g.params.Ranges[g.rng.Intn(len(g.params.Ranges))]
	slots := r.Size() / uint64(g.params.Size)
	addr := r.Start + mem.Addr(uint64(g.rng.Int63n(int64(slots)))*
		uint64(g.params.Size))

	cmd := mem.WriteReq
	if g.rng.Intn(100) < g.params.ReadPercent {
		cmd = mem.ReadReq
	}

	req := mem.NewPhysRequest(g.queue, addr, g.params.Size, 0)
	req.ID = g.idGenerator.Generate()
	req.SetThreadContext(g.params.CPUNum, 0)

	pkt := mem.NewPacket(req, cmd, mem.Broadcast)
	pkt.ID = req.ID
	pkt.Allocate()

	if cmd == mem.WriteReq {
		g.rng.Read(pkt.Data())
		g.stats.Writes++
	} else {
		g.stats.Reads++
	}

	return pkt
}

func (g *TrafficGen) sendTiming(pkt *mem.Packet) {
	if g.pending != nil {
		logrus.Panicf("%s: sending %s while %s waits for a retry",
			g.Name(), pkt, g.pending)
	}

	if !g.port.SendTiming(pkt) {
		g.stats.Refusals++
		g.pending = pkt

		g.logger().WithField("pkt", pkt.String()).Debug("refused, waiting")

		return
	}

	g.accept(pkt)
}

// accept records the access at the moment the memory system takes it. The
// shadow copy is updated in acceptance order.
func (g *TrafficGen) accept(pkt *mem.Packet) {
	inf := inflight{issued: g.queue.Now()}

	if pkt.IsRead() {
		inf.expected = make([]byte, pkt.Size())
		for i := range inf.expected {
			inf.expected[i] = g.shadow[pkt.Addr()+mem.Addr(i)]
		}
	} else {
		for i, b := range pkt.Data()[:pkt.Size()] {
			g.shadow[pkt.Addr()+mem.Addr(i)] = b
		}
	}

	g.inflight[pkt] = inf

	if g.NumHooks() > 0 {
		g.InvokeHook(sim.HookCtx{
			Domain: g,
			Now:    g.queue.Now(),
			Pos:    HookPosReqAccept,
			Item:   pkt,
		})
	}
}

func (g *TrafficGen) complete(pkt *mem.Packet, latency sim.Tick) {
	inf, ok := g.inflight[pkt]
	if !ok {
		logrus.Panicf("%s: response %s to an unknown request", g.Name(), pkt)
	}

	delete(g.inflight, pkt)

	g.stats.Completed++
	g.stats.TotalLatency += latency

	valid := g.check(pkt, inf)

	if g.NumHooks() > 0 {
		g.InvokeHook(sim.HookCtx{
			Domain: g,
			Now:    g.queue.Now(),
			Pos:    HookPosReqComplete,
			Item:   pkt,
			Detail: Completion{
				Issued:  inf.issued,
				Latency: latency,
				OK:      valid,
			},
		})
	}

	if g.drainEvent != nil && g.pending == nil && len(g.inflight) == 0 {
		de := g.drainEvent
		g.drainEvent = nil
		de.Process()
	}
}

func (g *TrafficGen) check(pkt *mem.Packet, inf inflight) bool {
	if !pkt.IsResponse() {
		logrus.Panicf("%s: %s did not complete", g.Name(), pkt)
	}

	if pkt.HadBadAddress() {
		g.stats.BadAddresses++
		return false
	}

	if inf.expected == nil {
		return true
	}

	got := pkt.Data()[:pkt.Size()]
	if bytes.Equal(got, inf.expected) {
		return true
	}

	g.stats.Mismatches++

	g.logger().WithFields(logrus.Fields{
		"addr":     fmt.Sprintf("%#x", uint64(pkt.Addr())),
		"got":      fmt.Sprintf("%x", got),
		"expected": fmt.Sprintf("%x", inf.expected),
	}).Warn("read data mismatch")

	return false
}

func (g *TrafficGen) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"gen":  g.Name(),
		"tick": g.queue.Now(),
	})
}

// RecvTiming accepts a response.
func (g *TrafficGen) RecvTiming(pkt *mem.Packet) bool {
	if g.params.Mode != Timing {
		logrus.Panicf("%s: timing packet %s in %s mode",
			g.Name(), pkt, g.params.Mode)
	}

	inf, ok := g.inflight[pkt]
	if !ok {
		logrus.Panicf("%s: response %s to an unknown request", g.Name(), pkt)
	}

	g.complete(pkt, g.queue.Now()-inf.issued)

	return true
}

// RecvRetry sends the refused packet again.
func (g *TrafficGen) RecvRetry() {
	if g.pending == nil {
		logrus.Panicf("%s: retry received while not waiting", g.Name())
	}

	g.stats.Retries++

	pkt := g.pending
	g.pending = nil
	g.sendTiming(pkt)

	g.scheduleNext(g.queue.Now() + g.params.Interval)
}

// RecvAtomic panics as nothing sends requests to a generator.
func (g *TrafficGen) RecvAtomic(pkt *mem.Packet) sim.Tick {
	logrus.Panicf("%s: unexpected atomic packet %s", g.Name(), pkt)
	return 0
}

// RecvFunctional ignores functional accesses, as the generator holds no
// data for the memory system.
func (g *TrafficGen) RecvFunctional(_ *mem.Packet) {
}

// RecvStatusChange ignores range changes.
func (g *TrafficGen) RecvStatusChange(_ mem.Status) {
}

// DeviceBlockSize returns 0 as the generator has no block.
func (g *TrafficGen) DeviceBlockSize() int {
	return 0
}

// GetDeviceAddressRanges returns no range as the generator does not
// respond to addresses.
func (g *TrafficGen) GetDeviceAddressRanges() (mem.AddrRangeList, bool) {
	return nil, false
}

var _ mem.Receiver = (*TrafficGen)(nil)
var _ mem.MemObject = (*TrafficGen)(nil)
var _ sim.Drainable = (*TrafficGen)(nil)
