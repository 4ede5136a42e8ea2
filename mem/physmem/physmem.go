// Package physmem provides a contiguous block of physical memory that
// answers accesses in every port mode.
package physmem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
)

// PageBytes is the granularity of the memory size.
const PageBytes = 4096

// lockMask removes the low address bits that a load-locked record ignores.
const lockMask mem.Addr = 0xf

type lockedAddr struct {
	addr      mem.Addr
	cpuNum    int
	threadNum int
}

func (l lockedAddr) matchesContext(req *mem.Request) bool {
	cpuNum, threadNum := requestContext(req)
	return l.cpuNum == cpuNum && l.threadNum == threadNum
}

func requestContext(req *mem.Request) (int, int) {
	if !req.HasThreadContext() {
		return 0, 0
	}

	return req.CPUNum(), req.ThreadNum()
}

// Stats counts the accesses served by a memory.
type Stats struct {
	Reads             uint64
	Writes            uint64
	BytesRead         uint64
	BytesWritten      uint64
	Swaps             uint64
	StoreCondFailures uint64
	BadAddresses      uint64
}

// PhysicalMemory is a MemObject that stores the bytes of an address range.
// Each of its ports is a SimpleTimingPort, so timing requests are answered
// after the latency of the equivalent atomic access.
type PhysicalMemory struct {
	*mem.MemObjectBase

	queue    sim.EventScheduler
	registry *mem.PortRegistry
	params   Params
	storage  *Storage
	rng      *rand.Rand

	ports    []*mem.SimpleTimingPort
	funcPort *mem.SimpleTimingPort

	lockedAddrs []lockedAddr

	stats Stats
}

// Params returns the parameters of the memory.
func (m *PhysicalMemory) Params() Params {
	return m.params
}

// Stats returns the access counters.
func (m *PhysicalMemory) Stats() Stats {
	return m.stats
}

// Storage returns the backing store. Offset 0 is the start of the range.
func (m *PhysicalMemory) Storage() *Storage {
	return m.storage
}

// Start returns the first address of the memory.
func (m *PhysicalMemory) Start() mem.Addr {
	return m.params.Range.Start
}

// Size returns the number of bytes of the memory.
func (m *PhysicalMemory) Size() uint64 {
	return m.params.Range.Size()
}

// GetPort returns the port with the given index, creating it if needed. An
// index of -1 adds a new port. The "functional" interface gives a port for
// loading and inspecting memory.
func (m *PhysicalMemory) GetPort(ifName string, idx int) *mem.Port {
	if ifName == "functional" {
		if m.funcPort == nil {
			m.funcPort = m.newPort(m.Name() + "-functional")
		}

		return m.funcPort.Port
	}

	if ifName != "port" {
		logrus.Panicf("%s: unknown port %s requested", m.Name(), ifName)
	}

	if idx < 0 {
		idx = len(m.ports)
	}

	for idx >= len(m.ports) {
		m.ports = append(m.ports, nil)
	}

	if m.ports[idx] != nil {
		logrus.Panicf("%s: port %d already assigned", m.Name(), idx)
	}

	p := m.newPort(fmt.Sprintf("%s-port%d", m.Name(), idx))
	m.ports[idx] = p

	return p.Port
}

func (m *PhysicalMemory) newPort(name string) *mem.SimpleTimingPort {
	p := mem.NewSimpleTimingPort(m.registry, m.queue, name, m, m)
	m.AddPort(name, p.Port)

	return p
}

// NumPorts returns the number of port slots.
func (m *PhysicalMemory) NumPorts() int {
	return len(m.ports)
}

// DeletePortRefs drops a port that was disconnected by its peer.
func (m *PhysicalMemory) DeletePortRefs(p *mem.Port) {
	if m.funcPort != nil && m.funcPort.Port == p {
		return
	}

	for i, mp := range m.ports {
		if mp != nil && mp.Port == p {
			m.ports[i] = nil
			m.RemovePort(p.Name())
			p.Release()

			return
		}
	}

	logrus.Panicf("%s: port %s does not belong to the memory",
		m.Name(), p.Name())
}

// Init tells the peers of every port that the ranges of the memory are
// available.
func (m *PhysicalMemory) Init() {
	if len(m.ports) == 0 {
		logrus.Panicf("%s: physical memory is unconnected", m.Name())
	}

	for _, p := range m.ports {
		if p != nil && p.IsConnected() {
			p.SendStatusChange(mem.RangeChange)
		}
	}
}

// Drain returns the number of ports that still have responses to send.
func (m *PhysicalMemory) Drain(de *sim.DrainEvent) int {
	count := 0

	for _, p := range m.ports {
		if p != nil {
			count += p.Drain(de)
		}
	}

	return count
}

// RecvStatusChange ignores the notifications of the peers.
func (m *PhysicalMemory) RecvStatusChange(_ mem.Status) {
}

// DeviceBlockSize returns the block size parameter, 0 means any size.
func (m *PhysicalMemory) DeviceBlockSize() int {
	return m.params.BlockSize
}

// GetDeviceAddressRanges returns the range of the memory.
func (m *PhysicalMemory) GetDeviceAddressRanges() (mem.AddrRangeList, bool) {
	return mem.AddrRangeList{m.params.Range}, false
}

func (m *PhysicalMemory) inRange(pkt *mem.Packet) bool {
	r := m.params.Range
	return pkt.Addr() >= r.Start &&
		uint64(pkt.Addr()-r.Start)+uint64(pkt.Size()) <= r.Size()
}

func (m *PhysicalMemory) offset(pkt *mem.Packet) uint64 {
	return uint64(pkt.Addr() - m.params.Range.Start)
}

func (m *PhysicalMemory) calculateLatency() sim.Tick {
	latency := m.params.Latency
	if m.params.LatencyVar > 0 {
		latency += sim.Tick(m.rng.Int63n(int64(m.params.LatencyVar) + 1))
	}

	return latency
}

func (m *PhysicalMemory) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"mem":  m.Name(),
		"tick": m.queue.Now(),
	})
}

// RecvAtomic performs the access and returns its latency. An access outside
// of the range is answered with a bad address error.
func (m *PhysicalMemory) RecvAtomic(pkt *mem.Packet) sim.Tick {
	if pkt.MemInhibitAsserted() {
		m.logger().WithField("pkt", pkt.String()).
			Debug("mem inhibited, not responding")

		return 0
	}

	if !m.inRange(pkt) {
		m.badAddress(pkt)
		return m.calculateLatency()
	}

	switch {
	case pkt.Cmd == mem.SwapReq:
		m.swap(pkt)
	case pkt.IsRead():
		if pkt.IsLocked() {
			m.trackLoadLocked(pkt)
		}

		m.read(pkt)
	case pkt.IsWrite():
		if m.writeOK(pkt) {
			m.write(pkt)
		}
	case pkt.IsInvalidate():
	default:
		logrus.Panicf("%s: unimplemented atomic command %s", m.Name(), pkt)
	}

	if pkt.NeedsResponse() {
		pkt.MakeAtomicResponse()
	}

	return m.calculateLatency()
}

// RecvFunctional performs the access without touching the load-locked
// records. A print request prints the byte at its address.
func (m *PhysicalMemory) RecvFunctional(pkt *mem.Packet) {
	if pkt.IsPrint() {
		m.print(pkt)
		return
	}

	if !m.inRange(pkt) {
		m.badAddress(pkt)
		return
	}

	switch {
	case pkt.IsRead():
		m.read(pkt)
	case pkt.IsWrite():
		m.write(pkt)
	default:
		logrus.Panicf("%s: unimplemented functional command %s",
			m.Name(), pkt)
	}

	if pkt.NeedsResponse() {
		pkt.MakeResponse()
	}
}

func (m *PhysicalMemory) badAddress(pkt *mem.Packet) {
	m.stats.BadAddresses++

	m.logger().WithField("pkt", pkt.String()).Debug("bad address")

	if pkt.NeedsResponse() {
		pkt.MakeResponse()
		pkt.SetBadAddress()
	}
}

func (m *PhysicalMemory) print(pkt *mem.Packet) {
	state, ok := pkt.SenderState().(*mem.PrintReqState)
	if !ok {
		logrus.Panicf("%s: print packet %s has no print state", m.Name(), pkt)
	}

	if !m.params.Range.Contains(pkt.Addr()) {
		return
	}

	b := make([]byte, 1)
	m.readBytes(m.offset(pkt), b)

	state.PushLabel(m.Name(), "  ")
	state.PrintLabels()
	fmt.Fprintf(state.Writer(), "%s%#x\n", state.CurPrefix(), b[0])
	state.PopLabel()
}

func (m *PhysicalMemory) readBytes(offset uint64, buf []byte) {
	if m.params.NullData {
		clear(buf)
		return
	}

	if err := m.storage.Read(offset, buf); err != nil {
		logrus.Panicf("%s: %v", m.Name(), err)
	}
}

func (m *PhysicalMemory) writeBytes(offset uint64, data []byte) {
	if m.params.NullData {
		return
	}

	if err := m.storage.Write(offset, data); err != nil {
		logrus.Panicf("%s: %v", m.Name(), err)
	}
}

func (m *PhysicalMemory) read(pkt *mem.Packet) {
	pkt.Allocate()
	m.readBytes(m.offset(pkt), pkt.Data()[:pkt.Size()])

	m.stats.Reads++
	m.stats.BytesRead += uint64(pkt.Size())
}

func (m *PhysicalMemory) write(pkt *mem.Packet) {
	m.writeBytes(m.offset(pkt), pkt.Data()[:pkt.Size()])

	m.stats.Writes++
	m.stats.BytesWritten += uint64(pkt.Size())
}

// swap puts the old value in the packet and writes the new one, unless the
// request is a conditional swap whose compare value does not match.
func (m *PhysicalMemory) swap(pkt *mem.Packet) {
	size := pkt.Size()
	if size > 8 {
		logrus.Panicf("%s: swap of %d bytes", m.Name(), size)
	}

	data := pkt.Data()[:size]
	newVal := bytes.Clone(data)
	m.readBytes(m.offset(pkt), data)

	overwrite := true

	if pkt.Req.IsCondSwap() {
		cond := make([]byte, 8)
		binary.LittleEndian.PutUint64(cond, pkt.Req.ExtraData())

		switch size {
		case 8, 4:
			overwrite = bytes.Equal(cond[:size], data)
		default:
			logrus.Panicf("%s: invalid size %d for a conditional swap",
				m.Name(), size)
		}
	}

	if overwrite {
		m.writeBytes(m.offset(pkt), newVal)
	}

	m.stats.Swaps++
}

// trackLoadLocked records the address of a load-locked access. Each context
// holds at most one record.
func (m *PhysicalMemory) trackLoadLocked(pkt *mem.Packet) {
	req := pkt.Req
	addr := req.Paddr() &^ lockMask

	for i := range m.lockedAddrs {
		if m.lockedAddrs[i].matchesContext(req) {
			m.logger().WithField("addr", fmt.Sprintf("%#x", uint64(addr))).
				Debug("modifying lock record")
			m.lockedAddrs[i].addr = addr

			return
		}
	}

	cpuNum, threadNum := requestContext(req)
	m.lockedAddrs = append([]lockedAddr{{addr, cpuNum, threadNum}},
		m.lockedAddrs...)
}

// writeOK tells if a write may proceed. Every write clears the records of
// its address, and a store conditional succeeds only if its own context
// still holds a record.
func (m *PhysicalMemory) writeOK(pkt *mem.Packet) bool {
	if len(m.lockedAddrs) == 0 {
		if pkt.IsLocked() {
			pkt.Req.SetExtraData(0)
			m.stats.StoreCondFailures++
		}

		return !pkt.IsLocked()
	}

	return m.checkLockedAddrList(pkt)
}

func (m *PhysicalMemory) checkLockedAddrList(pkt *mem.Packet) bool {
	req := pkt.Req
	addr := req.Paddr() &^ lockMask
	isLocked := pkt.IsLocked()
	success := !isLocked

	kept := m.lockedAddrs[:0]
	for _, l := range m.lockedAddrs {
		if l.addr != addr {
			kept = append(kept, l)
			continue
		}

		if isLocked && l.matchesContext(req) {
			success = true
		}
	}

	m.lockedAddrs = kept

	if isLocked {
		if success {
			req.SetExtraData(1)
		} else {
			req.SetExtraData(0)
			m.stats.StoreCondFailures++
		}
	}

	return success
}

// NumLockedAddrs returns the number of load-locked records.
func (m *PhysicalMemory) NumLockedAddrs() int {
	return len(m.lockedAddrs)
}

var _ mem.FunctionalDevice = (*PhysicalMemory)(nil)
var _ mem.MemObject = (*PhysicalMemory)(nil)
var _ sim.Drainable = (*PhysicalMemory)(nil)
