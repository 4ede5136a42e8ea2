package mem

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/sim"
)

func (p *Port) blobHelper(addr Addr, buf []byte, cmd MemCmd) {
	for gen := NewChunkGenerator(addr, len(buf), p.PeerBlockSize()); !gen.Done(); gen.Next() {
		req := NewPhysRequest(p.registry.clock, gen.Addr(), gen.Size(), 0)
		pkt := NewPacket(req, cmd, Broadcast)
		pkt.DataStatic(buf[:gen.Size()])
		p.SendFunctional(pkt)
		buf = buf[gen.Size():]
	}
}

// ReadBlob reads len(buf) bytes at addr from the peer functionally.
func (p *Port) ReadBlob(addr Addr, buf []byte) {
	p.blobHelper(addr, buf, ReadReq)
}

// WriteBlob writes buf at addr to the peer functionally.
func (p *Port) WriteBlob(addr Addr, buf []byte) {
	p.blobHelper(addr, buf, WriteReq)
}

// MemsetBlob fills size bytes at addr with v.
func (p *Port) MemsetBlob(addr Addr, v byte, size int) {
	p.blobHelper(addr, bytes.Repeat([]byte{v}, size), WriteReq)
}

// PrintAddr asks every object on the path to addr to print itself into w.
func (p *Port) PrintAddr(w io.Writer, addr Addr) {
	req := NewPhysRequest(p.registry.clock, addr, 1, 0)
	pkt := NewPacket(req, PrintReq, Broadcast)
	pkt.PushSenderState(NewPrintReqState(w, 0))
	p.SendFunctional(pkt)
}

type functionalReceiver struct {
	ReceiverBase
	name string
}

func (r functionalReceiver) RecvTiming(*Packet) bool {
	logrus.Panicf("%s: functional port cannot accept timing packets", r.name)
	return false
}

func (r functionalReceiver) RecvAtomic(*Packet) sim.Tick {
	logrus.Panicf("%s: functional port cannot accept atomic packets", r.name)
	return 0
}

func (r functionalReceiver) RecvFunctional(*Packet) {
	logrus.Panicf("%s: functional port cannot accept functional packets",
		r.name)
}

func (r functionalReceiver) RecvStatusChange(Status) {
}

// FunctionalPort is a port that only sends functional accesses, for loading
// and inspecting memory outside of the timing of the simulation.
type FunctionalPort struct {
	*Port
}

// NewFunctionalPort creates a FunctionalPort.
func NewFunctionalPort(
	registry *PortRegistry,
	name string,
	owner MemObject,
) *FunctionalPort {
	return &FunctionalPort{
		Port: NewPort(registry, name, owner, functionalReceiver{name: name}),
	}
}

// ReadUint8 reads a byte.
func (p *FunctionalPort) ReadUint8(addr Addr) uint8 {
	buf := make([]byte, 1)
	p.ReadBlob(addr, buf)

	return buf[0]
}

// ReadUint16 reads a little-endian uint16.
func (p *FunctionalPort) ReadUint16(addr Addr) uint16 {
	buf := make([]byte, 2)
	p.ReadBlob(addr, buf)

	return binary.LittleEndian.Uint16(buf)
}

// ReadUint32 reads a little-endian uint32.
func (p *FunctionalPort) ReadUint32(addr Addr) uint32 {
	buf := make([]byte, 4)
	p.ReadBlob(addr, buf)

	return binary.LittleEndian.Uint32(buf)
}

// ReadUint64 reads a little-endian uint64.
func (p *FunctionalPort) ReadUint64(addr Addr) uint64 {
	buf := make([]byte, 8)
	p.ReadBlob(addr, buf)

	return binary.LittleEndian.Uint64(buf)
}

// WriteUint8 writes a byte.
func (p *FunctionalPort) WriteUint8(addr Addr, v uint8) {
	p.WriteBlob(addr, []byte{v})
}

// WriteUint16 writes a little-endian uint16.
func (p *FunctionalPort) WriteUint16(addr Addr, v uint16) {
	p.WriteBlob(addr, binary.LittleEndian.AppendUint16(nil, v))
}

// WriteUint32 writes a little-endian uint32.
func (p *FunctionalPort) WriteUint32(addr Addr, v uint32) {
	p.WriteBlob(addr, binary.LittleEndian.AppendUint32(nil, v))
}

// WriteUint64 writes a little-endian uint64.
func (p *FunctionalPort) WriteUint64(addr Addr, v uint64) {
	p.WriteBlob(addr, binary.LittleEndian.AppendUint64(nil, v))
}
