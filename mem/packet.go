package mem

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/sim"
)

// PortID identifies a port of an interconnect. Source and destination fields
// of a Packet hold PortIDs that are meaningful to the interconnect only.
type PortID int

// Broadcast is the destination of a packet that should be routed by address.
const Broadcast PortID = -1

// PacketFlag marks a packet with coherence information.
type PacketFlag uint8

// Packet flags.
const (
	// MemInhibit is set by a snooper that will respond in place of memory.
	MemInhibit PacketFlag = 1 << iota
	// Shared is set by a snooper that keeps a copy.
	Shared
)

// Packet is the unit of communication between ports. A request packet is
// turned into its response in place, so the response carries the same
// Request and the same sender state stack.
type Packet struct {
	ID  string
	Req *Request
	Cmd MemCmd

	addr Addr
	size int

	src      PortID
	srcValid bool
	dest     PortID

	data        []byte
	staticData  bool
	dynamicData bool

	flags        PacketFlag
	senderStates []any

	// Time is the tick when the Request was timestamped.
	Time sim.Tick
	// FirstWordTime is when the first data word arrives at the receiver.
	FirstWordTime sim.Tick
	// FinishTime is when the last data word arrives at the receiver.
	FinishTime sim.Tick
}

// NewPacket creates a Packet that accesses the physical address of the
// Request.
func NewPacket(req *Request, cmd MemCmd, dest PortID) *Packet {
	return &Packet{
		Req:  req,
		Cmd:  cmd,
		addr: req.Paddr(),
		size: req.Size(),
		dest: dest,
		Time: req.Time(),
	}
}

// NewBlockPacket creates a Packet that accesses the whole block that holds
// the physical address of the Request. The block size must be a power of 2.
func NewBlockPacket(
	req *Request,
	cmd MemCmd,
	dest PortID,
	blockSize int,
) *Packet {
	if blockSize <= 0 || blockSize&(blockSize-1) != 0 {
		logrus.Panicf("block size %d is not a power of 2", blockSize)
	}

	pkt := NewPacket(req, cmd, dest)
	pkt.addr = req.Paddr() &^ Addr(blockSize-1)
	pkt.size = blockSize

	return pkt
}

// Addr returns the first address accessed.
func (p *Packet) Addr() Addr {
	return p.addr
}

// Size returns the number of bytes accessed.
func (p *Packet) Size() int {
	return p.size
}

// Range returns the accessed address range.
func (p *Packet) Range() AddrRange {
	return RangeSize(p.addr, uint64(p.size))
}

// Src returns the port that the packet came from.
func (p *Packet) Src() PortID {
	if !p.srcValid {
		logrus.Panicf("packet %s: source is not set", p)
	}

	return p.src
}

// HasSrc tells if the source is set.
func (p *Packet) HasSrc() bool {
	return p.srcValid
}

// SetSrc sets the source port.
func (p *Packet) SetSrc(src PortID) {
	p.src = src
	p.srcValid = true
}

// Dest returns the destination port, or Broadcast.
func (p *Packet) Dest() PortID {
	return p.dest
}

// SetDest sets the destination port.
func (p *Packet) SetDest(dest PortID) {
	p.dest = dest
}

// IsRequest tells if the packet is a request.
func (p *Packet) IsRequest() bool { return p.Cmd.IsRequest() }

// IsResponse tells if the packet is a response.
func (p *Packet) IsResponse() bool { return p.Cmd.IsResponse() }

// IsRead tells if the packet reads memory.
func (p *Packet) IsRead() bool { return p.Cmd.IsRead() }

// IsWrite tells if the packet writes memory.
func (p *Packet) IsWrite() bool { return p.Cmd.IsWrite() }

// IsInvalidate tells if the packet invalidates other copies.
func (p *Packet) IsInvalidate() bool { return p.Cmd.IsInvalidate() }

// IsLocked tells if the packet is a load-locked or store-conditional.
func (p *Packet) IsLocked() bool { return p.Cmd.IsLocked() }

// IsError tells if the packet is an error response.
func (p *Packet) IsError() bool { return p.Cmd.IsError() }

// IsPrint tells if the packet is a print request.
func (p *Packet) IsPrint() bool { return p.Cmd.IsPrint() }

// NeedsResponse tells if the receiver must respond.
func (p *Packet) NeedsResponse() bool { return p.Cmd.NeedsResponse() }

// HasData tells if the packet carries data on the wire.
func (p *Packet) HasData() bool { return p.Cmd.HasData() }

// MemInhibitAsserted tells if a snooper has taken over the response.
func (p *Packet) MemInhibitAsserted() bool { return p.flags&MemInhibit != 0 }

// AssertMemInhibit marks that a snooper will respond instead of memory.
func (p *Packet) AssertMemInhibit() { p.flags |= MemInhibit }

// SharedAsserted tells if a snooper keeps a copy.
func (p *Packet) SharedAsserted() bool { return p.flags&Shared != 0 }

// AssertShared marks that a snooper keeps a copy.
func (p *Packet) AssertShared() { p.flags |= Shared }

// MakeResponse turns the request into its response. The response goes back
// to the port the request came from.
func (p *Packet) MakeResponse() {
	if !p.IsRequest() || !p.NeedsResponse() {
		logrus.Panicf("packet %s does not need a response", p)
	}

	p.Cmd = p.Cmd.ResponseCommand()
	p.dest = p.src
	p.srcValid = false
}

// MakeAtomicResponse turns the request into its response in atomic mode.
func (p *Packet) MakeAtomicResponse() {
	p.MakeResponse()
}

// MakeTimingResponse turns the request into its response in timing mode.
func (p *Packet) MakeTimingResponse() {
	p.MakeResponse()
}

// SetNacked turns a response into a negative acknowledgement.
func (p *Packet) SetNacked() {
	if !p.IsResponse() {
		logrus.Panicf("packet %s: only responses can be nacked", p)
	}

	p.Cmd = NetworkNackError
}

// WasNacked tells if the response is a negative acknowledgement.
func (p *Packet) WasNacked() bool {
	return p.Cmd == NetworkNackError
}

// SetBadAddress turns a response into a bad address error.
func (p *Packet) SetBadAddress() {
	if !p.IsResponse() {
		logrus.Panicf("packet %s: only responses can carry bad address", p)
	}

	p.Cmd = BadAddressError
}

// HadBadAddress tells if the response is a bad address error.
func (p *Packet) HadBadAddress() bool {
	return p.Cmd == BadAddressError
}

// Reinit prepares the packet to be sent again for the same Request.
func (p *Packet) Reinit() {
	p.flags = 0
	p.addr = p.Req.Paddr()
	p.size = p.Req.Size()
	p.Time = p.Req.Time()
	p.dest = Broadcast
	p.srcValid = false
	p.FirstWordTime = 0
	p.FinishTime = 0
}

// DataStatic lets the packet use a buffer that the sender keeps owning.
func (p *Packet) DataStatic(buf []byte) {
	p.mustHaveNoData()
	p.mustFit(buf)
	p.data = buf
	p.staticData = true
}

// DataDynamic hands the buffer over to the packet.
func (p *Packet) DataDynamic(buf []byte) {
	p.mustHaveNoData()
	p.mustFit(buf)
	p.data = buf
	p.dynamicData = true
}

func (p *Packet) mustHaveNoData() {
	if p.staticData || p.dynamicData {
		logrus.Panicf("packet %s already has data", p)
	}
}

func (p *Packet) mustFit(buf []byte) {
	if len(buf) < p.size {
		logrus.Panicf("packet %s: buffer of %d bytes is too small",
			p, len(buf))
	}
}

// Allocate gives the packet its own buffer if it has none.
func (p *Packet) Allocate() {
	if p.data != nil {
		return
	}

	if p.staticData {
		logrus.Panicf("packet %s: static data is nil", p)
	}

	p.data = make([]byte, p.size)
	p.dynamicData = true
}

// HasDataBuffer tells if the packet has a data buffer.
func (p *Packet) HasDataBuffer() bool {
	return p.data != nil
}

// IsStaticData tells if the data buffer is owned by the sender.
func (p *Packet) IsStaticData() bool {
	return p.staticData
}

// Data returns the accessed bytes.
func (p *Packet) Data() []byte {
	if p.data == nil {
		logrus.Panicf("packet %s has no data", p)
	}

	return p.data[:p.size]
}

// DeleteData drops the data buffer. A static buffer is left to the sender.
func (p *Packet) DeleteData() {
	if !p.staticData && !p.dynamicData {
		logrus.Panicf("packet %s has no data to delete", p)
	}

	p.data = nil
	p.staticData = false
	p.dynamicData = false
}

func (p *Packet) mustBeSize(n int) []byte {
	if p.size != n {
		logrus.Panicf("packet %s: accessing %d bytes of a %d byte packet",
			p, n, p.size)
	}

	return p.Data()
}

// GetUint8 reads the data as a byte.
func (p *Packet) GetUint8() uint8 {
	return p.mustBeSize(1)[0]
}

// GetUint16 reads the data as a little-endian uint16.
func (p *Packet) GetUint16() uint16 {
	return binary.LittleEndian.Uint16(p.mustBeSize(2))
}

// GetUint32 reads the data as a little-endian uint32.
func (p *Packet) GetUint32() uint32 {
	return binary.LittleEndian.Uint32(p.mustBeSize(4))
}

// GetUint64 reads the data as a little-endian uint64.
func (p *Packet) GetUint64() uint64 {
	return binary.LittleEndian.Uint64(p.mustBeSize(8))
}

// SetUint8 writes a byte.
func (p *Packet) SetUint8(v uint8) {
	p.mustBeSize(1)[0] = v
}

// SetUint16 writes a little-endian uint16.
func (p *Packet) SetUint16(v uint16) {
	binary.LittleEndian.PutUint16(p.mustBeSize(2), v)
}

// SetUint32 writes a little-endian uint32.
func (p *Packet) SetUint32(v uint32) {
	binary.LittleEndian.PutUint32(p.mustBeSize(4), v)
}

// SetUint64 writes a little-endian uint64.
func (p *Packet) SetUint64(v uint64) {
	binary.LittleEndian.PutUint64(p.mustBeSize(8), v)
}

// PushSenderState saves state that the sender needs when the response comes
// back.
func (p *Packet) PushSenderState(s any) {
	p.senderStates = append(p.senderStates, s)
}

// PopSenderState removes and returns the most recent sender state.
func (p *Packet) PopSenderState() any {
	n := len(p.senderStates)
	if n == 0 {
		logrus.Panicf("packet %s has no sender state", p)
	}

	s := p.senderStates[n-1]
	p.senderStates[n-1] = nil
	p.senderStates = p.senderStates[:n-1]

	return s
}

// SenderState returns the most recent sender state without removing it.
func (p *Packet) SenderState() any {
	n := len(p.senderStates)
	if n == 0 {
		return nil
	}

	return p.senderStates[n-1]
}

// CheckFunctional checks a functional access against a value held by obj at
// [addr, addr+len(data)). A read that is fully covered is satisfied and
// turned into a response. A write updates the overlapping bytes of data.
// It returns true if the functional access is complete.
func (p *Packet) CheckFunctional(obj Printable, addr Addr, data []byte) bool {
	size := len(data)
	if size == 0 || p.size == 0 {
		return false
	}

	funcStart := p.addr
	funcEnd := p.addr + Addr(p.size) - 1
	valStart := addr
	valEnd := addr + Addr(size) - 1

	if funcStart > valEnd || valStart > funcEnd {
		return false
	}

	if p.IsPrint() {
		state, ok := p.SenderState().(*PrintReqState)
		if !ok {
			logrus.Panicf("print packet %s has no print state", p)
		}

		state.PrintObj(obj)

		return false
	}

	switch {
	case p.IsRead():
		if funcStart < valStart || funcEnd > valEnd {
			logrus.Panicf("value [%#x:%#x] only partially satisfies "+
				"the functional request %s", valStart, valEnd, p)
		}

		p.Allocate()
		offset := funcStart - valStart
		copy(p.Data(), data[offset:offset+Addr(p.size)])
		p.MakeResponse()

		return true
	case p.IsWrite():
		overlapStart := max(funcStart, valStart)
		overlapEnd := min(funcEnd, valEnd)
		copy(data[overlapStart-valStart:overlapEnd-valStart+1],
			p.Data()[overlapStart-funcStart:overlapEnd-funcStart+1])

		return false
	default:
		logrus.Panicf("cannot check functional access of %s", p)
	}

	return false
}

// Print writes a one line description of the packet.
func (p *Packet) Print(w io.Writer, _ int, prefix string) {
	fmt.Fprintf(w, "%s[%x:%x] %s\n",
		prefix, uint64(p.addr), uint64(p.addr)+uint64(p.size)-1, p.Cmd)
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s [%#x:%#x]",
		p.Cmd, uint64(p.addr), uint64(p.addr)+uint64(p.size))
}
