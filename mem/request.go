package mem

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/sim"
)

// RequestFlags describe the attributes of a memory access.
type RequestFlags uint32

// Request flags.
const (
	ASIBits              RequestFlags = 0x000FF
	Locked               RequestFlags = 0x00100
	Physical             RequestFlags = 0x00200
	VPTE                 RequestFlags = 0x00400
	AltMode              RequestFlags = 0x00800
	Uncacheable          RequestFlags = 0x01000
	NoFault              RequestFlags = 0x02000
	PFExclusive          RequestFlags = 0x10000
	EvictNext            RequestFlags = 0x20000
	NoAlignFault         RequestFlags = 0x40000
	InstRead             RequestFlags = 0x80000
	MemSwap              RequestFlags = 0x100000
	MemSwapCond          RequestFlags = 0x200000
	NoHalfWordAlignFault RequestFlags = 0x400000
)

// Request describes one memory access. A Request is shared by the request
// Packet and its response Packet and outlives both.
//
// A Request is either physical (set with SetPhys) or virtual (set with
// SetVirt). Reading a field that is not valid in the current state panics.
type Request struct {
	ID string

	clock sim.TimeTeller

	paddr     Addr
	size      int
	flags     RequestFlags
	time      sim.Tick
	asid      int
	mmapedIpr bool
	vaddr     Addr
	extraData uint64
	cpuNum    int
	threadNum int
	pc        Addr

	validPaddr            bool
	validAsidVaddr        bool
	validExData           bool
	validCPUAndThreadNums bool
	validPC               bool
}

// NewRequest creates a Request without any valid field. The time teller is
// used to timestamp the request when its address is set. It can be nil, in
// which case the timestamp is 0.
func NewRequest(clock sim.TimeTeller) *Request {
	return &Request{clock: clock}
}

// NewPhysRequest creates a physical Request.
func NewPhysRequest(
	clock sim.TimeTeller,
	paddr Addr,
	size int,
	flags RequestFlags,
) *Request {
	r := NewRequest(clock)
	r.SetPhys(paddr, size, flags)

	return r
}

func (r *Request) now() sim.Tick {
	if r.clock == nil {
		return 0
	}

	return r.clock.Now()
}

// SetThreadContext records the CPU and thread that issued the request.
func (r *Request) SetThreadContext(cpuNum, threadNum int) {
	r.cpuNum = cpuNum
	r.threadNum = threadNum
	r.validCPUAndThreadNums = true
}

// SetPhys turns the request into a physical request.
func (r *Request) SetPhys(paddr Addr, size int, flags RequestFlags) {
	r.paddr = paddr
	r.size = size
	r.flags = flags
	r.time = r.now()
	r.validPaddr = true
	r.validAsidVaddr = false
	r.validPC = false
	r.validExData = false
	r.mmapedIpr = false
}

// SetVirt turns the request into a virtual request.
func (r *Request) SetVirt(
	asid int,
	vaddr Addr,
	size int,
	flags RequestFlags,
	pc Addr,
) {
	r.asid = asid
	r.vaddr = vaddr
	r.size = size
	r.flags = flags
	r.pc = pc
	r.time = r.now()
	r.validPaddr = false
	r.validAsidVaddr = true
	r.validPC = true
	r.validExData = false
	r.mmapedIpr = false
}

// SetPaddr records the result of a translation. The virtual address must be
// valid.
func (r *Request) SetPaddr(paddr Addr) {
	r.mustHave(r.validAsidVaddr, "vaddr")
	r.paddr = paddr
	r.validPaddr = true
}

func (r *Request) mustHave(valid bool, field string) {
	if !valid {
		logrus.Panicf("request %s: accessing invalid field %s", r.ID, field)
	}
}

// HasPaddr tells if the physical address is valid.
func (r *Request) HasPaddr() bool { return r.validPaddr }

// HasVaddr tells if the virtual address and address space are valid.
func (r *Request) HasVaddr() bool { return r.validAsidVaddr }

// Paddr returns the physical address.
func (r *Request) Paddr() Addr {
	r.mustHave(r.validPaddr, "paddr")
	return r.paddr
}

// Size returns the number of bytes accessed.
func (r *Request) Size() int {
	r.mustHave(r.validPaddr || r.validAsidVaddr, "size")
	return r.size
}

// Time returns the tick at which the address was set.
func (r *Request) Time() sim.Tick {
	r.mustHave(r.validPaddr || r.validAsidVaddr, "time")
	return r.time
}

// Flags returns the flags.
func (r *Request) Flags() RequestFlags {
	r.mustHave(r.validPaddr || r.validAsidVaddr, "flags")
	return r.flags
}

// SetFlags replaces the flags.
func (r *Request) SetFlags(flags RequestFlags) {
	r.mustHave(r.validPaddr || r.validAsidVaddr, "flags")
	r.flags = flags
}

// Vaddr returns the virtual address.
func (r *Request) Vaddr() Addr {
	r.mustHave(r.validAsidVaddr, "vaddr")
	return r.vaddr
}

// Asid returns the address space ID.
func (r *Request) Asid() int {
	r.mustHave(r.validAsidVaddr, "asid")
	return r.asid
}

// Asi returns the address space identifier bits of the flags.
func (r *Request) Asi() uint8 {
	r.mustHave(r.validAsidVaddr, "asi")
	return uint8(r.flags & ASIBits)
}

// SetAsi replaces the address space identifier bits of the flags.
func (r *Request) SetAsi(a uint8) {
	r.mustHave(r.validAsidVaddr, "asi")
	r.flags = (r.flags &^ ASIBits) | RequestFlags(a)
}

// IsMmapedIpr tells if the request targets a memory mapped register.
func (r *Request) IsMmapedIpr() bool {
	r.mustHave(r.validPaddr, "mmapedIpr")
	return r.mmapedIpr
}

// SetMmapedIpr marks the request as targeting a memory mapped register.
func (r *Request) SetMmapedIpr(v bool) {
	r.mustHave(r.validAsidVaddr, "mmapedIpr")
	r.mmapedIpr = v
}

// ExtraDataValid tells if the extra data is set.
func (r *Request) ExtraDataValid() bool { return r.validExData }

// ExtraData returns the store conditional result or the compare value of a
// conditional swap.
func (r *Request) ExtraData() uint64 {
	r.mustHave(r.validExData, "extraData")
	return r.extraData
}

// SetExtraData sets the extra data.
func (r *Request) SetExtraData(v uint64) {
	r.extraData = v
	r.validExData = true
}

// CPUNum returns the issuing CPU.
func (r *Request) CPUNum() int {
	r.mustHave(r.validCPUAndThreadNums, "cpuNum")
	return r.cpuNum
}

// ThreadNum returns the issuing thread.
func (r *Request) ThreadNum() int {
	r.mustHave(r.validCPUAndThreadNums, "threadNum")
	return r.threadNum
}

// HasThreadContext tells if the CPU and thread numbers are valid.
func (r *Request) HasThreadContext() bool { return r.validCPUAndThreadNums }

// PC returns the program counter of the issuing instruction.
func (r *Request) PC() Addr {
	r.mustHave(r.validPC, "pc")
	return r.pc
}

// IsUncacheable tells if the access bypasses caches.
func (r *Request) IsUncacheable() bool { return r.Flags()&Uncacheable != 0 }

// IsInstRead tells if the access is an instruction fetch.
func (r *Request) IsInstRead() bool { return r.Flags()&InstRead != 0 }

// IsLocked tells if the access is a load-locked or store-conditional.
func (r *Request) IsLocked() bool { return r.Flags()&Locked != 0 }

// IsSwap tells if the access is a swap or a conditional swap.
func (r *Request) IsSwap() bool {
	return r.Flags()&(MemSwap|MemSwapCond) != 0
}

// IsCondSwap tells if the access is a conditional swap.
func (r *Request) IsCondSwap() bool { return r.Flags()&MemSwapCond != 0 }

// IsMisaligned tells if the virtual address violates the alignment that the
// flags require.
func (r *Request) IsMisaligned() bool {
	flags := r.Flags()
	if flags&NoAlignFault != 0 {
		return false
	}

	vaddr := r.Vaddr()
	if vaddr&1 != 0 {
		return true
	}

	return flags&NoHalfWordAlignFault == 0 && vaddr&2 != 0
}
