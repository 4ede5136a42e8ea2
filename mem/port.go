package mem

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/sim"
)

// HookPosPortSendTiming marks when a packet is offered in timing mode. The
// hook detail is whether the packet is accepted.
var HookPosPortSendTiming = &sim.HookPos{Name: "Port Send Timing"}

// HookPosPortSendAtomic marks when a packet is sent in atomic mode. The hook
// detail is the latency.
var HookPosPortSendAtomic = &sim.HookPos{Name: "Port Send Atomic"}

// HookPosPortSendFunctional marks when a packet is sent in functional mode.
var HookPosPortSendFunctional = &sim.HookPos{Name: "Port Send Functional"}

// HookPosPortRetry marks when a port tells its peer to retry.
var HookPosPortRetry = &sim.HookPos{Name: "Port Retry"}

// Status is a notification that a port sends to its peer.
type Status int

// Port status notifications.
const (
	RangeChange Status = iota
)

// Receiver is the set of operations that a port performs when its peer sends
// something to it.
type Receiver interface {
	// RecvTiming offers a packet. Returning false refuses the packet, and the
	// receiver must call SendRetry once it can accept again.
	RecvTiming(pkt *Packet) bool

	// RecvAtomic completes the access immediately and returns its latency.
	RecvAtomic(pkt *Packet) sim.Tick

	// RecvFunctional completes the access immediately without timing.
	RecvFunctional(pkt *Packet)

	// RecvStatusChange notifies a change of the peer.
	RecvStatusChange(status Status)

	// RecvRetry tells that a previously refused packet can be sent again.
	RecvRetry()

	// DeviceBlockSize returns the block size of the device, or 0 if the
	// device can accept any size.
	DeviceBlockSize() int

	// GetDeviceAddressRanges returns the addresses the device responds to and
	// whether it snoops.
	GetDeviceAddressRanges() (ranges AddrRangeList, snoop bool)
}

// ReceiverBase provides the defaults of the Receiver operations that most
// receivers do not need.
type ReceiverBase struct {
}

// RecvRetry panics as the port never refuses a packet.
func (ReceiverBase) RecvRetry() {
	logrus.Panic("this port does not expect a retry")
}

// DeviceBlockSize returns 0 as the device accepts any size.
func (ReceiverBase) DeviceBlockSize() int {
	return 0
}

// GetDeviceAddressRanges panics as the device does not respond to addresses.
func (ReceiverBase) GetDeviceAddressRanges() (AddrRangeList, bool) {
	logrus.Panic("this port does not provide address ranges")
	return nil, false
}

type unconnectedPeer struct {
	port string
}

func (u unconnectedPeer) blowUp() {
	logrus.Panicf("%s: unconnected port", u.port)
}

func (u unconnectedPeer) RecvTiming(*Packet) bool {
	u.blowUp()
	return false
}

func (u unconnectedPeer) RecvAtomic(*Packet) sim.Tick {
	u.blowUp()
	return 0
}

func (u unconnectedPeer) RecvFunctional(*Packet) {
	u.blowUp()
}

func (u unconnectedPeer) RecvStatusChange(Status) {
	u.blowUp()
}

func (u unconnectedPeer) RecvRetry() {
	u.blowUp()
}

func (u unconnectedPeer) DeviceBlockSize() int {
	u.blowUp()
	return 0
}

func (u unconnectedPeer) GetDeviceAddressRanges() (AddrRangeList, bool) {
	u.blowUp()
	return nil, false
}

// A Port is one end of a point-to-point connection. The owner sends through
// the port, and the Receiver handles what the peer sends.
type Port struct {
	sim.HookableBase

	name     string
	owner    MemObject
	recv     Receiver
	registry *PortRegistry
	self     PortHandle
	peer     PortHandle

	blocked bool
}

// NewPort creates a port and adds it to the registry. The owner can be nil.
func NewPort(
	registry *PortRegistry,
	name string,
	owner MemObject,
	recv Receiver,
) *Port {
	if recv == nil {
		logrus.Panicf("port %s must have a receiver", name)
	}

	p := &Port{
		name:     name,
		owner:    owner,
		recv:     recv,
		registry: registry,
	}
	p.self = registry.register(p)

	return p
}

// Name returns the name of the port.
func (p *Port) Name() string {
	return p.name
}

// Owner returns the MemObject that owns the port, or nil.
func (p *Port) Owner() MemObject {
	return p.owner
}

// Receiver returns the receiver of the port.
func (p *Port) Receiver() Receiver {
	return p.recv
}

// Handle returns the handle of the port in its registry.
func (p *Port) Handle() PortHandle {
	return p.self
}

// Peer returns the connected port, or nil if the port is not connected or
// the peer is released.
func (p *Port) Peer() *Port {
	return p.registry.Resolve(p.peer)
}

// IsConnected tells if the port has a live peer.
func (p *Port) IsConnected() bool {
	return p.Peer() != nil
}

// Blocked tells if the last timing packet was refused and the retry has not
// arrived yet.
func (p *Port) Blocked() bool {
	return p.blocked
}

// SetPeer sets the peer of this port only.
func (p *Port) SetPeer(peer *Port) {
	if peer.registry != p.registry {
		logrus.Panicf("connecting %s and %s of different registries",
			p.name, peer.name)
	}

	logrus.WithFields(logrus.Fields{
		"port": p.name,
		"peer": peer.name,
	}).Debug("setting peer")

	p.peer = peer.self
}

// Connect connects two ports to each other.
func Connect(a, b *Port) {
	if peer := a.Peer(); peer != nil && peer != b {
		logrus.Panicf("port %s is already connected to %s", a.name, peer.name)
	}

	if peer := b.Peer(); peer != nil && peer != a {
		logrus.Panicf("port %s is already connected to %s", b.name, peer.name)
	}

	a.SetPeer(b)
	b.SetPeer(a)
}

// RemoveConn disconnects the port. The owner of the peer is asked to drop
// the peer port.
func (p *Port) RemoveConn() {
	peer := p.Peer()
	p.peer = PortHandle{}

	if peer == nil {
		return
	}

	if peer.Peer() == p {
		peer.peer = PortHandle{}
	}

	if peer.owner != nil {
		peer.owner.DeletePortRefs(peer)
	}
}

func (p *Port) peerReceiver() Receiver {
	peer := p.Peer()
	if peer == nil {
		return unconnectedPeer{port: p.name}
	}

	return peer.recv
}

// SendTiming offers a packet to the peer. If the peer refuses, the port is
// blocked until the peer calls SendRetry, and sending another packet before
// that is a protocol error.
func (p *Port) SendTiming(pkt *Packet) bool {
	if p.blocked {
		logrus.Panicf("%s: sending %s while waiting for a retry", p.name, pkt)
	}

	ok := p.peerReceiver().RecvTiming(pkt)
	if !ok {
		p.blocked = true
	}

	if p.NumHooks() > 0 {
		p.InvokeHook(sim.HookCtx{
			Domain: p,
			Now:    p.registry.now(),
			Pos:    HookPosPortSendTiming,
			Item:   pkt,
			Detail: ok,
		})
	}

	return ok
}

// SendAtomic sends a packet to the peer, which completes it immediately. It
// returns the latency of the access.
func (p *Port) SendAtomic(pkt *Packet) sim.Tick {
	latency := p.peerReceiver().RecvAtomic(pkt)

	if p.NumHooks() > 0 {
		p.InvokeHook(sim.HookCtx{
			Domain: p,
			Now:    p.registry.now(),
			Pos:    HookPosPortSendAtomic,
			Item:   pkt,
			Detail: latency,
		})
	}

	return latency
}

// SendFunctional sends a packet to the peer, which completes it without
// changing any timing state.
func (p *Port) SendFunctional(pkt *Packet) {
	p.peerReceiver().RecvFunctional(pkt)

	if p.NumHooks() > 0 {
		p.InvokeHook(sim.HookCtx{
			Domain: p,
			Now:    p.registry.now(),
			Pos:    HookPosPortSendFunctional,
			Item:   pkt,
		})
	}
}

// SendRetry tells the blocked peer that it can send again.
func (p *Port) SendRetry() {
	peer := p.Peer()
	if peer == nil {
		unconnectedPeer{port: p.name}.RecvRetry()
		return
	}

	if !peer.blocked {
		logrus.Panicf("%s: sending retry to %s, which is not waiting for one",
			p.name, peer.name)
	}

	peer.blocked = false

	if p.NumHooks() > 0 {
		p.InvokeHook(sim.HookCtx{
			Domain: p,
			Now:    p.registry.now(),
			Pos:    HookPosPortRetry,
			Item:   peer,
		})
	}

	peer.recv.RecvRetry()
}

// SendStatusChange notifies the peer.
func (p *Port) SendStatusChange(status Status) {
	p.peerReceiver().RecvStatusChange(status)
}

// PeerBlockSize returns the block size of the peer device.
func (p *Port) PeerBlockSize() int {
	return p.peerReceiver().DeviceBlockSize()
}

// GetPeerAddressRanges returns the addresses the peer responds to and
// whether the peer snoops.
func (p *Port) GetPeerAddressRanges() (AddrRangeList, bool) {
	return p.peerReceiver().GetDeviceAddressRanges()
}

// Release removes the port from its registry. Handles held by peers become
// stale.
func (p *Port) Release() {
	p.registry.Release(p)
}
