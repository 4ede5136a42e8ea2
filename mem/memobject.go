package mem

import (
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/sim"
)

// A MemObject is a component that communicates through ports.
type MemObject interface {
	sim.Named

	// GetPort returns the port with the given interface name. Index -1 asks
	// for a new port on interfaces that can have many.
	GetPort(ifName string, idx int) *Port

	// DeletePortRefs drops a port that the peer has disconnected.
	DeletePortRefs(p *Port)
}

// MemObjectBase keeps the name and the ports of a MemObject.
type MemObjectBase struct {
	name  string
	ports map[string]*Port
}

// NewMemObjectBase creates a MemObjectBase.
func NewMemObjectBase(name string) *MemObjectBase {
	return &MemObjectBase{
		name:  name,
		ports: make(map[string]*Port),
	}
}

// Name returns the name of the object.
func (b *MemObjectBase) Name() string {
	return b.name
}

// AddPort remembers a port by name.
func (b *MemObjectBase) AddPort(name string, port *Port) {
	if _, found := b.ports[name]; found {
		logrus.Panicf("%s: port %s already exist", b.name, name)
	}

	b.ports[name] = port
}

// RemovePort forgets a port.
func (b *MemObjectBase) RemovePort(name string) {
	delete(b.ports, name)
}

// PortByName returns the port with the given name. This function panics
// when the given name is not found.
func (b *MemObjectBase) PortByName(name string) *Port {
	port, found := b.ports[name]
	if !found {
		errMsg := fmt.Sprintf(
			"Port %s is not available.\n", name)
		errMsg += "Available ports include:\n"

		for n := range b.ports {
			errMsg += fmt.Sprintf("\t%s\n", n)
		}

		fmt.Fprint(os.Stderr, errMsg)

		logrus.Panicf("%s: port %s not found", b.name, name)
	}

	return port
}

// Ports returns all the ports ordered by name.
func (b *MemObjectBase) Ports() []*Port {
	names := make([]string, 0, len(b.ports))

	for k := range b.ports {
		names = append(names, k)
	}

	sort.Strings(names)

	list := make([]*Port, 0, len(b.ports))

	for _, name := range names {
		list = append(list, b.ports[name])
	}

	return list
}

// DeletePortRefs panics as most objects do not support removing ports.
func (b *MemObjectBase) DeletePortRefs(p *Port) {
	logrus.Panicf("%s does not support port deletion (%s)", b.name, p.Name())
}

// ConnectPorts asks two objects for their ports and connects them.
func ConnectPorts(
	a MemObject, aIf string, aIdx int,
	b MemObject, bIf string, bIdx int,
) (*Port, *Port) {
	pa := a.GetPort(aIf, aIdx)
	pb := b.GetPort(bIf, bIdx)
	Connect(pa, pb)

	return pa, pb
}
