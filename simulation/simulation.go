// Package simulation bundles the services that the objects of one
// simulation share.
package simulation

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/datarecording"
	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/monitoring"
	"github.com/sarchlab/membus/sim"
	"github.com/sarchlab/membus/sim/checkpoint"
)

// Initer is an object that must be initialized once everything is connected.
type Initer interface {
	Init()
}

// Starter is an object that schedules its first events at startup.
type Starter interface {
	Startup()
}

// Resumer is an object that continues after a drain.
type Resumer interface {
	Resume()
}

// A Simulation owns the event queue, the port registry and the objects of
// one simulated system. Simulations do not share state, so several of them
// can live in the same process.
type Simulation struct {
	id string

	queue       *sim.EventQueue
	registry    *mem.PortRegistry
	idGenerator sim.IDGenerator

	dataRecorder datarecording.DataRecorder
	monitor      *monitoring.Monitor

	objects      []mem.MemObject
	objNameIndex map[string]int

	started bool
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// GetEventQueue returns the queue that the simulation runs on.
func (s *Simulation) GetEventQueue() *sim.EventQueue {
	return s.queue
}

// GetPortRegistry returns the registry that owns the ports.
func (s *Simulation) GetPortRegistry() *mem.PortRegistry {
	return s.registry
}

// GetIDGenerator returns the generator of the IDs of the requests.
func (s *Simulation) GetIDGenerator() sim.IDGenerator {
	return s.idGenerator
}

// GetDataRecorder returns the data recorder used in the simulation, or nil.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor used in the simulation, or nil.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// RegisterMemObject registers an object with the simulation.
func (s *Simulation) RegisterMemObject(o mem.MemObject) {
	name := o.Name()
	if _, found := s.objNameIndex[name]; found {
		logrus.Panicf("object %s already registered", name)
	}

	s.objects = append(s.objects, o)
	s.objNameIndex[name] = len(s.objects) - 1

	if s.monitor != nil {
		s.monitor.RegisterMemObject(o)
	}
}

// MemObjects returns the registered objects in registration order.
func (s *Simulation) MemObjects() []mem.MemObject {
	return s.objects
}

// GetMemObjectByName returns the object with the given name, or nil.
func (s *Simulation) GetMemObjectByName(name string) mem.MemObject {
	idx, found := s.objNameIndex[name]
	if !found {
		return nil
	}

	return s.objects[idx]
}

// GetPortByName returns the live port with the given name, or nil.
func (s *Simulation) GetPortByName(name string) *mem.Port {
	for _, p := range s.registry.Ports() {
		if p.Name() == name {
			return p
		}
	}

	return nil
}

// Init initializes all the objects, then starts them. It can only be called
// once.
func (s *Simulation) Init() {
	if s.started {
		logrus.Panicf("simulation %s already initialized", s.id)
	}

	for _, o := range s.objects {
		if i, ok := o.(Initer); ok {
			i.Init()
		}
	}

	for _, o := range s.objects {
		if st, ok := o.(Starter); ok {
			st.Startup()
		}
	}

	s.started = true
}

// Run services events until the queue is empty, an exit event fires, or the
// limit is reached. A limit of 0 means no limit.
func (s *Simulation) Run(limit sim.Tick) (sim.ExitInfo, error) {
	if !s.started {
		s.Init()
	}

	if limit > 0 {
		return s.queue.RunUntil(limit)
	}

	return s.queue.Run()
}

// Drain asks every object to finish what it has in flight and runs the
// queue until they all did.
func (s *Simulation) Drain() (sim.ExitInfo, error) {
	de := sim.NewDrainEvent(s.queue)

	count := 0

	for _, o := range s.objects {
		if d, ok := o.(sim.Drainable); ok {
			count += d.Drain(de)
		}
	}

	if count == 0 {
		return sim.ExitInfo{Cause: sim.CauseDrained, Tick: s.queue.Now()}, nil
	}

	de.SetCount(count)

	info, err := s.queue.Run()
	if err != nil {
		return info, err
	}

	if info.Cause != sim.CauseDrained {
		return info, fmt.Errorf("drain stopped with %q, %d objects busy",
			info.Cause, de.Count())
	}

	return info, nil
}

// Resume lets the objects continue after a drain.
func (s *Simulation) Resume() {
	for _, o := range s.objects {
		if r, ok := o.(Resumer); ok {
			r.Resume()
		}
	}
}

// Serialize saves every object that can be saved, one section per object.
func (s *Simulation) Serialize(cp *checkpoint.Checkpoint) {
	cp.SetTick("simulation", "now", s.queue.Now())

	for _, o := range s.objects {
		if ser, ok := o.(checkpoint.Serializable); ok {
			ser.Serialize(cp, o.Name())
		}
	}
}

// Unserialize restores the time and every object that can be saved. It must
// be called before the simulation is initialized.
func (s *Simulation) Unserialize(cp *checkpoint.Checkpoint) error {
	if s.started {
		return fmt.Errorf("simulation %s: restoring after initialization",
			s.id)
	}

	now, err := cp.GetTick("simulation", "now")
	if err != nil {
		return err
	}

	s.queue.RestoreNow(now)

	var errs []error

	for _, o := range s.objects {
		if ser, ok := o.(checkpoint.Serializable); ok {
			errs = append(errs, ser.Unserialize(cp, o.Name()))
		}
	}

	return errors.Join(errs...)
}

// Terminate ends the simulation. It calls the simulation end handlers,
// closes the recorder and stops the monitor.
func (s *Simulation) Terminate() error {
	s.queue.Finished()

	var errs []error

	if s.dataRecorder != nil {
		errs = append(errs, s.dataRecorder.Close())
	}

	if s.monitor != nil {
		errs = append(errs, s.monitor.StopServer())
	}

	return errors.Join(errs...)
}
