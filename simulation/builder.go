package simulation

import (
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/datarecording"
	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/monitoring"
	"github.com/sarchlab/membus/sim"
)

// Builder can be used to build a simulation.
type Builder struct {
	parallelIDs    bool
	monitorOn      bool
	monitorPort    int
	recordingOn    bool
	outputFileName string
	dataRecorder   datarecording.DataRecorder
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		monitorOn:   true,
		recordingOn: true,
	}
}

// WithParallelIDGenerator makes the simulation generate globally unique IDs
// instead of sequential ones.
func (b Builder) WithParallelIDGenerator() Builder {
	b.parallelIDs = true
	return b
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithoutRecording sets the simulation to not record data.
func (b Builder) WithoutRecording() Builder {
	b.recordingOn = false
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithDataRecorder uses the given recorder instead of a SQLite file.
func (b Builder) WithDataRecorder(r datarecording.DataRecorder) Builder {
	b.dataRecorder = r
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		logrus.Panic("monitor port cannot be set when monitoring is disabled")
	}

	if !b.recordingOn && (b.outputFileName != "" || b.dataRecorder != nil) {
		logrus.Panic("recording output cannot be set when recording is disabled")
	}

	if b.outputFileName != "" && b.dataRecorder != nil {
		logrus.Panic("output file name and data recorder cannot both be set")
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:           xid.New().String(),
		objNameIndex: make(map[string]int),
	}

	s.queue = sim.NewEventQueue("queue")
	s.registry = mem.NewPortRegistry(s.queue)

	s.idGenerator = sim.NewSequentialIDGenerator()
	if b.parallelIDs {
		s.idGenerator = sim.NewParallelIDGenerator()
	}

	if b.recordingOn {
		s.dataRecorder = b.dataRecorder

		if s.dataRecorder == nil {
			outputPath := b.outputFileName
			if outputPath == "" {
				outputPath = "membus_sim_" + s.id
			}

			s.dataRecorder = datarecording.New(outputPath)
		}
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}

		s.monitor.RegisterEventQueue(s.queue)
		s.monitor.RegisterPortRegistry(s.registry)
		s.monitor.StartServer()
	}

	return s
}
