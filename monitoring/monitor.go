// Package monitoring serves the state of a running simulation over HTTP and
// lets the user pause and continue it.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/monitoring/web"
	"github.com/sarchlab/membus/sim"
)

// Monitor can turn a simulation into a server and allows external monitoring
// controlling of the simulation.
type Monitor struct {
	queue       *sim.EventQueue
	registry    *mem.PortRegistry
	objects     []mem.MemObject
	idGenerator sim.IDGenerator
	portNumber  int

	server   *http.Server
	listener net.Listener

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		idGenerator: sim.NewSequentialIDGenerator(),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		logrus.Warnf("Port number %d is assigned to the monitoring server, "+
			"which is not allowed. Using a random port instead.", portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEventQueue registers the queue that runs the simulation.
func (m *Monitor) RegisterEventQueue(q *sim.EventQueue) {
	m.queue = q
}

// RegisterPortRegistry registers the registry that owns all the ports.
func (m *Monitor) RegisterPortRegistry(r *mem.PortRegistry) {
	m.registry = r
}

// RegisterMemObject registers an object to be monitored.
func (m *Monitor) RegisterMemObject(o mem.MemObject) {
	m.objects = append(m.objects, o)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.idGenerator.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler of all the routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseQueue)
	r.HandleFunc("/api/continue", m.continueQueue)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/run", m.run)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/ports", m.listPorts)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server with a custom port if wanted.
// It returns the port that the server listens on.
func (m *Monitor) StartServer() int {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	port := listener.Addr().(*net.TCPAddr).Port
	logrus.Infof("Monitoring simulation with http://localhost:%d", port)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			logrus.Panic(err)
		}
	}()

	return port
}

// Port returns the port that the server listens on, or 0 if it is not
// started.
func (m *Monitor) Port() int {
	if m.listener == nil {
		return 0
	}

	return m.listener.Addr().(*net.TCPAddr).Port
}

// StopServer closes the web server.
func (m *Monitor) StopServer() error {
	if m.server == nil {
		return nil
	}

	return m.server.Close()
}

// inspect runs f while no event is being handled.
func (m *Monitor) inspect(f func()) {
	if m.queue != nil && !m.queue.Paused() {
		m.queue.Pause()
		defer m.queue.Continue()
	}

	f()
}

func (m *Monitor) pauseQueue(w http.ResponseWriter, _ *http.Request) {
	m.queue.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueQueue(w http.ResponseWriter, _ *http.Request) {
	m.queue.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"now\":%d,\"paused\":%t}",
		m.queue.Now(), m.queue.Paused())
}

func (m *Monitor) run(w http.ResponseWriter, _ *http.Request) {
	go func() {
		_, err := m.queue.Run()
		if err != nil {
			logrus.WithError(err).Error("simulation failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.objects))
	for _, o := range m.objects {
		names = append(names, o.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	object := m.findObjectOr404(w, name)
	if object == nil {
		return
	}

	buf := bytes.NewBuffer(nil)

	var err error

	m.inspect(func() {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(object)
		serializer.SetMaxDepth(1)
		err = serializer.Serialize(buf)
	})

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_, err = w.Write(buf.Bytes())
	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	object := m.findObjectOr404(w, req.CompName)
	if object == nil {
		return
	}

	buf := bytes.NewBuffer(nil)

	m.inspect(func() {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(object)
		serializer.SetMaxDepth(1)

		err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
		if err == nil {
			err = serializer.Serialize(buf)
		}
	})

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	_, err = w.Write(buf.Bytes())
	dieOnErr(err)
}

// PortStatus is the state of a port reported by /api/ports.
type PortStatus struct {
	Name    string `json:"name"`
	Owner   string `json:"owner,omitempty"`
	Peer    string `json:"peer,omitempty"`
	Blocked bool   `json:"blocked"`
}

func (m *Monitor) listPorts(w http.ResponseWriter, _ *http.Request) {
	var ports []PortStatus

	m.inspect(func() {
		ports = m.portStatuses()
	})

	writeJSON(w, ports)
}

func (m *Monitor) portStatuses() []PortStatus {
	if m.registry == nil {
		return []PortStatus{}
	}

	all := m.registry.Ports()
	ports := make([]PortStatus, 0, len(all))

	for _, p := range all {
		s := PortStatus{
			Name:    p.Name(),
			Blocked: p.Blocked(),
		}

		if p.Owner() != nil {
			s.Owner = p.Owner().Name()
		}

		if peer := p.Peer(); peer != nil {
			s.Peer = peer.Name()
		}

		ports = append(ports, s)
	}

	return ports
}

func (m *Monitor) findObjectOr404(
	w http.ResponseWriter,
	name string,
) mem.MemObject {
	for _, o := range m.objects {
		if o.Name() == name {
			return o
		}
	}

	http.Error(w, "Component not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		logrus.Panic(err)
	}
}
