package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/nasa-jpl/rtdaq/daq"
	"github.com/nasa-jpl/rtdaq/generichttp"
	daqhttp "github.com/nasa-jpl/rtdaq/generichttp/daq"
	"github.com/nasa-jpl/rtdaq/intel/i8255"
	"github.com/nasa-jpl/rtdaq/ioport"
	"github.com/nasa-jpl/rtdaq/server/middleware/locker"
	"github.com/nasa-jpl/rtdaq/util"
)

// DeviceSetup describes one board to attach and serve
type DeviceSetup struct {
	// Driver is the "type" of the board, e.g. 8255
	Driver string `koanf:"Driver" yaml:"Driver"`

	// Endpoint is the full path the routes from this board will be served on
	// ex. Endpoint="/daq/pio" will produce routes of /daq/pio/descriptor, etc.
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// Board is the name the board is attached with
	Board string `koanf:"Board" yaml:"Board"`

	// Addrs holds the I/O base address of each chip on the board, e.g. "0x300"
	Addrs []string `koanf:"Addrs" yaml:"Addrs"`

	// PollHz enables streaming, the external scan trigger is polled at this rate
	PollHz float64 `koanf:"PollHz" yaml:"PollHz"`
}

// Config is a struct that holds the initialization parameters for the server
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock serves simulated I/O ports instead of /dev/port
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// BufferSize is the size in bytes of each streaming buffer
	BufferSize int `koanf:"BufferSize" yaml:"BufferSize"`

	// LogLevel is the level of the daq logger, debug, info, warn or error
	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`

	// Devices is the list of boards to set up
	Devices []DeviceSetup `koanf:"Devices" yaml:"Devices"`
}

type node struct {
	reg *daq.Registry
	dev *daq.Device
}

// Rack holds the attached devices and the port space they live in
type Rack struct {
	Space ioport.Space

	mu    sync.Mutex
	nodes []node
}

// Devices returns the attached devices in configuration order
func (r *Rack) Devices() []*daq.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*daq.Device, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n.dev
	}
	return out
}

// Close cancels every acquisition and detaches every device
func (r *Rack) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for i := len(r.nodes) - 1; i >= 0; i-- {
		n := r.nodes[i]
		if err := n.reg.Detach(n.dev); err != nil && first == nil {
			first = err
		}
		if err := n.reg.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.nodes = nil
	if c, ok := r.Space.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenSpace returns the I/O port space the configuration asks for
func OpenSpace(c Config) (ioport.Space, error) {
	if c.Mock {
		return ioport.NewSim(), nil
	}
	return ioport.OpenDevPort()
}

func attach(c Config, space ioport.Space, setup DeviceSetup) (node, error) {
	addrs, err := util.ParseAddrs(setup.Addrs)
	if err != nil {
		return node{}, err
	}
	reg := daq.NewRegistry()
	typ := strings.ToLower(setup.Driver)
	switch typ {
	case "8255", "i8255", "pio":
		err = reg.Register(i8255.NewDriver(i8255.Config{Space: space, PollHz: setup.PollHz}))
		typ = i8255.DriverName
	default:
		return node{}, fmt.Errorf("driver %q not understood", setup.Driver)
	}
	if err != nil {
		return node{}, err
	}
	board := setup.Board
	if board == "" {
		board = typ
	}
	dev, err := reg.Attach(typ, daq.LinkDesc{BoardName: board, Opts: addrs, BufSize: c.BufferSize})
	if err != nil {
		return node{}, err
	}
	log.Printf("attached %s at %s with driver %s, %d subdevices", board, util.AddrsToCSV(addrs), typ, dev.NbSubd())
	return node{reg: reg, dev: dev}, nil
}

// BuildMux attaches the configured devices in space and constructs a chi
// mux with populated handlers, one submux per device.
// The mux serves a special route, endpoints, which returns a map of
// mount points to their routes as JSON.
func BuildMux(c Config, space ioport.Space) (chi.Router, *Rack, error) {
	rack := &Rack{Space: space}
	// make the root handler
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	for _, setup := range c.Devices {
		n, err := attach(c, space, setup)
		if err != nil {
			rack.Close()
			return nil, nil, fmt.Errorf("device %q: %w", setup.Endpoint, err)
		}
		rack.nodes = append(rack.nodes, n)
		httper := daqhttp.NewHTTPDevice(n.dev)

		// prepare the URL, "daq/pio" => "/daq/pio"
		hndlS := generichttp.SubMuxSanitize(setup.Endpoint)
		if _, dup := supergraph[hndlS]; dup {
			rack.Close()
			return nil, nil, fmt.Errorf("endpoint %s used twice", hndlS)
		}

		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(httper, lock)

		// add the endpoints to the graph
		supergraph[hndlS] = httper.RT().Endpoints()

		// bind to the mux
		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root, rack, nil
}
