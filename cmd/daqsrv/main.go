package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/rtdaq/daq"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "daqsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:       ":8000",
		Mock:       true,
		BufferSize: daq.DefaultBufSize,
		LogLevel:   "warn",
		Devices: []DeviceSetup{{
			Driver:   "8255",
			Endpoint: "daq/pio",
			Board:    "pio",
			Addrs:    []string{"0x300"},
			PollHz:   1000,
		}}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `daqsrv attaches DAQ boards and exposes their subdevices over HTTP
Instructions, streaming commands and buffer drains are all plain HTTP calls,
so clients can leverage the excellent HTTP libraries for any programming language.

Usage:
	daqsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `daqsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration file, the server serves one simulated 8255 board at
/daq/pio.  Set Mock to false to drive real hardware through /dev/port, which
requires root or CAP_SYS_RAWIO.

No two endpoints can have the same URL.

URLs may look like any variation between "daq/pio" or "/daq/pio/", the leading
and trailing slashes are handled by the server.

Addrs lists the I/O base address of each chip on the board, one subdevice
per chip.  A chip whose ports are taken by another driver becomes an unused
subdevice and the others still work.

PollHz enables streaming: the scan trigger is polled at that rate, a command
with scan_begin ext 0 samples on every poll, ext n on a rising edge of port C
line n-1.

Boards and matching "Driver" fields, case insensitive:
- Intel
	> 8255 programmable peripheral interface "8255", "i8255", "pio"`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("daqsrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		log.Fatal(err)
	}
	daq.SetLogLevel(lvl)

	space, err := OpenSpace(c)
	if err != nil {
		log.Fatal(err)
	}
	mux, rack, err := BuildMux(c, space)
	if err != nil {
		log.Fatal(err)
	}
	srv := &http.Server{Addr: c.Addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Println("now listening for requests at ", c.Addr)
	err = srv.ListenAndServe()
	if err != http.ErrServerClosed {
		log.Println(err)
	}
	if err := rack.Close(); err != nil {
		log.Println("detaching devices: ", err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
