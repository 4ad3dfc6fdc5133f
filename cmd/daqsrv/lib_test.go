package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/rtdaq/daq"
	"github.com/nasa-jpl/rtdaq/ioport"
)

func mockConfig() Config {
	return Config{
		Addr: ":0",
		Mock: true,
		Devices: []DeviceSetup{
			{Driver: "8255", Endpoint: "daq/pio/", Board: "pio", Addrs: []string{"0x300", "0x304"}},
			{Driver: "PIO", Endpoint: "/daq/stream", Addrs: []string{"0x310"}, PollHz: 100},
		},
	}
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, &buf))
	return w
}

func TestBuildMux(t *testing.T) {
	sim := ioport.NewSim()
	mux, rack, err := BuildMux(mockConfig(), sim)
	require.NoError(t, err)
	devs := rack.Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, 2, devs[0].NbSubd())
	assert.Equal(t, "8255", devs[1].Descriptor().BoardName, "board defaults to the driver name")
	assert.Equal(t, -1, devs[0].IdxRead())
	assert.Equal(t, 0, devs[1].IdxRead())

	w := do(t, mux, http.MethodGet, "/endpoints", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var graph map[string][]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&graph))
	assert.Contains(t, graph, "/daq/pio")
	assert.Contains(t, graph["/daq/stream"], "POST /subdevice/{idx}/cmd")
	assert.Contains(t, graph["/daq/stream"], "GET /lock")

	w = do(t, mux, http.MethodGet, "/daq/pio/descriptor", nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, rack.Close())
	assert.Empty(t, sim.Held(), "closing the rack releases every port")
}

func TestLockedDevice(t *testing.T) {
	mux, rack, err := BuildMux(mockConfig(), ioport.NewSim())
	require.NoError(t, err)
	defer rack.Close()

	insn := daq.Instruction{Kind: daq.InsnBits, Data: []uint32{0, 0}}
	require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/daq/pio/subdevice/0/insn", insn).Code)

	require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/daq/pio/lock", map[string]bool{"bool": true}).Code)
	assert.Equal(t, http.StatusLocked, do(t, mux, http.MethodPost, "/daq/pio/subdevice/0/insn", insn).Code)
	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/daq/pio/descriptor", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/daq/stream/subdevice/0/insn", insn).Code,
		"each device has its own lock")

	require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/daq/pio/lock", map[string]bool{"bool": false}).Code)
	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/daq/pio/subdevice/0/insn", insn).Code)
}

func TestBuildMuxErrors(t *testing.T) {
	sim := ioport.NewSim()
	c := mockConfig()
	c.Devices[1].Endpoint = "/daq/pio"
	_, _, err := BuildMux(c, sim)
	assert.Error(t, err)
	assert.Empty(t, sim.Held(), "a failed build detaches what it attached")

	c = mockConfig()
	c.Devices[0].Driver = "ni-pcimio"
	_, _, err = BuildMux(c, sim)
	assert.Error(t, err)

	c = mockConfig()
	c.Devices[0].Addrs = nil
	_, _, err = BuildMux(c, sim)
	assert.ErrorIs(t, err, daq.ErrMissingOptions)
}
