// Package daq provides a generic HTTP interface to the subdevices of an
// attached DAQ device: instructions, streaming commands and buffer drains
//
// This is not the last word in speed, due to HTTP having reasonable latency in
// most client languages, but it is the last word in ease of use.
package daq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/snksoft/crc"

	"github.com/nasa-jpl/rtdaq/acqfits"
	core "github.com/nasa-jpl/rtdaq/daq"
	"github.com/nasa-jpl/rtdaq/generichttp"
	"github.com/nasa-jpl/rtdaq/server"
)

var crcTable = crc.NewTable(crc.XMODEM)

// Headers set on buffer drains
const (
	HeaderChecksum = "X-Checksum"
	HeaderEOA      = "X-End-Of-Acquisition"
	HeaderRunID    = "X-Run-Id"
)

// Checksum returns the CRC-16/XMODEM of buf, as sent in the X-Checksum header
func Checksum(buf []byte) uint16 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, buf)
	return crcTable.CRC16(c)
}

// ErrorBody is the payload of an error response
type ErrorBody struct {
	Error string `json:"error"`

	// Stage and Corrected are set when a command was rejected
	Stage     string        `json:"stage,omitempty"`
	Corrected *core.Command `json:"corrected,omitempty"`

	// Done is the number of instructions executed before the failure
	Done *int `json:"done,omitempty"`
}

// RunBody is the payload returned when a command starts
type RunBody struct {
	RunID   string       `json:"run_id"`
	Command core.Command `json:"command"`
}

// ListBody is the payload returned by an instruction list
type ListBody struct {
	Done  int                `json:"done"`
	Insns []core.IndexedInsn `json:"insns"`
}

// StatusOf maps an error of the daq package to an HTTP status code
func StatusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInvalidChannel), errors.Is(err, core.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoSuchSubdevice):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, core.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, core.ErrResourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrOverrun):
		return http.StatusGone
	case errors.Is(err, core.ErrIO):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{Error: err.Error()}
	var rej *core.RejectError
	if errors.As(err, &rej) {
		body.Stage = rej.Stage.String()
		body.Corrected = &rej.Corrected
	}
	server.Respond(w, r, StatusOf(err), body)
}

// HTTPDevice wraps a device in an HTTP interface
type HTTPDevice struct {
	Dev *core.Device

	// WaitLimit caps the wait= parameter of buffer drains
	WaitLimit time.Duration

	mu   sync.Mutex
	runs map[int]string

	RouteTable generichttp.RouteTable
}

// NewHTTPDevice returns a new HTTP wrapper with the route table pre-configured
func NewHTTPDevice(dev *core.Device) *HTTPDevice {
	h := &HTTPDevice{Dev: dev, WaitLimit: 10 * time.Second, runs: make(map[int]string)}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/descriptor"}:                  h.descriptor,
		{Method: http.MethodGet, Path: "/nb-subd"}:                     generichttp.GetInt(func() (int, error) { return dev.NbSubd(), nil }),
		{Method: http.MethodGet, Path: "/subdevice/{idx}"}:             h.info,
		{Method: http.MethodPost, Path: "/subdevice/{idx}/insn"}:       h.insn,
		{Method: http.MethodPost, Path: "/insn-list"}:                  h.insnList,
		{Method: http.MethodPost, Path: "/subdevice/{idx}/cmd/test"}:   h.cmdTest,
		{Method: http.MethodPost, Path: "/subdevice/{idx}/cmd"}:        h.cmd,
		{Method: http.MethodPost, Path: "/subdevice/{idx}/cancel"}:     h.cancel,
		{Method: http.MethodGet, Path: "/subdevice/{idx}/buffer"}:      h.buffer,
		{Method: http.MethodGet, Path: "/subdevice/{idx}/buffer/fits"}: h.fits,
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPDevice) RT() generichttp.RouteTable {
	return h.RouteTable
}

// RunID returns the identifier of the last command started on subdevice idx
func (h *HTTPDevice) RunID(idx int) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs[idx]
}

func subdevIndex(r *http.Request) (int, error) {
	str := chi.URLParam(r, "idx")
	idx, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("%w: subdevice index %q", core.ErrNoSuchSubdevice, str)
	}
	return idx, nil
}

func (h *HTTPDevice) descriptor(w http.ResponseWriter, r *http.Request) {
	server.Respond(w, r, http.StatusOK, h.Dev.Descriptor())
}

func (h *HTTPDevice) info(w http.ResponseWriter, r *http.Request) {
	idx, err := subdevIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := h.Dev.Info(idx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	server.Respond(w, r, http.StatusOK, info)
}

func (h *HTTPDevice) insn(w http.ResponseWriter, r *http.Request) {
	idx, err := subdevIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var insn core.Instruction
	if err := server.Decode(r, &insn); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Dev.Do(idx, &insn); err != nil {
		writeError(w, r, err)
		return
	}
	server.Respond(w, r, http.StatusOK, insn)
}

func (h *HTTPDevice) insnList(w http.ResponseWriter, r *http.Request) {
	var list []core.IndexedInsn
	if err := server.Decode(r, &list); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := h.Dev.DoList(list)
	if err != nil {
		server.Respond(w, r, StatusOf(err), ErrorBody{Error: err.Error(), Done: &n})
		return
	}
	server.Respond(w, r, http.StatusOK, ListBody{Done: n, Insns: list})
}

// decodeCmd reads a command from the body, the subdevice comes from the path
func decodeCmd(r *http.Request) (core.Command, error) {
	var cmd core.Command
	idx, err := subdevIndex(r)
	if err != nil {
		return cmd, err
	}
	if err := server.Decode(r, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
	}
	cmd.Subdev = idx
	return cmd, nil
}

func (h *HTTPDevice) cmdTest(w http.ResponseWriter, r *http.Request) {
	cmd, err := decodeCmd(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.Dev.Validate(cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	server.Respond(w, r, http.StatusOK, out)
}

func (h *HTTPDevice) cmd(w http.ResponseWriter, r *http.Request) {
	cmd, err := decodeCmd(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Dev.Start(cmd); err != nil {
		writeError(w, r, err)
		return
	}
	id := uuid.New().String()
	h.mu.Lock()
	h.runs[cmd.Subdev] = id
	h.mu.Unlock()
	server.Respond(w, r, http.StatusOK, RunBody{RunID: id, Command: cmd})
}

func (h *HTTPDevice) cancel(w http.ResponseWriter, r *http.Request) {
	idx, err := subdevIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Dev.Cancel(idx); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// drain waits up to the wait= duration for data, then drains up to max bytes
func (h *HTTPDevice) drain(r *http.Request, s *core.Subdevice, max int, raw bool) ([]byte, error) {
	if str := r.URL.Query().Get("wait"); str != "" {
		d, err := time.ParseDuration(str)
		if err != nil {
			return nil, fmt.Errorf("%w: wait %q", core.ErrInvalidConfig, str)
		}
		if d > h.WaitLimit {
			d = h.WaitLimit
		}
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		if err := s.Wait(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	if raw {
		return s.DrainRaw(max)
	}
	return s.Drain(max)
}

func (h *HTTPDevice) subdevice(r *http.Request) (*core.Subdevice, error) {
	idx, err := subdevIndex(r)
	if err != nil {
		return nil, err
	}
	return h.Dev.Subdevice(idx)
}

func queryInt(r *http.Request, key string, dflt int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return dflt, nil
	}
	i, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", core.ErrInvalidConfig, key, str)
	}
	return i, nil
}

func (h *HTTPDevice) buffer(w http.ResponseWriter, r *http.Request) {
	s, err := h.subdevice(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	max, err := queryInt(r, "max", -1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	raw, _ := strconv.ParseBool(r.URL.Query().Get("raw"))
	buf, err := h.drain(r, s, max, raw)
	eoa := err == io.EOF
	if err != nil && !eoa {
		writeError(w, r, err)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set(HeaderChecksum, fmt.Sprintf("%04x", Checksum(buf)))
	hdr.Set(HeaderEOA, strconv.FormatBool(eoa))
	hdr.Set(HeaderRunID, h.RunID(s.Index()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func (h *HTTPDevice) fits(w http.ResponseWriter, r *http.Request) {
	s, err := h.subdevice(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	samples, err := queryInt(r, "samples", -1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	width := s.ChanDesc().SampleWidth()
	max := -1
	if samples > 0 {
		max = samples * width
	}
	buf, err := h.drain(r, s, max, false)
	eoa := err == io.EOF
	if err != nil && !eoa {
		writeError(w, r, err)
		return
	}
	cmd, err := h.Dev.ActiveCommand(s.Index())
	if err != nil {
		writeError(w, r, err)
		return
	}
	runID := h.RunID(s.Index())
	w.Header().Set(HeaderEOA, strconv.FormatBool(eoa))
	w.Header().Set(HeaderRunID, runID)
	if len(buf) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	scanLen := int(cmd.ScanEnd.Arg)
	if scanLen < 1 || len(buf)/width < scanLen {
		scanLen = 1
	}
	var out bytes.Buffer
	err = acqfits.WriteSamples(&out, acqfits.Header(h.Dev.Descriptor(), cmd, runID), buf, width, scanLen)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/fits")
	w.WriteHeader(http.StatusOK)
	w.Write(out.Bytes())
}
