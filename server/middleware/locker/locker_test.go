package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/rtdaq/generichttp"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func TestCheck(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	rt := table{
		{Method: http.MethodPost, Path: "/subdevice/0/insn"}: ok,
		{Method: http.MethodGet, Path: "/descriptor"}:        ok,
	}
	l := New()
	Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.RT().Bind(r)

	serve := func(method, path, body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w.Code
	}
	assert.Equal(t, http.StatusOK, serve(http.MethodPost, "/subdevice/0/insn", ""))
	assert.Equal(t, http.StatusOK, serve(http.MethodPost, "/lock", `{"bool": true}`))
	assert.True(t, l.Locked())
	assert.Equal(t, http.StatusLocked, serve(http.MethodPost, "/subdevice/0/insn", ""))
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/descriptor", ""))
	assert.Equal(t, http.StatusOK, serve(http.MethodPost, "/lock", `{"bool": false}`))
	assert.Equal(t, http.StatusOK, serve(http.MethodPost, "/subdevice/0/insn", ""))
}
