// Package generichttp defines interfaces for generic devices
// and an extensible type that wraps them in an HTTP interface
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/rtdaq/server"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method-path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints returns the routes of the table as "METHOD /path", sorted by path
func (rt RouteTable) Endpoints() []string {
	mps := make([]MethodPath, 0, len(rt))
	for mp := range rt {
		mps = append(mps, mp)
	}
	sort.Slice(mps, func(i, j int) bool {
		if mps[i].Path == mps[j].Path {
			return mps[i].Method < mps[j].Method
		}
		return mps[i].Path < mps[j].Path
	})
	out := make([]string, len(mps))
	for i, mp := range mps {
		out[i] = mp.Method + " " + mp.Path
	}
	return out
}

// Bind binds the routes of the table to a router, plus a GET /endpoints route
// listing them
func (rt RouteTable) Bind(r chi.Router) {
	for mp, f := range rt {
		r.MethodFunc(mp.Method, mp.Path, f)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(rt.Endpoints())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// HTTPer is an object which has a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize converts an endpoint from the config file into a mount
// point, "daq/pio/" => "/daq/pio"
func SubMuxSanitize(str string) string {
	str = strings.Trim(str, "/")
	return "/" + str
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.Int, Int: i}
		hp.EncodeAndRespond(w, r)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := server.BoolT{}
		err := server.Decode(r, &b)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
