// Package server contains misc server utilities: the payload types exchanged
// with clients and content negotiation between JSON and CBOR.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// MIME types understood by Decode and produced by Respond
const (
	MIMEJSON = "application/json"
	MIMECBOR = "application/cbor"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("server: CBOR decoder mode: %v", err))
	}
}

// BoolT is a struct with a single bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// IntT is a struct with a single int field
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload is a struct holding one basic value, T says which
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Int    int
	Float  float64
	String string
}

// value returns the single-field wrapper of the payload
func (hp HumanPayload) value() interface{} {
	switch hp.T {
	case types.Bool:
		return BoolT{Bool: hp.Bool}
	case types.Int:
		return IntT{Int: hp.Int}
	case types.Float64:
		return struct {
			F64 float64 `json:"f64"`
		}{hp.Float}
	default:
		return StrT{Str: hp.String}
	}
}

// EncodeAndRespond writes the payload as {"bool": ...}, {"int": ...}, etc.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	Respond(w, r, http.StatusOK, hp.value())
}

// WantsCBOR returns true if the client accepts CBOR
func WantsCBOR(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == MIMECBOR {
			return true
		}
	}
	return false
}

// Respond encodes v as CBOR if the client accepts it, otherwise as JSON
func Respond(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	var (
		buf []byte
		err error
		ct  = MIMEJSON
	)
	if WantsCBOR(r) {
		ct = MIMECBOR
		buf, err = encMode.Marshal(v)
	} else {
		buf, err = json.Marshal(v)
	}
	if err != nil {
		fstr := fmt.Sprintf("error encoding response %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	w.Write(buf)
}

// Decode decodes the request body into v, as CBOR if the content type says so
// and as JSON otherwise
func Decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if mt == MIMECBOR {
		err = decMode.NewDecoder(r.Body).Decode(v)
	} else {
		err = json.NewDecoder(r.Body).Decode(v)
	}
	if err == io.EOF {
		return fmt.Errorf("empty request body")
	}
	return err
}
