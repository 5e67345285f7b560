// Package ascii contains an injectable HTTP console for instruments driven by
// short text commands
package ascii

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/nasa-jpl/adaqlab/generichttp"
	"github.com/nasa-jpl/adaqlab/server"
	"goji.io/pat"
)

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper is a wrapper around a raw communicator
type RawWrapper struct {
	Comm RawCommunicator

	// Status maps errors from Comm to HTTP status codes; 500 if nil
	Status generichttp.StatusFunc
}

// HTTPRaw provides access to the raw function over http
func (rw *RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := rw.Comm.Raw(str.Str)
	if err != nil {
		code := http.StatusInternalServerError
		if rw.Status != nil {
			code = rw.Status(err)
		}
		http.Error(w, err.Error(), code)
		return
	}
	hp := server.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm injects a /raw POST route into the route table of an HTTPer
func InjectRawComm(other server.HTTPer, raw RawCommunicator, status generichttp.StatusFunc) {
	wrap := RawWrapper{Comm: raw, Status: status}
	rt := other.RT()
	rt[pat.Post("/raw")] = wrap.HTTPRaw
}
