// Package generichttp adapts plain Go getters and setters to HTTP handlers,
// so instrument panels can be built from method values
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"

	"github.com/nasa-jpl/adaqlab/server"
)

// StatusFunc chooses the HTTP status for an error.  The default treats every
// error as the server's fault
type StatusFunc func(error) int

func internal(error) int { return http.StatusInternalServerError }

func statusOf(fs []StatusFunc) StatusFunc {
	if len(fs) > 0 && fs[0] != nil {
		return fs[0]
	}
	return internal
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error), status ...StatusFunc) http.HandlerFunc {
	code := statusOf(status)
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), code(err))
			return
		}
		hp := server.HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error), status ...StatusFunc) http.HandlerFunc {
	code := statusOf(status)
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), code(err))
			return
		}
		hp := server.HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it
func SetString(fcn func(string) error, status ...StatusFunc) http.HandlerFunc {
	code := statusOf(status)
	return func(w http.ResponseWriter, r *http.Request) {
		s := server.StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(s.Str)
		if err != nil {
			http.Error(w, err.Error(), code(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error), status ...StatusFunc) http.HandlerFunc {
	code := statusOf(status)
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), code(err))
			return
		}
		hp := server.HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error, status ...StatusFunc) http.HandlerFunc {
	code := statusOf(status)
	return func(w http.ResponseWriter, r *http.Request) {
		b := server.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			http.Error(w, err.Error(), code(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetStrings calls a function returning a list of strings and responds
// with a JSON array
func GetStrings(fcn func() ([]string, error), status ...StatusFunc) http.HandlerFunc {
	code := statusOf(status)
	return func(w http.ResponseWriter, r *http.Request) {
		strs, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), code(err))
			return
		}
		if strs == nil {
			strs = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(strs)
	}
}

// Trigger calls fcn, ignoring the request body
func Trigger(fcn func() error, status ...StatusFunc) http.HandlerFunc {
	code := statusOf(status)
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fcn(); err != nil {
			http.Error(w, err.Error(), code(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// SubMuxSanitize converts a URL stem such as "omc/adaq" or "/omc/adaq/" into
// the form "/omc/adaq"
func SubMuxSanitize(stem string) string {
	stem = strings.Trim(strings.TrimSuffix(stem, "*"), "/")
	return "/" + stem
}
