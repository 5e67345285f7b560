// Package server contains the HTTP plumbing shared by instrument panels:
// typed JSON payloads, route tables, and the HTTPer interface.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"goji.io"
)

// FloatT is a JSON float payload
type FloatT struct {
	F64 float64 `json:"f64"`
}

// StrT is a JSON string payload
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a JSON bool payload
type BoolT struct {
	Bool bool `json:"bool"`
}

// IntT is a JSON int payload
type IntT struct {
	Int int `json:"int"`
}

// HumanPayload holds one value of kind T.  It is sent as JSON, or as plain
// text when the client asks for text/plain, which is handy from curl.
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	String string
	Bool   bool
	Int    int
}

// EncodeAndRespond writes the payload to w in the format r asked for
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		var s string
		switch hp.T {
		case types.Float64:
			s = strconv.FormatFloat(hp.Float, 'G', -1, 64)
		case types.String:
			s = hp.String
		case types.Bool:
			s = strconv.FormatBool(hp.Bool)
		case types.Int:
			s = strconv.Itoa(hp.Int)
		default:
			http.Error(w, fmt.Sprintf("cannot encode payload of kind %d", hp.T), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(s))
		return
	}
	var v interface{}
	switch hp.T {
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.String:
		v = StrT{Str: hp.String}
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Int:
		v = IntT{Int: hp.Int}
	default:
		http.Error(w, fmt.Sprintf("cannot encode payload of kind %d", hp.T), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// RouteTable maps goji patterns to handlers
type RouteTable map[goji.Pattern]http.HandlerFunc

type methoder interface {
	HTTPMethods() map[string]struct{}
}

// Endpoints lists the patterns of the table as "METHOD /path", sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		path := fmt.Sprint(k)
		if s, ok := k.(fmt.Stringer); ok {
			path = s.String()
		}
		m, ok := k.(methoder)
		if !ok || m.HTTPMethods() == nil {
			routes = append(routes, path)
			continue
		}
		for meth := range m.HTTPMethods() {
			if meth == http.MethodHead {
				continue // goji adds HEAD to every GET
			}
			routes = append(routes, meth+" "+path)
		}
	}
	sort.Strings(routes)
	return routes
}

// Bind registers every route of the table on mux
func (rt RouteTable) Bind(mux *goji.Mux) {
	for ptrn, fcn := range rt {
		mux.HandleFunc(ptrn, fcn)
	}
}

// HTTPer is something with a route table
type HTTPer interface {
	RT() RouteTable
}

// Mux builds a goji mux serving the routes of h with the given middleware
func Mux(h HTTPer, middleware ...func(http.Handler) http.Handler) *goji.Mux {
	mux := goji.NewMux()
	for _, m := range middleware {
		mux.Use(m)
	}
	h.RT().Bind(mux)
	return mux
}
