package adi

import (
	"errors"
	"net/http"

	"github.com/nasa-jpl/adaqlab/generichttp"
	"github.com/nasa-jpl/adaqlab/generichttp/ascii"
	"github.com/nasa-jpl/adaqlab/server"
	"goji.io/pat"
)

// HTTPWrapper is the panel of an ADAQ4224 session: the gain selector and
// profile controls as HTTP routes
type HTTPWrapper struct {
	// ADAQ is the underlying session
	ADAQ *ADAQ4224

	// RouteTable maps goji patterns to http handlers
	RouteTable server.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(a *ADAQ4224) HTTPWrapper {
	w := HTTPWrapper{ADAQ: a}
	rt := server.RouteTable{
		pat.Get("/labels"):        generichttp.GetStrings(func() ([]string, error) { return a.Labels(), nil }),
		pat.Get("/choices"):       generichttp.GetStrings(func() ([]string, error) { return a.Choices(), nil }),
		pat.Get("/gain"):          generichttp.GetString(func() (string, error) { return a.Selection(), nil }),
		pat.Post("/gain"):         generichttp.SetString(a.SelectAndApply, statusCode),
		pat.Post("/gain/select"):  generichttp.SetString(func(s string) error { a.Select(s); return nil }),
		pat.Post("/gain/write"):   generichttp.Trigger(w.write, statusCode),
		pat.Get("/scale"):         generichttp.GetString(a.Scale, statusCode),
		pat.Post("/reload"):       generichttp.Trigger(a.Reload, statusCode),
		pat.Post("/profile/save"): generichttp.Trigger(func() error { return a.SaveProfile(a.ProfilePath()) }, statusCode),
		pat.Post("/profile/load"): generichttp.Trigger(func() error { return a.LoadProfile(a.ProfilePath()) }, statusCode),
	}
	w.RouteTable = rt
	ascii.InjectRawComm(w, a, statusCode)
	return w
}

// RT satisfies server.HTTPer
func (h HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

func (h HTTPWrapper) write() error {
	wrote, err := h.ADAQ.Apply()
	if err != nil {
		return err
	}
	if !wrote {
		return ErrNoMatch
	}
	return nil
}

// statusCode maps session errors to HTTP statuses
func statusCode(err error) int {
	var we *AttrWriteError
	switch {
	case errors.Is(err, ErrNoMatch), errors.Is(err, ErrShortScaleList):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, ErrNotInitialized), errors.Is(err, ErrTornDown):
		return http.StatusServiceUnavailable
	case errors.As(err, &we):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
