package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloudx-io/sealedbid/auctionapi"
	"github.com/cloudx-io/sealedbid/core"
)

// HandlerFunc is an http handler that reports failures by returning them.
type HandlerFunc func(w http.ResponseWriter, req *http.Request) error

// httpError carries the status for a failure that is not a lifecycle error.
type httpError struct {
	status int
	code   core.Code
	err    error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &httpError{status: http.StatusBadRequest, code: core.CodeInvalidArgument, err: err}
}

func statusOf(code core.Code) int {
	switch code {
	case core.CodeInvalidArgument:
		return http.StatusBadRequest
	case core.CodePermissionDenied:
		return http.StatusForbidden
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeFailedPrecondition, core.CodeAlreadyExists, core.CodeAborted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WrapHandlerFunc converts a HandlerFunc into an http.HandlerFunc, writing returned
// errors as JSON auctionapi.Error bodies.
func WrapHandlerFunc(f HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := f(w, req)
		if err == nil {
			return
		}
		var he *httpError
		if errors.As(err, &he) {
			wire := auctionapi.NewError(err, he.code)
			_ = writeJSONStatus(w, he.status, wire)
			return
		}
		wire := auctionapi.NewError(err, core.CodeInternal)
		_ = writeJSONStatus(w, statusOf(wire.Code), wire)
	}
}

// WriteJSON writes v as a 200 JSON response.
func WriteJSON(w http.ResponseWriter, v any) error {
	return writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
