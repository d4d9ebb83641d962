package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	errInvalidArgument = errors.New("invalid argument")
	errOverloaded      = errors.New("server is busy")
	errTimeout         = errors.New("request timed out")
	errUnavailable     = errors.New("service unavailable")
	errInternal        = errors.New("internal error")
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, details any) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, errInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, errOverloaded):
		code = http.StatusServiceUnavailable
		codeStr = "OVERLOADED"
	case errors.Is(err, errTimeout):
		code = http.StatusServiceUnavailable
		codeStr = "TIMEOUT"
	case errors.Is(err, errUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "UNAVAILABLE"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
