package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shinji-kodama/workshop-hub/internal/registry"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// errNotFound marks lookups of users that have no assignment.
var errNotFound = errors.New("not found")

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Message: err.Error()}})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, registry.ErrInvalidUser):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound), errors.Is(err, registry.ErrUnknownRegistry):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
