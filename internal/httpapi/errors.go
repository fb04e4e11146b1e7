package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"stepllm/internal/manager"
	"stepllm/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &he):
		return he.StatusCode()
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports err to the client and returns the status used.
// Once a stream has started the status line is gone, so the error is sent as
// a last NDJSON line instead.
func writeServiceError(w http.ResponseWriter, err error, reason string, streamed bool) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(reason)
	}
	if streamed {
		_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: err.Error(), Code: status})
		return status
	}
	writeJSONError(w, status, err.Error())
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
