package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

// ErrorResponse is the body written by WriteError
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to encode response")
	}
}

// WriteError writes a JSON error response. Server errors are logged.
func WriteError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	WriteJSON(w, r, status, ErrorResponse{Error: err.Error()})
}
