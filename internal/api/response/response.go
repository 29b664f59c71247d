// Package response provides consistent JSON response formatting for the
// HTTP layer.
package response

import (
	"encoding/json"
	"net/http"

	"course-rag-server/internal/errors"
	"course-rag-server/internal/logging"
)

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("failed to encode response", "error", err.Error())
	}
}

// WriteError maps any error to its HTTP status and writes the standard
// error envelope, tagging it with the request trace ID.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.From(err)
	if traceID := logging.GetTraceID(r.Context()); traceID != "" {
		se = se.WithTraceID(traceID)
	}
	logging.ErrorContext(r.Context(), "request failed",
		"path", r.URL.Path,
		"code", string(se.Code()),
		"error", err.Error())
	se.WriteHTTPError(w)
}
