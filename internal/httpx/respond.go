// Package httpx is the single place wire-level responses are built. Business
// logic returns typed errors; only HTTP middleware and handlers translate
// them into status codes and the error envelope.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/turnstiledev/turnstile/internal/model"
	"github.com/turnstiledev/turnstile/internal/server/middleware"
)

// WriteJSON serializes v as JSON and writes it to the response with the
// given HTTP status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// Error writes the standard error envelope, echoing the request ID from the
// context. The optional details value provides structured context safe to
// disclose to the caller (e.g. the missing scope, never credential status).
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details ...interface{}) {
	var d interface{}
	if len(details) > 0 {
		d = details[0]
	}
	WriteJSON(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Details: d,
		},
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

// Internal writes a generic 500. The underlying error is for server-side
// logs only and is never echoed to the caller.
func Internal(w http.ResponseWriter, r *http.Request) {
	Error(w, r, http.StatusInternalServerError, model.CodeInternal, "Internal server error")
}
