package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/turnstiledev/turnstile/internal/auth"
	"github.com/turnstiledev/turnstile/internal/httpx"
	"github.com/turnstiledev/turnstile/internal/model"
)

// identityFrom pulls the request identity set by the Authenticate
// middleware. Handlers are always mounted behind it; the 401 here is a
// guard against miswiring, not a second authentication layer.
func identityFrom(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.Error(w, r, http.StatusUnauthorized, model.CodeUnauthorized, "Authentication required")
	}
	return id, ok
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// urlParamID extracts a numeric chi URL parameter.
func urlParamID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
