package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turnstiledev/turnstile/internal/keys"
	"github.com/turnstiledev/turnstile/internal/model"
	"github.com/turnstiledev/turnstile/internal/store"
)

var testSecret = []byte("test-session-secret")

func testHashParams() keys.HashParams {
	return keys.HashParams{MemoryKiB: 8, Iterations: 1, Parallelism: 1, SaltLen: 8, KeyLen: 16}
}

type fixture struct {
	store  *store.Store
	keys   *keys.Service
	authed func(http.Handler) http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keySvc := keys.NewService(st, logger, testHashParams())
	sessions := NewJWTSessionResolver(testSecret)

	return &fixture{
		store:  st,
		keys:   keySvc,
		authed: Authenticate(keySvc, sessions, st, logger),
	}
}

func (f *fixture) principal(t *testing.T, subject string, active bool) *model.Principal {
	t.Helper()
	p := &model.Principal{ExternalSubject: subject, IsActive: active}
	if err := f.store.CreatePrincipal(context.Background(), p); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	return p
}

func (f *fixture) key(t *testing.T, principalID int64, scopes ...string) *keys.Generated {
	t.Helper()
	generated, err := f.keys.Generate(context.Background(), keys.GenerateInput{
		PrincipalID: principalID,
		Name:        "test key",
		Scopes:      scopes,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return generated
}

// echoIdentity responds with the identity placed in the request context.
func echoIdentity(t *testing.T, got *Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			t.Error("no identity in context")
			return
		}
		*got = id
		w.WriteHeader(http.StatusOK)
	})
}

func sessionCookie(t *testing.T, subject string) *http.Cookie {
	t.Helper()
	token, err := IssueSessionToken(testSecret, subject, time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	return &http.Cookie{Name: SessionCookieName, Value: token}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return resp.Error.Code
}

func TestAuthenticateBearerCredential(t *testing.T) {
	f := newFixture(t)
	p := f.principal(t, "alice", true)
	generated := f.key(t, p.ID, "keys:read", "chat:*")

	var got Identity
	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+generated.RawKey)
	rr := httptest.NewRecorder()
	f.authed(echoIdentity(t, &got)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	cred, ok := got.(CredentialIdentity)
	if !ok {
		t.Fatalf("identity = %T, want CredentialIdentity", got)
	}
	if cred.Principal() != p.ID || cred.Subject() != "alice" {
		t.Errorf("identity = %+v", cred)
	}
	if cred.KeyID != generated.KeyID {
		t.Errorf("key id = %d, want %d", cred.KeyID, generated.KeyID)
	}
	if len(cred.Scopes()) != 2 {
		t.Errorf("scopes = %v, want the key's grants", cred.Scopes())
	}
}

func TestAuthenticateInvalidBearerNeverFallsBack(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "alice", true)

	// A valid session cookie rides along; the garbage bearer must still be
	// terminal.
	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer sk-not-a-real-key")
	req.AddCookie(sessionCookie(t, "alice"))
	rr := httptest.NewRecorder()
	f.authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid bearer reached the handler")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if code := errorCode(t, rr); code != model.CodeInvalidToken {
		t.Errorf("error code = %q, want %q", code, model.CodeInvalidToken)
	}
}

func TestAuthenticateEmptyBearerToken(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "alice", true)

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer ")
	req.AddCookie(sessionCookie(t, "alice"))
	rr := httptest.NewRecorder()
	f.authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty bearer reached the handler")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if code := errorCode(t, rr); code != model.CodeInvalidToken {
		t.Errorf("error code = %q, want %q", code, model.CodeInvalidToken)
	}
}

func TestAuthenticateSessionFallback(t *testing.T) {
	f := newFixture(t)
	p := f.principal(t, "alice", true)

	var got Identity
	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(sessionCookie(t, "alice"))
	rr := httptest.NewRecorder()
	f.authed(echoIdentity(t, &got)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	sess, ok := got.(SessionIdentity)
	if !ok {
		t.Fatalf("identity = %T, want SessionIdentity", got)
	}
	if sess.Principal() != p.ID {
		t.Errorf("principal = %d, want %d", sess.Principal(), p.ID)
	}
	if s := sess.Scopes(); len(s) != 1 || s[0] != "*" {
		t.Errorf("session scopes = %v, want [*]", s)
	}
}

func TestAuthenticateNoCredentials(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	f.authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("anonymous request reached the handler")
	})).ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/me", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if code := errorCode(t, rr); code != model.CodeUnauthorized {
		t.Errorf("error code = %q, want %q", code, model.CodeUnauthorized)
	}
}

func TestAuthenticateInactivePrincipal(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "bob", false)

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(sessionCookie(t, "bob"))
	rr := httptest.NewRecorder()
	f.authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inactive principal reached the handler")
	})).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("session for inactive principal: status = %d, want 401", rr.Code)
	}

	// An unknown subject in a validly signed cookie is also a 401.
	req2 := httptest.NewRequest("GET", "/api/v1/me", nil)
	req2.AddCookie(sessionCookie(t, "nobody"))
	rr2 := httptest.NewRecorder()
	f.authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unknown subject reached the handler")
	})).ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusUnauthorized {
		t.Errorf("session for unknown subject: status = %d, want 401", rr2.Code)
	}
}

func TestRequireScope(t *testing.T) {
	f := newFixture(t)
	p := f.principal(t, "alice", true)
	generated := f.key(t, p.ID, "keys:read")

	handler := f.authed(RequireScope("keys:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("insufficient scope reached the handler")
	})))

	req := httptest.NewRequest("POST", "/api/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer "+generated.RawKey)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if code := errorCode(t, rr); code != model.CodeInsufficientScope {
		t.Errorf("error code = %q, want %q", code, model.CodeInsufficientScope)
	}

	// The matching scope passes.
	ok := f.authed(RequireScope("keys:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	req2 := httptest.NewRequest("GET", "/api/v1/keys", nil)
	req2.Header.Set("Authorization", "Bearer "+generated.RawKey)
	rr2 := httptest.NewRecorder()
	ok.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr2.Code)
	}
}

func TestRequireScopeSessionWildcard(t *testing.T) {
	f := newFixture(t)
	f.principal(t, "alice", true)

	handler := f.authed(RequireScope("keys:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest("POST", "/api/v1/keys", nil)
	req.AddCookie(sessionCookie(t, "alice"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("session identity denied by scope check: %d", rr.Code)
	}
}

func TestRequireResourceScope(t *testing.T) {
	f := newFixture(t)
	p := f.principal(t, "alice", true)

	// Granted write on key 7 specifically, nothing else.
	generated := f.key(t, p.ID, "keys:7:write")

	r := chi.NewRouter()
	r.Use(f.authed)
	r.With(RequireResourceScope("keys", "keyID", "write")).
		Delete("/keys/{keyID}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("DELETE", path, nil)
		req.Header.Set("Authorization", "Bearer "+generated.RawKey)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	if rr := do("/keys/7"); rr.Code != http.StatusNoContent {
		t.Errorf("owned instance: status = %d, want 204", rr.Code)
	}
	if rr := do("/keys/8"); rr.Code != http.StatusForbidden {
		t.Errorf("other instance: status = %d, want 403", rr.Code)
	}
}
