package usage

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/turnstiledev/turnstile/internal/auth"
	"github.com/turnstiledev/turnstile/internal/model"
)

// chanAppender delivers inserted events on a channel so tests can wait for
// the detached recording task.
type chanAppender struct {
	events chan *model.UsageEvent
}

func newChanAppender() *chanAppender {
	return &chanAppender{events: make(chan *model.UsageEvent, 8)}
}

func (a *chanAppender) InsertUsageEvent(ctx context.Context, e *model.UsageEvent) error {
	a.events <- e
	return nil
}

func (a *chanAppender) wait(t *testing.T) *model.UsageEvent {
	t.Helper()
	select {
	case e := <-a.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no usage event recorded")
		return nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordCredential(t *testing.T) {
	appender := newChanAppender()
	rec := NewRecorder(appender, discardLogger())

	identity := auth.CredentialIdentity{PrincipalID: 1, KeyID: 42}
	rec.Record(identity, "/api/v1/me", "GET", 200, 15*time.Millisecond, "203.0.113.7:51234")

	e := appender.wait(t)
	if e.APIKeyID != 42 {
		t.Errorf("key id = %d, want 42", e.APIKeyID)
	}
	if e.Path != "/api/v1/me" || e.Method != "GET" || e.StatusCode != 200 {
		t.Errorf("unexpected event %+v", e)
	}
	if e.ClientAddr != "203.0.113.7" {
		t.Errorf("client addr = %q, want port stripped", e.ClientAddr)
	}
	if e.RequestedAt.IsZero() {
		t.Error("missing requested_at")
	}
}

func TestRecordSessionNoOp(t *testing.T) {
	appender := newChanAppender()
	rec := NewRecorder(appender, discardLogger())

	rec.Record(auth.SessionIdentity{PrincipalID: 1}, "/api/v1/me", "GET", 200, time.Millisecond, "addr")

	select {
	case e := <-appender.events:
		t.Fatalf("session request recorded an event: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMiddlewareCapturesStatus(t *testing.T) {
	appender := newChanAppender()
	rec := NewRecorder(appender, discardLogger())

	handler := rec.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	req := httptest.NewRequest("DELETE", "/api/v1/keys/7", nil)
	req.RemoteAddr = "198.51.100.2:9999"
	req = req.WithContext(auth.WithIdentity(req.Context(),
		auth.CredentialIdentity{PrincipalID: 1, KeyID: 7}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	e := appender.wait(t)
	if e.StatusCode != http.StatusForbidden {
		t.Errorf("recorded status %d, want 403", e.StatusCode)
	}
	if e.Method != "DELETE" {
		t.Errorf("recorded method %q, want DELETE", e.Method)
	}
}

func TestMiddlewareNoIdentityPassesThrough(t *testing.T) {
	appender := newChanAppender()
	rec := NewRecorder(appender, discardLogger())

	called := false
	handler := rec.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))

	if !called {
		t.Error("handler not reached")
	}
	select {
	case e := <-appender.events:
		t.Fatalf("anonymous request recorded an event: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTruncateAddr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"203.0.113.7:1234", "203.0.113.7"},
		{"203.0.113.7", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := truncateAddr(tt.in); got != tt.want {
			t.Errorf("truncateAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := "x"
	for len(long) <= maxClientAddrLen {
		long += "x"
	}
	if got := truncateAddr(long); len(got) != maxClientAddrLen {
		t.Errorf("truncateAddr long = %d chars, want %d", len(got), maxClientAddrLen)
	}
}
