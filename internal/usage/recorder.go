// Package usage records one event per completed credential request, for
// analytics and as the rate limiter's sliding-window ledger. Recording is
// best effort: it runs after the response is written, off the request
// goroutine, and its failures are logged but never surfaced.
package usage

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/turnstiledev/turnstile/internal/auth"
	"github.com/turnstiledev/turnstile/internal/background"
	"github.com/turnstiledev/turnstile/internal/model"
)

// maxClientAddrLen fits the client_addr column (covers IPv6 text form).
const maxClientAddrLen = 45

// Appender is the narrow store surface the recorder needs.
type Appender interface {
	InsertUsageEvent(ctx context.Context, e *model.UsageEvent) error
}

// Recorder appends usage events for credential identities.
type Recorder struct {
	appender Appender
	logger   *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(appender Appender, logger *slog.Logger) *Recorder {
	return &Recorder{appender: appender, logger: logger}
}

// Record captures one request outcome. No-op for session identities.
func (rec *Recorder) Record(identity auth.Identity, path, method string, status int, duration time.Duration, remoteAddr string) {
	cred, ok := identity.(auth.CredentialIdentity)
	if !ok {
		return
	}

	event := &model.UsageEvent{
		APIKeyID:    cred.KeyID,
		Path:        path,
		Method:      method,
		StatusCode:  status,
		DurationMs:  duration.Milliseconds(),
		ClientAddr:  truncateAddr(remoteAddr),
		RequestedAt: time.Now().UTC(),
	}

	background.Go(rec.logger, "record_usage", func(ctx context.Context) error {
		return rec.appender.InsertUsageEvent(ctx, event)
	})
}

// Middleware captures status and duration and fires Record after the inner
// handler has written the response, so recording never adds latency to the
// request path.
func (rec *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.FromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		rec.Record(identity, r.URL.Path, r.Method, sw.status, time.Since(start), r.RemoteAddr)
	})
}

// truncateAddr strips the port when present and bounds the result to the
// column width.
func truncateAddr(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}
	if len(remoteAddr) > maxClientAddrLen {
		remoteAddr = remoteAddr[:maxClientAddrLen]
	}
	return remoteAddr
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
