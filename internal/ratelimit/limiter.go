// Package ratelimit admits or denies credential requests based on a sliding
// window over the persisted usage ledger. Delegated sessions are exempt.
// The limiter fails closed: if the window count cannot be computed, the
// request is denied, so a caller can never bypass throttling by inducing
// store faults.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/turnstiledev/turnstile/internal/auth"
	"github.com/turnstiledev/turnstile/internal/httpx"
	"github.com/turnstiledev/turnstile/internal/model"
)

// DefaultRPM is the requests-per-minute limit for keys without a
// per-credential override.
const DefaultRPM = 60

// Window is the sliding-window length. The window trails "now" and is
// recomputed per request; there are no fixed buckets.
const Window = time.Minute

// UsageCounter is the narrow store surface the limiter needs.
type UsageCounter interface {
	CountUsageEventsSince(ctx context.Context, keyID int64, since time.Time) (int, error)
}

// Result is one admission decision.
type Result struct {
	Allowed    bool
	Limit      int           // 0 means exempt, not unlimited
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // set only on denials
}

// Limiter performs per-credential admission control.
type Limiter struct {
	counter    UsageCounter
	defaultRPM int
	logger     *slog.Logger
}

// New creates a Limiter. defaultRPM <= 0 falls back to DefaultRPM.
func New(counter UsageCounter, defaultRPM int, logger *slog.Logger) *Limiter {
	if defaultRPM <= 0 {
		defaultRPM = DefaultRPM
	}
	return &Limiter{counter: counter, defaultRPM: defaultRPM, logger: logger}
}

// Check decides admission for one request. Session identities always pass
// with Limit=0 (exempt — callers must not read that as "unlimited
// credential"). For credentials the count-then-decide sequence is
// deliberately not transactional: slight overshoot under concurrent bursts
// is accepted in exchange for availability.
func (l *Limiter) Check(ctx context.Context, identity auth.Identity) Result {
	now := time.Now()

	switch id := identity.(type) {
	case auth.SessionIdentity:
		return Result{Allowed: true, Limit: 0}

	case auth.CredentialIdentity:
		limit := l.defaultRPM
		if id.RateLimitRPM != nil && *id.RateLimitRPM > 0 {
			limit = *id.RateLimitRPM
		}

		count, err := l.counter.CountUsageEventsSince(ctx, id.KeyID, now.Add(-Window))
		if err != nil {
			l.logger.Error("rate limit count failed, denying request", "key_id", id.KeyID, "error", err)
			return Result{
				Allowed:    false,
				Limit:      l.defaultRPM,
				Remaining:  0,
				ResetAt:    now.Add(Window),
				RetryAfter: Window,
			}
		}

		if count >= limit {
			return Result{
				Allowed:    false,
				Limit:      limit,
				Remaining:  0,
				ResetAt:    now.Add(Window),
				RetryAfter: Window,
			}
		}
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count - 1, // reserve this request's own slot
			ResetAt:   now.Add(Window),
		}

	default:
		// The Identity union is closed; this arm exists so an unknown shape
		// fails closed rather than open.
		return Result{Allowed: false, Limit: l.defaultRPM, ResetAt: now.Add(Window), RetryAfter: Window}
	}
}

// Middleware applies Check to every request carrying an identity and shapes
// the wire response: rate-limit headers on credential requests, 429 with
// Retry-After on denials. Exempt session requests carry no rate headers.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.FromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		res := l.Check(r.Context(), identity)

		if res.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(res.Remaining, 0)))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		}

		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			httpx.Error(w, r, http.StatusTooManyRequests, model.CodeRateLimited,
				"Rate limit exceeded, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
