package keys

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/turnstiledev/turnstile/internal/model"
	"github.com/turnstiledev/turnstile/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, logger, testHashParams()), st
}

func newTestPrincipal(t *testing.T, st *store.Store, subject string) *model.Principal {
	t.Helper()
	p := &model.Principal{ExternalSubject: subject, IsActive: true}
	if err := st.CreatePrincipal(context.Background(), p); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	return p
}

func TestGenerateAndValidate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := newTestPrincipal(t, st, "alice")

	generated, err := svc.Generate(ctx, GenerateInput{
		PrincipalID: p.ID,
		Name:        "  CI pipeline  ",
		Scopes:      []string{"keys:read", "chat:*", "keys:read"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !strings.HasPrefix(generated.RawKey, "sk-") {
		t.Errorf("raw key %q missing sk- prefix", generated.RawKey)
	}
	if len(generated.RawKey) != 3+64 {
		t.Errorf("raw key length %d, want 67", len(generated.RawKey))
	}
	if generated.KeyPrefix != generated.RawKey[3:11] {
		t.Errorf("display prefix %q does not match raw key", generated.KeyPrefix)
	}
	if generated.Name != "CI pipeline" {
		t.Errorf("got name %q, want trimmed %q", generated.Name, "CI pipeline")
	}
	if len(generated.Scopes) != 2 {
		t.Errorf("got scopes %v, want duplicates removed", generated.Scopes)
	}

	key, err := svc.Validate(ctx, generated.RawKey)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if key.PrincipalID != p.ID {
		t.Errorf("got principal %d, want %d", key.PrincipalID, p.ID)
	}
	if len(key.Scopes) != 2 || key.Scopes[0] != "keys:read" || key.Scopes[1] != "chat:*" {
		t.Errorf("got scopes %v, want [keys:read chat:*]", key.Scopes)
	}
}

func TestGenerateValidation(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := newTestPrincipal(t, st, "alice")

	tests := []struct {
		name  string
		in    GenerateInput
		field string
	}{
		{"empty name", GenerateInput{PrincipalID: p.ID, Name: "   ", Scopes: []string{"a:b"}}, "name"},
		{"long name", GenerateInput{PrincipalID: p.ID, Name: strings.Repeat("x", 101), Scopes: []string{"a:b"}}, "name"},
		{"no scopes", GenerateInput{PrincipalID: p.ID, Name: "ok"}, "scopes"},
		{"blank scope", GenerateInput{PrincipalID: p.ID, Name: "ok", Scopes: []string{" "}}, "scopes"},
		{"bare colon-star scope", GenerateInput{PrincipalID: p.ID, Name: "ok", Scopes: []string{":*"}}, "scopes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Generate(ctx, tt.in)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Generate = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("got field %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestGenerateQuota(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := newTestPrincipal(t, st, "alice")

	for i := 0; i < MaxActiveKeys; i++ {
		if _, err := svc.Generate(ctx, GenerateInput{
			PrincipalID: p.ID, Name: "k", Scopes: []string{"a:b"},
		}); err != nil {
			t.Fatalf("Generate %d: %v", i, err)
		}
	}

	_, err := svc.Generate(ctx, GenerateInput{PrincipalID: p.ID, Name: "k", Scopes: []string{"a:b"}})
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("Generate over quota = %v, want *QuotaError", err)
	}
	if qe.Limit != MaxActiveKeys || qe.Current != MaxActiveKeys {
		t.Errorf("got quota %d/%d, want %d/%d", qe.Current, qe.Limit, MaxActiveKeys, MaxActiveKeys)
	}

	// Revoking one key makes room again.
	list, _ := svc.List(ctx, p.ID)
	if err := svc.Revoke(ctx, list[0].ID, p.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Generate(ctx, GenerateInput{PrincipalID: p.ID, Name: "k", Scopes: []string{"a:b"}}); err != nil {
		t.Fatalf("Generate after revoke: %v", err)
	}
}

func TestValidateRejectsMalformed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, raw := range []string{
		"",
		"sk-",
		"sk-short",
		"pk-" + strings.Repeat("a", 64),
		"sk-" + strings.Repeat("A", 64), // uppercase hex is invalid
		"sk-" + strings.Repeat("a", 63),
		"sk-" + strings.Repeat("a", 65),
		strings.Repeat("a", 67),
	} {
		if _, err := svc.Validate(ctx, raw); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Validate(%q) = %v, want ErrInvalidKey", raw, err)
		}
	}
}

func TestValidateUnknownKey(t *testing.T) {
	svc, _ := newTestService(t)

	raw := "sk-" + strings.Repeat("a", 64)
	if _, err := svc.Validate(context.Background(), raw); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate(unknown) = %v, want ErrInvalidKey", err)
	}
}

func TestValidateRevokedKey(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := newTestPrincipal(t, st, "alice")

	generated, err := svc.Generate(ctx, GenerateInput{PrincipalID: p.ID, Name: "k", Scopes: []string{"a:b"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := svc.Revoke(ctx, generated.KeyID, p.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := svc.Validate(ctx, generated.RawKey); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate(revoked) = %v, want ErrInvalidKey", err)
	}
}

func TestValidateExpiredKey(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := newTestPrincipal(t, st, "alice")

	past := time.Now().Add(-time.Minute)
	generated, err := svc.Generate(ctx, GenerateInput{
		PrincipalID: p.ID, Name: "k", Scopes: []string{"a:b"}, ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if _, err := svc.Validate(ctx, generated.RawKey); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate(expired) = %v, want ErrInvalidKey", err)
	}
}

func TestRevokeOwnership(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice := newTestPrincipal(t, st, "alice")
	mallory := newTestPrincipal(t, st, "mallory")

	generated, err := svc.Generate(ctx, GenerateInput{PrincipalID: alice.ID, Name: "k", Scopes: []string{"a:b"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if err := svc.Revoke(ctx, generated.KeyID, mallory.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Revoke by non-owner = %v, want ErrNotFound", err)
	}

	// The key still authenticates.
	if _, err := svc.Validate(ctx, generated.RawKey); err != nil {
		t.Errorf("Validate after failed revoke: %v", err)
	}
}

func TestListExcludesSecret(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := newTestPrincipal(t, st, "alice")

	generated, err := svc.Generate(ctx, GenerateInput{PrincipalID: p.ID, Name: "k", Scopes: []string{"a:b"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	list, err := svc.List(ctx, p.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d keys, want 1", len(list))
	}
	if list[0].KeyHash != "" {
		t.Error("List exposed the key hash")
	}
	if list[0].KeyPrefix != generated.KeyPrefix {
		t.Errorf("got prefix %q, want %q", list[0].KeyPrefix, generated.KeyPrefix)
	}
}
