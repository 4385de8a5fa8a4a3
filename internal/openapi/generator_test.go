package openapi

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGenerateSpec(t *testing.T) {
	doc := GenerateSpec("http://localhost:8080", "1.2.3")

	if doc.Info == nil || doc.Info.Version != "1.2.3" {
		t.Errorf("info version = %+v, want 1.2.3", doc.Info)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("servers = %+v", doc.Servers)
	}

	for _, path := range []string{
		"/api/v1/me",
		"/api/v1/keys",
		"/api/v1/keys/{keyID}",
		"/api/v1/keys/{keyID}/usage",
	} {
		if doc.Paths.Value(path) == nil {
			t.Errorf("missing path %s", path)
		}
	}

	if doc.Components.SecuritySchemes["bearerAuth"] == nil {
		t.Error("missing bearerAuth security scheme")
	}
	if doc.Components.SecuritySchemes["sessionCookie"] == nil {
		t.Error("missing sessionCookie security scheme")
	}

	keysPath := doc.Paths.Value("/api/v1/keys")
	if keysPath.Post == nil || keysPath.Get == nil {
		t.Fatal("/api/v1/keys must define GET and POST")
	}
	if keysPath.Post.Responses.Value("201") == nil {
		t.Error("createKey missing 201 response")
	}
	if keysPath.Post.Responses.Value("422") == nil {
		t.Error("createKey missing 422 quota response")
	}
}

func TestGenerateSpecSerializes(t *testing.T) {
	doc := GenerateSpec("https://api.example.com", "dev")

	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"openapi":"3.1.0"`) {
		t.Errorf("serialized document missing version: %.120s", s)
	}
	if !strings.Contains(s, "turnstile_session") {
		t.Error("serialized document missing session cookie name")
	}
}
