// Package openapi generates the OpenAPI document for the management API.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// GenerateSpec builds the OpenAPI 3.1 document for the key management API.
func GenerateSpec(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Turnstile API",
			Description: "API key issuance, scoped authorization, and rate limiting for machine-to-machine access.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "http",
			Scheme:      "bearer",
			Description: "API key of the form sk-<64 lowercase hex characters>.",
		},
	}
	doc.Components.SecuritySchemes["sessionCookie"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "cookie",
			Name: "turnstile_session",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"bearerAuth": {}},
		{"sessionCookie": {}},
	}

	doc.Components.Schemas["Error"] = errorSchema()
	doc.Components.Schemas["APIKey"] = apiKeySchema()
	doc.Components.Schemas["GeneratedKey"] = generatedKeySchema()
	doc.Components.Schemas["UsageStats"] = usageStatsSchema()

	doc.Paths = openapi3.NewPaths()
	addMePath(doc)
	addKeysPaths(doc)
	return doc
}

func addMePath(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/me", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "getIdentity",
			Summary:     "Return the authenticated identity",
			Responses:   jsonResponses(map[string]string{"200": "The authenticated principal, auth kind, and scopes"}),
		},
	})
}

func addKeysPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listKeys",
			Summary:     "List the principal's API keys (metadata only; never the secret)",
			Responses:   jsonResponses(map[string]string{"200": "Key metadata list", "403": "Missing keys:read scope"}),
		},
		Post: &openapi3.Operation{
			OperationID: "createKey",
			Summary:     "Issue a new scoped API key; the raw key is returned exactly once",
			RequestBody: &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().WithJSONSchema(createKeySchema()),
			},
			Responses: jsonResponses(map[string]string{
				"201": "The new key, including the one-time raw secret",
				"400": "Invalid name or scopes",
				"422": "Active key quota exceeded",
			}),
		},
	})

	doc.Paths.Set("/api/v1/keys/{keyID}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Delete: &openapi3.Operation{
			OperationID: "revokeKey",
			Summary:     "Revoke an API key (one-way)",
			Responses:   jsonResponses(map[string]string{"204": "Key revoked", "404": "Unknown or unowned key"}),
		},
	})

	doc.Paths.Set("/api/v1/keys/{keyID}/usage", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam()},
		Get: &openapi3.Operation{
			OperationID: "keyUsage",
			Summary:     "Traffic statistics recorded for a key",
			Responses:   jsonResponses(map[string]string{"200": "Usage statistics", "404": "Unknown or unowned key"}),
		},
	})
}

func keyIDParam() *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter("keyID").WithSchema(openapi3.NewInt64Schema()),
	}
}

func jsonResponses(codes map[string]string) *openapi3.Responses {
	responses := openapi3.NewResponses()
	for code, desc := range codes {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{Description: &d},
		})
	}
	return responses
}

func errorSchema() *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("error", openapi3.NewObjectSchema().
			WithProperty("code", openapi3.NewStringSchema()).
			WithProperty("message", openapi3.NewStringSchema())).
		WithProperty("requestId", openapi3.NewStringSchema()))
}

func apiKeySchema() *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewInt64Schema()).
		WithProperty("name", openapi3.NewStringSchema()).
		WithProperty("key_prefix", openapi3.NewStringSchema()).
		WithProperty("scopes", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithProperty("is_active", openapi3.NewBoolSchema()).
		WithProperty("expires_at", openapi3.NewDateTimeSchema()).
		WithProperty("last_used_at", openapi3.NewDateTimeSchema()))
}

func generatedKeySchema() *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewInt64Schema()).
		WithProperty("api_key", openapi3.NewStringSchema()).
		WithProperty("key_prefix", openapi3.NewStringSchema()).
		WithProperty("name", openapi3.NewStringSchema()).
		WithProperty("scopes", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())))
}

func createKeySchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("name", openapi3.NewStringSchema().WithMaxLength(100)).
		WithProperty("scopes", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithProperty("expires_at", openapi3.NewDateTimeSchema()).
		WithProperty("rate_limit_rpm", openapi3.NewIntegerSchema())
}

func usageStatsSchema() *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("total_requests", openapi3.NewInt64Schema()).
		WithProperty("error_requests", openapi3.NewInt64Schema()).
		WithProperty("last_24h", openapi3.NewInt64Schema()).
		WithProperty("last_request_at", openapi3.NewDateTimeSchema()))
}
