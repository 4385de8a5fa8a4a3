package model

// ErrorResponse is the standard envelope for error responses. The request ID
// is echoed both here and in the X-Request-Id header so clients can correlate
// failures with server-side logs.
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"requestId"`
}

// ErrorDetail carries the machine-readable error code plus a human-readable
// message. Details is optional structured context (e.g. the missing scope).
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Error codes returned by the API. Authentication failures deliberately share
// INVALID_TOKEN regardless of whether the key was unknown, revoked, or
// expired, to avoid credential-enumeration side channels.
const (
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInsufficientScope = "INSUFFICIENT_SCOPE"
	CodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	CodeValidation        = "VALIDATION_ERROR"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL_ERROR"
)
