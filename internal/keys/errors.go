package keys

import (
	"errors"
	"fmt"
)

// ErrInvalidKey is returned by Validate for every authentication failure:
// malformed input, unknown key, revoked key, expired key. One error for all
// of them keeps "key not found" indistinguishable from "key invalid" at the
// wire, closing a credential-enumeration side channel.
var ErrInvalidKey = errors.New("invalid api key")

// ErrNotFound is returned by Revoke when the key does not exist or is not
// owned by the given principal. The two cases are deliberately merged.
var ErrNotFound = errors.New("api key not found")

// ValidationError reports a rejected Generate input. It is raised before any
// store access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// QuotaError reports that the owning principal already holds the maximum
// number of active keys. It is a business-rule error, not a validation
// error, and carries the numbers the client needs to explain the failure.
type QuotaError struct {
	Limit   int
	Current int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("api key quota exceeded: %d of %d active keys in use", e.Current, e.Limit)
}
