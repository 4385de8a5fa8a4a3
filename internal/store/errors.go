package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist, or when an
// ownership-filtered update matched zero rows.
var ErrNotFound = errors.New("not found")

// QuotaError is returned by CreateAPIKey when the owning principal already
// holds the maximum number of active keys. The check and the insert run in
// the same transaction, so two concurrent creations cannot both slip under
// the limit.
type QuotaError struct {
	Limit   int
	Current int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("active api key quota exceeded: %d of %d in use", e.Current, e.Limit)
}
