package models

import (
	"errors"
	"fmt"
	"strings"
)

// TransientFetchError is a fetch failure that is safe to retry: network
// errors, timeouts, rate limiting and upstream 5xx responses.
type TransientFetchError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient fetch error (HTTP %d, %d attempts): %v", e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("transient fetch error (%d attempts): %v", e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// FetchError is a terminal fetch failure for the cycle. It is never retried.
type FetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch error (HTTP %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("fetch error: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError rejects a single record. It lists every offending field,
// not just the first one found.
type ValidationError struct {
	Index   int          `json:"index"`
	AssetID string       `json:"assetId,omitempty"`
	Fields  []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	id := e.AssetID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("record %d (%s) invalid: %s", e.Index, id, strings.Join(parts, "; "))
}

func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// StorageError is a write-layer failure. The batch was rolled back and can be
// retried wholesale.
type StorageError struct {
	Op      string
	Records int
	Err     error
}

func (e *StorageError) Error() string {
	if e.Records > 0 {
		return fmt.Sprintf("storage %s (%d records): %v", e.Op, e.Records, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientFetchError.
func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}
