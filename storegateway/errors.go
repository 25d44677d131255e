package storegateway

import (
	"errors"
	"fmt"
	"strings"
)

// DBError wraps a store operation error with its operation name.
type DBError struct {
	Operation string
	Err       error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("store error in %s: %v", e.Operation, e.Err)
}

func (e *DBError) Unwrap() error { return e.Err }

// NotFoundError is returned when a fetch-by-key finds nothing.
type NotFoundError struct {
	Resource string
	Key      interface{}
}

func (e *NotFoundError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("%s not found: %v", e.Resource, e.Key)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// ValidationError marks input that was rejected before ever reaching the
// store (malformed-input, per the error taxonomy).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Reason)
}

// WrapDBError attaches operation context to a store error.
func WrapDBError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{Operation: operation, Err: err}
}

func NewNotFoundError(resource string, key interface{}) error {
	return &NotFoundError{Resource: resource, Key: key}
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Kind classifies a store failure per the error handling design (§7):
// callers only ever need to distinguish these, never the raw driver error.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientNetwork
	KindIdempotentDuplicate
	KindTimeout
	KindConnectionLost
	KindMalformedInput
	KindFatalConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient-network"
	case KindIdempotentDuplicate:
		return "idempotent-duplicate"
	case KindTimeout:
		return "timeout"
	case KindConnectionLost:
		return "connection-lost"
	case KindMalformedInput:
		return "malformed-input"
	case KindFatalConfiguration:
		return "fatal-configuration"
	default:
		return "unknown"
	}
}

// IsDuplicateKey reports whether err is a unique-constraint violation, the
// signal callers use to treat an idempotent retry as success.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
		strings.Contains(err.Error(), "SQLSTATE 23505")
}

// Classify maps a raw store error to its Kind. Unknown errors default to
// transient-network so callers retry rather than drop data.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if IsDuplicateKey(err) {
		return KindIdempotentDuplicate
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "i/o timeout"):
		return KindTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "connection reset"), errors.Is(err, errBrokenConn):
		return KindConnectionLost
	case strings.Contains(msg, "invalid input syntax"), strings.Contains(msg, "violates check constraint"),
		strings.Contains(msg, "violates not-null constraint"):
		return KindMalformedInput
	default:
		return KindTransientNetwork
	}
}

var errBrokenConn = errors.New("broken connection")
