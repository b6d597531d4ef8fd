// Package fault holds the engine's closed error taxonomy (spec §7). It is
// a leaf package with no dependency on the root strata package or any of
// its subpackages specifically so that both the root package and every
// engine subpackage (storage, ingest, embed, search, broker) can import it
// without creating an import cycle: the root package re-exports these
// types under their original names for the public API, while internal
// packages import fault directly.
package fault

import "fmt"

// Kind enumerates the engine's closed error taxonomy. Every failure that
// crosses the broker boundary is classified into exactly one Kind so
// callers can branch on failure class without string matching.
type Kind int

const (
	// KindNotOpen: operation issued before the engine was opened.
	KindNotOpen Kind = iota
	// KindSchemaMismatch: an imported database has an unknown schema version.
	KindSchemaMismatch
	// KindSqlError: the underlying engine rejected a statement.
	KindSqlError
	// KindConstraintViolation: a primary key, not-null, or check constraint failed.
	KindConstraintViolation
	// KindQuotaExceeded: the storage layer refused a write.
	KindQuotaExceeded
	// KindVectorMissing: the vector virtual table failed to load.
	KindVectorMissing
	// KindDimensionMismatch: a vector's length didn't match the collection's dimensions.
	KindDimensionMismatch
	// KindProviderError: the embedding provider returned a failure.
	KindProviderError
	// KindProviderTimeout: an embedding call exceeded its budget.
	KindProviderTimeout
	// KindOverloaded: the broker's queue was saturated.
	KindOverloaded
	// KindCancelled: the request was cancelled.
	KindCancelled
	// KindInvalidRequest: request validation failed (empty id, wrong type, ...).
	KindInvalidRequest
	// KindTimeout: a broker request exceeded its own timeout budget before
	// its handler returned. Distinct from KindProviderTimeout, which
	// classifies an embedding provider call timing out inside a handler —
	// this one fires at the broker's dispatch layer, above any handler.
	KindTimeout
)

// String returns the taxonomy name used in error messages and details.
func (k Kind) String() string {
	switch k {
	case KindNotOpen:
		return "NotOpen"
	case KindSchemaMismatch:
		return "SchemaMismatch"
	case KindSqlError:
		return "SqlError"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindVectorMissing:
		return "VectorMissing"
	case KindDimensionMismatch:
		return "DimensionMismatch"
	case KindProviderError:
		return "ProviderError"
	case KindProviderTimeout:
		return "ProviderTimeout"
	case KindOverloaded:
		return "Overloaded"
	case KindCancelled:
		return "Cancelled"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// retryableKinds mirrors the "Retryable" column of spec §7's taxonomy
// table. SqlError is "sometimes" retryable at the caller's discretion
// (depends on the underlying engine code in Details), so it is not
// included here; Retryable() reports the conservative default for it.
var retryableKinds = map[Kind]bool{
	KindProviderError:   true,
	KindProviderTimeout: true,
	KindOverloaded:      true,
	KindTimeout:         true,
}

// Error is the engine's typed error. Every error returned across a
// component boundary (storage, ingest, embedding, search, broker) is
// wrapped into one of these so callers can inspect Kind() instead of
// matching on message text.
type Error struct {
	kind    Kind
	message string
	details map[string]any
	cause   error
}

// NewError constructs an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap constructs an Error of the given kind that wraps a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// WithDetails returns a copy of the error with additional structured
// details attached (e.g. the failing document index in a batch insert).
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.details = details
	return &cp
}

// Kind returns the error's taxonomy classification.
func (e *Error) Kind() Kind { return e.kind }

// Details returns the error's structured detail payload, if any.
func (e *Error) Details() map[string]any { return e.details }

// Retryable reports whether the caller may reasonably retry the request
// that produced this error, per spec §7's taxonomy table.
func (e *Error) Retryable() bool { return retryableKinds[e.kind] }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }
