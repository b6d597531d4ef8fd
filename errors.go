package strata

import "github.com/strataeng/strata/internal/fault"

// Kind enumerates the engine's closed error taxonomy (spec §7). Every
// failure that crosses the broker boundary is classified into exactly one
// Kind so callers can branch on failure class without string matching.
//
// This is an alias of internal/fault.Kind: the taxonomy itself lives in a
// leaf package so every engine subpackage can construct these errors
// without importing the root package (which in turn imports them) —
// see internal/fault's doc comment. The root package re-exports the type
// and constructors under their original names so the public API is
// unaffected.
type Kind = fault.Kind

// Error is the engine's typed error, re-exported from internal/fault.
type Error = fault.Error

// Kind values, re-exported from internal/fault.
const (
	KindNotOpen             = fault.KindNotOpen
	KindSchemaMismatch      = fault.KindSchemaMismatch
	KindSqlError            = fault.KindSqlError
	KindConstraintViolation = fault.KindConstraintViolation
	KindQuotaExceeded       = fault.KindQuotaExceeded
	KindVectorMissing       = fault.KindVectorMissing
	KindDimensionMismatch   = fault.KindDimensionMismatch
	KindProviderError       = fault.KindProviderError
	KindProviderTimeout     = fault.KindProviderTimeout
	KindOverloaded          = fault.KindOverloaded
	KindCancelled           = fault.KindCancelled
	KindInvalidRequest      = fault.KindInvalidRequest
	KindTimeout             = fault.KindTimeout
)

// NewError constructs an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return fault.NewError(kind, message)
}

// Wrap constructs an Error of the given kind that wraps a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return fault.Wrap(kind, message, cause)
}
