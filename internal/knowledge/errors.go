package knowledge

import "errors"

var (
	// ErrNotFound indicates the document does not exist, is deleted, or has
	// expired.
	ErrNotFound = errors.New("document not found")

	// ErrForbidden indicates the caller's scope does not cover the document
	// or tier. Surfaced to callers as a hard failure, never absorbed.
	ErrForbidden = errors.New("access outside caller scope")

	// ErrInvalidTier indicates an unknown tier value.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrInvalidInput indicates malformed create parameters.
	ErrInvalidInput = errors.New("invalid input")
)
