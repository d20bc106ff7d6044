package store

import "errors"

// Sentinel errors returned by Store operations. Callers match them with
// errors.Is and translate to client-facing responses.
var (
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyCart indicates a checkout was attempted on an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrBanned indicates the user is blocked from shop-facing operations.
	ErrBanned = errors.New("user is banned")
	// ErrInvalidArchive indicates a malformed or unsafe import payload.
	ErrInvalidArchive = errors.New("invalid archive")
)
