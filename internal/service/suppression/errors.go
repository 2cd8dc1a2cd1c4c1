package suppression

import "errors"

var (
	// ErrNotFound is returned when no record exists for the address.
	ErrNotFound = errors.New("suppression record not found")

	// ErrInvalidEmail is returned for inputs that cannot be an address.
	ErrInvalidEmail = errors.New("invalid email address")
)
