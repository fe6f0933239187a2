package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrIllegalTransition is returned when a status write is not allowed from the job's current state
	ErrIllegalTransition = errors.New("illegal job status transition")

	// ErrMalformedMessage is returned when a queue message cannot be used
	ErrMalformedMessage = errors.New("malformed queue message")

	// ErrDuplicateIdempotencyKey is returned when the account already submitted this key
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
