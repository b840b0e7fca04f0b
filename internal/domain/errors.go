package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrAlreadyDelivered rejects a manual retry of an attempt that already
	// reached SUCCESS.
	ErrAlreadyDelivered = errors.New("delivery already successful")

	// ErrRetryLimit rejects a manual retry once the attempt's redelivery
	// budget is spent.
	ErrRetryLimit = errors.New("retry limit reached")
)
