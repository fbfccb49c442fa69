package main

import "errors"

// Error kinds reported by the core stores. Handlers map these to HTTP
// statuses; nothing here retries.
var (
	ErrInvalidToken = errors.New("invalid or already used token")
	ErrUnauthorized = errors.New("invalid API key")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("resource belongs to another agent")
	ErrValidation   = errors.New("missing required field")
)
