package profile

import (
	"errors"
)

// Sentinel errors for profile handling.
var (
	// ErrPersistence means the profile could not be saved; the mutation
	// that triggered the write must be considered not applied.
	ErrPersistence   = errors.New("profile persistence failure")
	ErrEmptyUsername = errors.New("username must not be empty")
	ErrInvalidLabel  = errors.New("label must be like or dislike")
)
