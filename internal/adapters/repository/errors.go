package repository

import "errors"

// ErrPersistence wraps every read or write failure of a store backend.
var ErrPersistence = errors.New("enriched-record store failure")
