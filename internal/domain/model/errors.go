package model

import (
	"errors"
)

// Per-record error kinds. Both are permanent for the message that carries
// the record: redelivering it cannot change the outcome.
var (
	ErrMalformedRecord  = errors.New("malformed record")
	ErrImageUnavailable = errors.New("image unavailable")
)

// IsPermanent reports whether err is a per-record condition that must not be
// retried through broker redelivery.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedRecord) || errors.Is(err, ErrImageUnavailable)
}
