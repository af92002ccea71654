package queue

import "errors"

// Sentinel kinds for broker errors.
var (
	ErrClosed         = errors.New("broker closed")
	ErrUnknownQueue   = errors.New("queue not declared")
	ErrAlreadySettled = errors.New("delivery already acknowledged or rejected")
)
