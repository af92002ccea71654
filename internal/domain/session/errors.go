package session

import (
	"errors"
)

// Sentinel errors returned by a Session.
var (
	ErrNoCandidates       = errors.New("no candidates available")
	ErrNoCurrentCandidate = errors.New("no candidate is being presented")
	ErrUnknownSession     = errors.New("unknown session")
)
