package service

import "errors"

var (
	// ErrNoSinks is returned when enrichment would have nowhere to write.
	ErrNoSinks = errors.New("no enriched-record sink enabled")
)
