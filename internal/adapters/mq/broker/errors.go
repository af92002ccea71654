package broker

import "errors"

// ErrBrokerUnavailable is returned once every connection attempt has failed.
// It is fatal to the calling process.
var ErrBrokerUnavailable = errors.New("broker unavailable")
