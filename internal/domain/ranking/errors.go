package ranking

import (
	"errors"
)

// Training outcomes that leave the previous classifier in effect.
var (
	ErrInsufficientClassBalance = errors.New("insufficient class balance: need both like and dislike examples")
	ErrNotEnoughExamples        = errors.New("not enough labelled examples")
)
