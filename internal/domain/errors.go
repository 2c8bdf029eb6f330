package domain

import "errors"

// ErrInvalid marks errors caused by malformed caller input.
var ErrInvalid = errors.New("invalid input")
