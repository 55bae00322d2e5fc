package domain

import "errors"

var (
	// The upstream could not be reached at all
	ErrTransport = errors.New("transport error")
	// The upstream answered with an unusable response
	ErrResponse               = errors.New("bad response")
	ErrNotFound               = errors.New("not found")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrInvalidInput           = errors.New("invalid input")
)
