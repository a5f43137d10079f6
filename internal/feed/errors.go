package feed

import "errors"

var (
	ErrMalformedEvent = errors.New("malformed product event")
	ErrInvalidURL     = errors.New("feed url must use ws or wss scheme")
)
