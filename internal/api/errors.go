package api

import "errors"

var (
	ErrRateLimited         = errors.New("rate limited by API")
	ErrMalformedResolution = errors.New("resolver response lacks key or url")
	ErrReadTimeout         = errors.New("no data received from artifact server")
)
