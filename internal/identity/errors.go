package identity

import "errors"

var (
	ErrNotFound    = errors.New("user not found in identity service")
	ErrRateLimited = errors.New("rate limited by identity service")
	ErrUnavailable = errors.New("identity service unavailable")
)
