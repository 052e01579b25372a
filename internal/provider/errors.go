package provider

import "errors"

var (
	ErrNotFound      = errors.New("provider: not found")
	ErrUnavailable   = errors.New("provider: unavailable")
	ErrQuotaExceeded = errors.New("provider: daily quota exceeded")
	ErrBadWebhook    = errors.New("provider: webhook rejected")
)
