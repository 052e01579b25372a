package verify

import "errors"

var (
	ErrNotFound               = errors.New("verify: not found")
	ErrInvalidInput           = errors.New("verify: invalid input")
	ErrInvalidStateTransition = errors.New("verify: invalid state transition")
	ErrAlreadyFinalized       = errors.New("verify: already finalized")
	ErrAdapter                = errors.New("verify: provider adapter failure")
)
