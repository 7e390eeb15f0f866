package domain

import "errors"

var (
	ErrAlreadyHosting    = errors.New("already hosting a stream")
	ErrAlreadyAssigned   = errors.New("connection already has a role")
	ErrNotFound          = errors.New("not found")
	ErrInvalidCode       = errors.New("invalid or ended stream code")
	ErrUnauthorizedRelay = errors.New("unauthorized relay")
	ErrNotHosting        = errors.New("not hosting a stream")
	ErrNotViewing        = errors.New("not viewing a stream")
	ErrRateLimited       = errors.New("too many attempts, slow down")
	ErrBadPayload        = errors.New("bad payload")
)
