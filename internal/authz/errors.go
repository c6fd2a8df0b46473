package authz

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("resource conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrUnknownRole       = errors.New("unknown role")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidCode       = errors.New("invalid code")
	ErrRateLimited       = errors.New("too many attempts")
)
