package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrCannotConsume   = errors.New("cannot consume")
	ErrEngineFailure   = errors.New("media engine failure")
	ErrFatal           = errors.New("media engine died")
	ErrRateLimited     = errors.New("rate limited")
)

// Reason is the human-readable failure text returned to a client.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsClientError reports whether err is recovered locally and only reported to the requester.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrCannotConsume) ||
		errors.Is(err, ErrRateLimited)
}
