package dispatch

import (
	"errors"

	"scan-dispatcher/internal/models"
)

var (
	ErrUnauthorized = errors.New("not_authorized")
	// ErrInvalidArgument is the parent of every input validation error.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidJobID    = &argError{msg: "Invalid job_id"}
	ErrInvalidResult   = &argError{msg: "Invalid results"}
	ErrJobNotAssigned  = models.ErrJobNotAssigned
)

type argError struct{ msg string }

func (e *argError) Error() string { return e.msg }

func (e *argError) Is(target error) bool { return target == ErrInvalidArgument }
