package models

import "errors"

var (
	// ErrJobNotAssigned is returned by stores when a result targets a job that
	// is not in the assigned state (or, when assignee checks are on, is held
	// by another agent).
	ErrJobNotAssigned = errors.New("job not assigned")
	ErrJobNotFound    = errors.New("job not found")
)
