package jobs

import (
	"errors"
	"fmt"

	"hitscribe/internal/services"
)

var (
	// ErrNotFound is returned when no job has the requested id.
	ErrNotFound = fmt.Errorf("job %w", services.ErrNotFound)
	// ErrInvalidTransition is returned when an update would move a job backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidInput is returned when a new job does not name exactly one source.
	ErrInvalidInput = fmt.Errorf("job input: %w", services.ErrValidation)
)
