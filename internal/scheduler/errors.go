package scheduler

import "codeberg.org/mutker/peripheralpm/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("scheduler_invalid_config")

	// Lifecycle Errors
	ErrInvalidState = errors.ErrorCode("scheduler_invalid_state")
	ErrEmptyModel   = errors.ErrorCode("scheduler_empty_model")
)
