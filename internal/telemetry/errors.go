package telemetry

import "codeberg.org/mutker/peripheralpm/internal/errors"

const (
	// Registration Errors
	ErrRegisterFailed = errors.ErrorCode("telemetry_register_failed")

	// Server Errors
	ErrInvalidAddress = errors.ErrorCode("telemetry_invalid_address")
	ErrServeFailed    = errors.ErrorCode("telemetry_serve_failed")
	ErrServerShutdown = errors.ErrorCode("telemetry_server_shutdown_failed")
)
