package device

import "codeberg.org/mutker/peripheralpm/internal/errors"

const (
	// Read Errors
	ErrNotPresent           = errors.ErrorCode("device_not_present")
	ErrReadFailed           = errors.ErrorCode("device_read_failed")
	ErrReadTimeout          = errors.ErrorCode("device_read_timeout")
	ErrUnsupportedAttribute = errors.ErrorCode("device_unsupported_attribute")

	// Inventory Errors
	ErrInventoryInvalid     = errors.ErrorCode("inventory_invalid")
	ErrInventoryUnavailable = errors.ErrorCode("inventory_unavailable")
	ErrUnknownCategory      = errors.ErrorCode("inventory_unknown_category")

	// NVML Errors
	ErrNVMLNotInitialized = errors.ErrorCode("nvml_not_initialized")
	ErrNVMLInitFailed     = errors.ErrorCode("nvml_init_failed")
	ErrNVMLShutdownFailed = errors.ErrorCode("nvml_shutdown_failed")
	ErrNVMLDeviceNotFound = errors.ErrorCode("nvml_device_not_found")
	ErrNVMLDeviceCount    = errors.ErrorCode("nvml_device_count_failed")
)

// IsNotPresent reports whether err signals an absent device rather than a
// transient read failure.
func IsNotPresent(err error) bool {
	return errors.HasCode(err, ErrNotPresent)
}
