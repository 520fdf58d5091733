package perfstats

import "codeberg.org/mutker/peripheralpm/internal/errors"

const (
	ErrAttributeNotMonitored = errors.ErrorCode("perfstats_attribute_not_monitored")
	ErrDeviceNotTracked      = errors.ErrorCode("perfstats_device_not_tracked")
)

func errDeviceNotTracked(name string) error {
	return errors.New().WithData(ErrDeviceNotTracked, name)
}
