package device

import (
	"context"
	"os"
	"strconv"
	"strings"

	"codeberg.org/mutker/peripheralpm/internal/errors"
)

const (
	milliUnits = 1000.0
)

// SysfsPaths binds attributes to hwmon-style files. Voltage and current files
// hold millivolts and milliamperes, speed files hold RPM and temperature files
// hold millidegrees Celsius. The presence file holds 1 or 0.
type SysfsPaths struct {
	Voltage     string `mapstructure:"voltage"`
	Current     string `mapstructure:"current"`
	Speed       string `mapstructure:"speed"`
	Temperature string `mapstructure:"temperature"`
	Presence    string `mapstructure:"presence"`
}

// Empty reports whether no file is bound.
func (p SysfsPaths) Empty() bool {
	return p == SysfsPaths{}
}

func (p SysfsPaths) path(attr Attribute) string {
	switch attr {
	case AttrVoltage:
		return p.Voltage
	case AttrCurrent:
		return p.Current
	case AttrSpeed:
		return p.Speed
	case AttrTemperature:
		return p.Temperature
	default:
		return ""
	}
}

// SysfsDevice reads a component through plain sysfs attribute files.
type SysfsDevice struct {
	name     string
	paths    SysfsPaths
	readFile func(string) ([]byte, error)
}

// NewSysfsDevice creates a handle reading the files bound in paths.
func NewSysfsDevice(name string, paths SysfsPaths) *SysfsDevice {
	return &SysfsDevice{
		name:     name,
		paths:    paths,
		readFile: os.ReadFile,
	}
}

func (d *SysfsDevice) Name() string {
	return d.name
}

// Supports reports whether a file is bound for attr.
func (d *SysfsDevice) Supports(attr Attribute) bool {
	return d.paths.path(attr) != ""
}

func (d *SysfsDevice) Voltage(ctx context.Context) (float64, error) {
	v, err := d.readNumber(ctx, AttrVoltage)
	return v / milliUnits, err
}

func (d *SysfsDevice) Current(ctx context.Context) (float64, error) {
	v, err := d.readNumber(ctx, AttrCurrent)
	return v / milliUnits, err
}

func (d *SysfsDevice) Speed(ctx context.Context) (int, error) {
	v, err := d.readNumber(ctx, AttrSpeed)
	return int(v), err
}

func (d *SysfsDevice) Temperature(ctx context.Context) (float64, error) {
	v, err := d.readNumber(ctx, AttrTemperature)
	return v / milliUnits, err
}

// Presence reads the presence file. A handle without one is always present;
// a missing presence file means the component was pulled.
func (d *SysfsDevice) Presence(ctx context.Context) (bool, error) {
	if d.paths.Presence == "" {
		return true, nil
	}

	raw, err := d.read(ctx, d.paths.Presence)
	if err != nil {
		if IsNotPresent(err) {
			return false, nil
		}
		return false, err
	}

	switch strings.TrimSpace(string(raw)) {
	case "1", "true", "present":
		return true, nil
	default:
		return false, nil
	}
}

func (d *SysfsDevice) readNumber(ctx context.Context, attr Attribute) (float64, error) {
	errFactory := errors.New()

	path := d.paths.path(attr)
	if path == "" {
		return 0, errFactory.WithData(ErrUnsupportedAttribute, d.name+"/"+string(attr))
	}

	raw, err := d.read(ctx, path)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, errFactory.Wrap(ErrReadFailed, err)
	}

	return v, nil
}

func (d *SysfsDevice) read(ctx context.Context, path string) ([]byte, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return nil, errFactory.Wrap(ErrReadTimeout, err)
	}

	raw, err := d.readFile(path)
	switch {
	case err == nil:
		return raw, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, errFactory.Wrap(ErrNotPresent, err)
	default:
		return nil, errFactory.Wrap(ErrReadFailed, err)
	}
}
