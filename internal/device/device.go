package device

import (
	"context"
	"fmt"

	"codeberg.org/mutker/peripheralpm/internal/errors"
)

const (
	AttrVoltage     Attribute = "voltage"
	AttrCurrent     Attribute = "current"
	AttrSpeed       Attribute = "speed"
	AttrTemperature Attribute = "temperature"
)

const (
	CategoryPSU     Category = "psu"
	CategoryFan     Category = "fan"
	CategoryThermal Category = "thermal"
	CategoryModule  Category = "module"
)

// AllAttributes lists the polled attributes in canonical order.
var AllAttributes = []Attribute{AttrVoltage, AttrCurrent, AttrSpeed, AttrTemperature}

// AllCategories lists every supported category.
var AllCategories = []Category{CategoryPSU, CategoryFan, CategoryThermal, CategoryModule}

// ParseCategory validates a configured category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range AllCategories {
		if string(c) == s {
			return c, nil
		}
	}

	return "", errors.New().WithData(ErrUnknownCategory, s)
}

// Attributes returns the attributes d can be polled for, derived once from
// the reader interfaces it implements.
func Attributes(d Device) []Attribute {
	caps, narrowed := d.(CapabilitySet)

	attrs := make([]Attribute, 0, len(AllAttributes))
	for _, attr := range AllAttributes {
		if !implements(d, attr) {
			continue
		}
		if narrowed && !caps.Supports(attr) {
			continue
		}
		attrs = append(attrs, attr)
	}

	return attrs
}

// NewEntry wraps d with its derived attribute list.
func NewEntry(d Device) Entry {
	return Entry{Name: d.Name(), Device: d, Attributes: Attributes(d)}
}

func implements(d Device, attr Attribute) bool {
	switch attr {
	case AttrVoltage:
		_, ok := d.(VoltageReader)
		return ok
	case AttrCurrent:
		_, ok := d.(CurrentReader)
		return ok
	case AttrSpeed:
		_, ok := d.(SpeedReader)
		return ok
	case AttrTemperature:
		_, ok := d.(TemperatureReader)
		return ok
	default:
		return false
	}
}

type readResult struct {
	value float64
	err   error
}

type presenceResult struct {
	present bool
	err     error
}

// Read reads attr from d. The read is abandoned when ctx is done; a reader
// that ignores ctx keeps running in the background but its result is dropped.
func Read(ctx context.Context, d Device, attr Attribute) (float64, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return 0, errFactory.Wrap(ErrReadTimeout, err)
	}

	done := make(chan readResult, 1)
	go func() {
		v, err := readAttribute(ctx, d, attr)
		done <- readResult{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, errFactory.Wrap(ErrReadTimeout, ctx.Err())
	case res := <-done:
		if res.err == nil {
			return res.value, nil
		}
		if ctx.Err() != nil {
			return 0, errFactory.Wrap(ErrReadTimeout, res.err)
		}
		if errors.HasCode(res.err, ErrNotPresent) ||
			errors.HasCode(res.err, ErrUnsupportedAttribute) ||
			errors.HasCode(res.err, ErrReadTimeout) {
			return 0, res.err
		}
		return 0, errFactory.Wrap(ErrReadFailed, res.err)
	}
}

// IsPresent reports whether d is installed. Handles without a presence
// reader are assumed present.
func IsPresent(ctx context.Context, d Device) (bool, error) {
	pr, ok := d.(PresenceReader)
	if !ok {
		return true, nil
	}

	done := make(chan presenceResult, 1)
	go func() {
		present, err := pr.Presence(ctx)
		done <- presenceResult{present: present, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, errors.New().Wrap(ErrReadTimeout, ctx.Err())
	case res := <-done:
		if res.err != nil && !errors.HasCode(res.err, ErrNotPresent) {
			return false, errors.New().Wrap(ErrReadFailed, res.err)
		}
		return res.present && res.err == nil, nil
	}
}

func readAttribute(ctx context.Context, d Device, attr Attribute) (float64, error) {
	switch attr {
	case AttrVoltage:
		if r, ok := d.(VoltageReader); ok {
			return r.Voltage(ctx)
		}
	case AttrCurrent:
		if r, ok := d.(CurrentReader); ok {
			return r.Current(ctx)
		}
	case AttrSpeed:
		if r, ok := d.(SpeedReader); ok {
			speed, err := r.Speed(ctx)
			return float64(speed), err
		}
	case AttrTemperature:
		if r, ok := d.(TemperatureReader); ok {
			return r.Temperature(ctx)
		}
	}

	return 0, errors.New().WithData(ErrUnsupportedAttribute, fmt.Sprintf("%s/%s", d.Name(), attr))
}
