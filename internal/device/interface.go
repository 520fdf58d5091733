package device

import "context"

// Device is a handle onto one physical component. Which reader interfaces a
// handle implements determines the attributes that are polled for it.
type Device interface {
	Name() string
}

// VoltageReader reads an output voltage in volts.
type VoltageReader interface {
	Voltage(ctx context.Context) (float64, error)
}

// CurrentReader reads a supplied current in amperes.
type CurrentReader interface {
	Current(ctx context.Context) (float64, error)
}

// SpeedReader reads a fan speed in RPM (or percent for devices that only
// report duty cycle).
type SpeedReader interface {
	Speed(ctx context.Context) (int, error)
}

// TemperatureReader reads a temperature in degrees Celsius.
type TemperatureReader interface {
	Temperature(ctx context.Context) (float64, error)
}

// PresenceReader reports whether the component is currently installed.
type PresenceReader interface {
	Presence(ctx context.Context) (bool, error)
}

// CapabilitySet narrows the attributes of a handle whose concrete type
// implements more readers than the hardware behind it backs.
type CapabilitySet interface {
	Supports(attr Attribute) bool
}

// Closer is implemented by handles or providers holding resources.
type Closer interface {
	Close() error
}

// Entry is one discovered device of a category.
type Entry struct {
	Name       string
	Device     Device
	Attributes []Attribute
}

// Provider enumerates the devices of a category.
type Provider interface {
	Discover(ctx context.Context, category Category) ([]Entry, error)
}

// Types for type safety and validation
type (
	Attribute string
	Category  string
)
