package device

import (
	"context"
	"fmt"
	"os"

	"codeberg.org/mutker/peripheralpm/internal/errors"
	"github.com/spf13/viper"
)

// ComponentSpec describes one component of the chassis metadata file.
type ComponentSpec struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Simulated   bool   `mapstructure:"simulated"`
	SysfsPaths  `mapstructure:",squash"`
}

// FanDrawerSpec groups the fans of one drawer.
type FanDrawerSpec struct {
	Name string          `mapstructure:"name"`
	Fans []ComponentSpec `mapstructure:"fans"`
}

// ModuleSpec describes a pluggable module. The module itself is a device when
// it binds sensors or is simulated; each component is a device of its own.
type ModuleSpec struct {
	ComponentSpec `mapstructure:",squash"`
	Components    []ComponentSpec `mapstructure:"components"`
}

// ChassisSpec is the decoded chassis metadata.
type ChassisSpec struct {
	Name        string          `mapstructure:"name"`
	Description string          `mapstructure:"description"`
	PSUs        []ComponentSpec `mapstructure:"psus"`
	FanDrawers  []FanDrawerSpec `mapstructure:"fan_drawers"`
	Thermals    []ComponentSpec `mapstructure:"thermals"`
	Modules     []ModuleSpec    `mapstructure:"modules"`
}

// Chassis is an inventory provider built once from the metadata file. It
// hands out the same device handles on every Discover call.
type Chassis struct {
	name    string
	devices map[Category][]Entry
}

// LoadChassis reads and validates the chassis metadata at path. JSON, TOML and
// YAML files are accepted.
func LoadChassis(path string) (*Chassis, error) {
	errFactory := errors.New()

	if path == "" {
		return nil, errFactory.WithMessage(ErrInventoryUnavailable, "no chassis metadata file configured")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errFactory.Wrap(ErrInventoryUnavailable, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errFactory.Wrap(ErrInventoryInvalid, err)
	}
	if !v.IsSet("chassis") {
		return nil, errFactory.WithMessage(ErrInventoryInvalid, "missing chassis section")
	}

	var spec ChassisSpec
	if err := v.UnmarshalKey("chassis", &spec); err != nil {
		return nil, errFactory.Wrap(ErrInventoryInvalid, err)
	}

	return NewChassis(spec)
}

// NewChassis builds the device model of spec. A model without devices is
// rejected.
func NewChassis(spec ChassisSpec) (*Chassis, error) {
	c := &Chassis{
		name:    spec.Name,
		devices: make(map[Category][]Entry),
	}
	b := &chassisBuilder{chassis: c, seen: make(map[string]Category)}

	for i, psu := range spec.PSUs {
		b.add(CategoryPSU, psu, fmt.Sprintf("PSU_%d", i))
	}

	for d, drawer := range spec.FanDrawers {
		drawerName := drawer.Name
		if drawerName == "" {
			drawerName = fmt.Sprintf("FAN_DRAWER_%d", d)
		}
		for f, fan := range drawer.Fans {
			if fan.Name != "" && b.taken(fan.Name) {
				fan.Name = drawerName + "_" + fan.Name
			}
			b.add(CategoryFan, fan, fmt.Sprintf("%s_FAN_%d", drawerName, f))
		}
	}

	for i, thermal := range spec.Thermals {
		b.add(CategoryThermal, thermal, fmt.Sprintf("THERMAL_%d", i))
	}

	for m, module := range spec.Modules {
		moduleName := module.Name
		if moduleName == "" {
			moduleName = fmt.Sprintf("MODULE_%d", m)
		}
		if module.Simulated || !module.SysfsPaths.Empty() {
			b.add(CategoryModule, module.ComponentSpec, moduleName)
		}
		for i, component := range module.Components {
			if component.Name != "" {
				component.Name = moduleName + "_" + component.Name
			}
			b.add(CategoryModule, component, fmt.Sprintf("%s_COMPONENT_%d", moduleName, i))
		}
	}

	if b.err != nil {
		return nil, b.err
	}
	if c.Len() == 0 {
		return nil, errors.New().WithMessage(ErrInventoryInvalid, "chassis metadata describes no devices")
	}

	return c, nil
}

// Name returns the chassis name from the metadata file.
func (c *Chassis) Name() string {
	return c.name
}

// Len returns the number of devices across all categories.
func (c *Chassis) Len() int {
	n := 0
	for _, entries := range c.devices {
		n += len(entries)
	}
	return n
}

func (c *Chassis) Discover(_ context.Context, category Category) ([]Entry, error) {
	entries := c.devices[category]
	out := make([]Entry, len(entries))
	copy(out, entries)

	return out, nil
}

type chassisBuilder struct {
	chassis *Chassis
	seen    map[string]Category
	err     error
}

// taken reports whether name is used by any category. Device names key the
// published statistics, so they are unique chassis-wide.
func (b *chassisBuilder) taken(name string) bool {
	_, ok := b.seen[name]
	return ok
}

func (b *chassisBuilder) add(category Category, spec ComponentSpec, fallback string) {
	if b.err != nil {
		return
	}

	name := spec.Name
	if name == "" {
		name = fallback
	}
	if owner, ok := b.seen[name]; ok {
		b.err = errors.New().WithData(ErrInventoryInvalid, fmt.Sprintf("duplicate device name %q in %s and %s", name, owner, category))
		return
	}

	var dev Device
	switch {
	case spec.Simulated:
		dev = NewSimulatedDevice(name, category)
	case spec.SysfsPaths.Empty():
		b.err = errors.New().WithData(ErrInventoryInvalid, fmt.Sprintf("%s %q binds no sensors", category, name))
		return
	default:
		dev = NewSysfsDevice(name, spec.SysfsPaths)
	}

	b.seen[name] = category
	b.chassis.devices[category] = append(b.chassis.devices[category], NewEntry(dev))
}
