package device

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type valueRange struct {
	min, max float64
}

// Reading ranges of the virtual-switch platform.
var simulatedRanges = map[Attribute]valueRange{
	AttrVoltage:     {10, 12},
	AttrCurrent:     {15, 20},
	AttrSpeed:       {1000, 5000},
	AttrTemperature: {30, 60},
}

var simulatedAttributes = map[Category][]Attribute{
	CategoryPSU:     {AttrVoltage, AttrCurrent},
	CategoryFan:     {AttrSpeed},
	CategoryThermal: {AttrTemperature},
	CategoryModule:  {AttrTemperature},
}

// SimulatedDevice produces random readings for platforms without sensors,
// such as virtual switches. It is always present.
type SimulatedDevice struct {
	name  string
	attrs map[Attribute]struct{}

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedDevice creates a handle reporting the attributes a component of
// category carries.
func NewSimulatedDevice(name string, category Category) *SimulatedDevice {
	return NewSimulatedDeviceWithSeed(name, category, time.Now().UnixNano())
}

// NewSimulatedDeviceWithSeed is NewSimulatedDevice with a fixed random seed.
func NewSimulatedDeviceWithSeed(name string, category Category, seed int64) *SimulatedDevice {
	attrs := make(map[Attribute]struct{})
	for _, attr := range simulatedAttributes[category] {
		attrs[attr] = struct{}{}
	}

	return &SimulatedDevice{
		name:  name,
		attrs: attrs,
		rng:   rand.New(rand.NewSource(seed)), //nolint:gosec // readings are fake
	}
}

func (d *SimulatedDevice) Name() string {
	return d.name
}

func (d *SimulatedDevice) Supports(attr Attribute) bool {
	_, ok := d.attrs[attr]
	return ok
}

func (d *SimulatedDevice) Voltage(context.Context) (float64, error) {
	return d.sample(AttrVoltage), nil
}

func (d *SimulatedDevice) Current(context.Context) (float64, error) {
	return d.sample(AttrCurrent), nil
}

func (d *SimulatedDevice) Speed(context.Context) (int, error) {
	return int(d.sample(AttrSpeed)), nil
}

func (d *SimulatedDevice) Temperature(context.Context) (float64, error) {
	return d.sample(AttrTemperature), nil
}

func (d *SimulatedDevice) Presence(context.Context) (bool, error) {
	return true, nil
}

func (d *SimulatedDevice) sample(attr Attribute) float64 {
	r := simulatedRanges[attr]

	d.mu.Lock()
	defer d.mu.Unlock()

	if attr == AttrSpeed {
		return float64(int(r.min) + d.rng.Intn(int(r.max-r.min)+1))
	}

	return r.min + d.rng.Float64()*(r.max-r.min)
}
