package perfstats

import (
	"fmt"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/device"
	"codeberg.org/mutker/peripheralpm/internal/errors"
)

// DeviceStatTracker holds the windowed statistics of one device. The device
// handle is borrowed; its lifetime belongs to the inventory.
type DeviceStatTracker struct {
	name       string
	category   device.Category
	device     device.Device
	daily      Alignment
	attributes []device.Attribute
	stats      map[device.Attribute]*WindowedStat
}

// NewDeviceStatTracker creates a tracker with no monitored attributes.
func NewDeviceStatTracker(name string, category device.Category, dev device.Device, daily Alignment) *DeviceStatTracker {
	return &DeviceStatTracker{
		name:     name,
		category: category,
		device:   dev,
		daily:    daily,
		stats:    make(map[device.Attribute]*WindowedStat),
	}
}

func (t *DeviceStatTracker) Name() string {
	return t.name
}

// Attributes returns the monitored attributes in registration order.
func (t *DeviceStatTracker) Attributes() []device.Attribute {
	attrs := make([]device.Attribute, len(t.attributes))
	copy(attrs, t.attributes)

	return attrs
}

// RegisterAttribute starts monitoring attr. Registering an attribute twice
// keeps its history.
func (t *DeviceStatTracker) RegisterAttribute(attr device.Attribute) {
	if _, ok := t.stats[attr]; ok {
		return
	}

	t.attributes = append(t.attributes, attr)
	t.stats[attr] = NewWindowedStat(t.daily)
}

// Monitors reports whether attr is registered.
func (t *DeviceStatTracker) Monitors(attr device.Attribute) bool {
	_, ok := t.stats[attr]
	return ok
}

// Sample folds value into both windows of attr.
func (t *DeviceStatTracker) Sample(attr device.Attribute, value float64, ts time.Time) error {
	stat, ok := t.stats[attr]
	if !ok {
		return errors.New().WithData(ErrAttributeNotMonitored, fmt.Sprintf("%s/%s", t.name, attr))
	}

	stat.Add(value, ts)

	return nil
}

// Snapshot copies every attribute's windows. It never mutates the tracker.
func (t *DeviceStatTracker) Snapshot() DeviceSnapshot {
	attrs := make(map[device.Attribute]AttributeSnapshot, len(t.stats))
	for attr, stat := range t.stats {
		attrs[attr] = stat.Snapshot()
	}

	return DeviceSnapshot{
		Name:       t.name,
		Category:   t.category,
		Attributes: attrs,
	}
}

// setDevice swaps the borrowed handle after a rediscovery.
func (t *DeviceStatTracker) setDevice(dev device.Device) {
	t.device = dev
}

// retainAttributes drops every attribute not in keep and registers the rest.
func (t *DeviceStatTracker) retainAttributes(keep []device.Attribute) {
	wanted := make(map[device.Attribute]struct{}, len(keep))
	for _, attr := range keep {
		wanted[attr] = struct{}{}
	}

	kept := t.attributes[:0]
	for _, attr := range t.attributes {
		if _, ok := wanted[attr]; ok {
			kept = append(kept, attr)
			continue
		}
		delete(t.stats, attr)
	}
	t.attributes = kept

	for _, attr := range keep {
		t.RegisterAttribute(attr)
	}
}
