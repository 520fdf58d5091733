package perfstats

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/device"
)

const defaultReadTimeout = 5 * time.Second

// ReadFailure records one attribute skipped during a poll.
type ReadFailure struct {
	Device    string
	Attribute device.Attribute
	Err       error
}

// PollReport summarizes one PollAll cycle.
type PollReport struct {
	Devices  int
	Sampled  int
	Failures []ReadFailure
}

// Registry owns the trackers of one device category. Membership changes,
// polls and snapshots are serialized.
type Registry struct {
	mu          sync.Mutex
	category    device.Category
	daily       Alignment
	readTimeout time.Duration
	devices     map[string]*DeviceStatTracker
}

// Option configures a Registry.
type Option func(*Registry)

// WithDailyAlignment selects the reset rule of the 24-hour window.
func WithDailyAlignment(a Alignment) Option {
	return func(r *Registry) {
		r.daily = a
	}
}

// WithReadTimeout bounds every attribute read.
func WithReadTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.readTimeout = d
		}
	}
}

// NewRegistry creates an empty registry for category.
func NewRegistry(category device.Category, opts ...Option) *Registry {
	r := &Registry{
		category:    category,
		readTimeout: defaultReadTimeout,
		devices:     make(map[string]*DeviceStatTracker),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Registry) Category() device.Category {
	return r.category
}

// AddDevice tracks name with attrs. Re-adding a tracked device updates its
// handle and attribute list in place without resetting retained statistics.
// It reports whether the device was newly added.
func (r *Registry) AddDevice(name string, dev device.Device, attrs []device.Attribute) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.devices[name]; ok {
		t.setDevice(dev)
		t.retainAttributes(attrs)
		return false
	}

	t := NewDeviceStatTracker(name, r.category, dev, r.daily)
	for _, attr := range attrs {
		t.RegisterAttribute(attr)
	}
	r.devices[name] = t

	return true
}

// RemoveDevice drops name and its statistics. It reports whether the device
// was tracked.
func (r *Registry) RemoveDevice(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[name]; !ok {
		return false
	}
	delete(r.devices, name)

	return true
}

// Names returns the tracked device names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Tracks reports whether name is tracked.
func (r *Registry) Tracks(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.devices[name]
	return ok
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.devices)
}

// Sample folds a value into one device attribute directly.
func (r *Registry) Sample(name string, attr device.Attribute, value float64, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.devices[name]
	if !ok {
		return errDeviceNotTracked(name)
	}

	return t.Sample(attr, value, ts)
}

// PollAll reads every registered attribute of every device and samples the
// successful reads at ts. A failed read skips that attribute for this cycle
// and leaves its windows untouched. Devices are polled concurrently; each
// tracker is only touched by its own goroutine.
func (r *Registry) PollAll(ctx context.Context, ts time.Time) PollReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		report = PollReport{Devices: len(r.devices)}
	)

	for _, t := range r.devices {
		wg.Add(1)
		go func(t *DeviceStatTracker) {
			defer wg.Done()

			sampled, failures := r.pollDevice(ctx, t, ts)

			mu.Lock()
			report.Sampled += sampled
			report.Failures = append(report.Failures, failures...)
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	sort.Slice(report.Failures, func(i, j int) bool {
		a, b := report.Failures[i], report.Failures[j]
		if a.Device != b.Device {
			return a.Device < b.Device
		}
		return a.Attribute < b.Attribute
	})

	return report
}

func (r *Registry) pollDevice(ctx context.Context, t *DeviceStatTracker, ts time.Time) (int, []ReadFailure) {
	var (
		sampled  int
		failures []ReadFailure
	)

	for _, attr := range t.attributes {
		readCtx, cancel := context.WithTimeout(ctx, r.readTimeout)
		value, err := device.Read(readCtx, t.device, attr)
		cancel()

		if err == nil {
			err = t.Sample(attr, value, ts)
		}
		if err != nil {
			failures = append(failures, ReadFailure{Device: t.name, Attribute: attr, Err: err})
			continue
		}
		sampled++
	}

	return sampled, failures
}

// Snapshot returns the statistics of one tracked device.
func (r *Registry) Snapshot(name string) (DeviceSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.devices[name]
	if !ok {
		return DeviceSnapshot{}, false
	}

	return t.Snapshot(), true
}

// SnapshotAll copies the statistics of every tracked device.
func (r *Registry) SnapshotAll() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(Snapshot, len(r.devices))
	for name, t := range r.devices {
		snap[name] = t.Snapshot()
	}

	return snap
}
