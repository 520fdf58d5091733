package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/device"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/perfstats"
	"codeberg.org/mutker/peripheralpm/internal/store"
	"codeberg.org/mutker/peripheralpm/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m, s int) time.Time {
	return time.Date(2023, 10, 1, h, m, s, 0, time.Local)
}

type fakePSU struct {
	name string

	mu      sync.Mutex
	voltage float64
	present bool
	broken  bool
}

func newPSU(name string, voltage float64) *fakePSU {
	return &fakePSU{name: name, voltage: voltage, present: true}
}

func (p *fakePSU) Name() string { return p.name }

func (p *fakePSU) Voltage(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broken {
		return 0, fmt.Errorf("i2c bus timeout")
	}
	return p.voltage, nil
}

func (p *fakePSU) Presence(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.present, nil
}

func (p *fakePSU) set(voltage float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.voltage = voltage
}

func (p *fakePSU) setPresent(present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.present = present
}

type fakeProvider struct {
	mu      sync.Mutex
	devices map[device.Category][]device.Device
	err     error
}

func newProvider(devs ...device.Device) *fakeProvider {
	return &fakeProvider{devices: map[device.Category][]device.Device{device.CategoryPSU: devs}}
}

func (p *fakeProvider) Discover(_ context.Context, category device.Category) ([]device.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]device.Entry, 0, len(p.devices[category]))
	for _, d := range p.devices[category] {
		entries = append(entries, device.NewEntry(d))
	}
	return entries, p.err
}

func (p *fakeProvider) set(err error, devs ...device.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.devices[device.CategoryPSU] = devs
	p.err = err
}

type fakeStore struct {
	mu        sync.Mutex
	err       error
	published chan []store.Record
}

func newStore() *fakeStore {
	return &fakeStore{published: make(chan []store.Record, 64)}
}

func (*fakeStore) Name() string { return "fake" }

func (s *fakeStore) Publish(_ context.Context, records []store.Record) error {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()

	select {
	case s.published <- records:
	default:
	}
	return err
}

func (*fakeStore) Close() error { return nil }

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

func (s *fakeStore) next(t *testing.T) []store.Record {
	t.Helper()

	select {
	case records := <-s.published:
		return records
	case <-time.After(5 * time.Second):
		t.Fatal("no publication")
		return nil
	}
}

func (s *fakeStore) none(t *testing.T) {
	t.Helper()

	select {
	case records := <-s.published:
		t.Fatalf("unexpected publication of %d records", len(records))
	case <-time.After(20 * time.Millisecond):
	}
}

type countingRecorder struct {
	mu             sync.Mutex
	publishes      int
	publishErrors  int
	ticks          int
	trackedDevices map[device.Category]int
}

func (r *countingRecorder) ObservePoll(device.Category, perfstats.PollReport, time.Duration) {}

func (r *countingRecorder) ObserveTick(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
}

func (r *countingRecorder) ObservePublish(_ int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishes++
	if err != nil {
		r.publishErrors++
	}
}

func (r *countingRecorder) SetTrackedDevices(category device.Category, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trackedDevices == nil {
		r.trackedDevices = make(map[device.Category]int)
	}
	r.trackedDevices[category] = n
}

var testConfig = Config{
	PollInterval:    30 * time.Second,
	PublishInterval: 15 * time.Minute,
	ReadTimeout:     time.Second,
	PublishTimeout:  time.Second,
}

func newTestScheduler(t *testing.T, provider device.Provider, st store.StateStore, opts ...Option) *Scheduler {
	t.Helper()

	opts = append([]Option{WithClock(func() time.Time { return at(12, 20, 0) })}, opts...)
	s, err := New(testConfig, provider, st, []*perfstats.Registry{perfstats.NewRegistry(device.CategoryPSU)}, opts...)
	require.NoError(t, err)

	return s
}

func voltageRecord(t *testing.T, records []store.Record, name string) perfstats.WindowState {
	t.Helper()

	for _, rec := range records {
		if rec.Device == name && rec.Attribute == device.AttrVoltage {
			return rec.Stats.Window(perfstats.Window15Min)
		}
	}
	t.Fatalf("no voltage record for %s", name)
	return perfstats.WindowState{}
}

func TestNewValidates(t *testing.T) {
	provider, st := newProvider(), newStore()
	psus := perfstats.NewRegistry(device.CategoryPSU)

	tests := []struct {
		name       string
		cfg        Config
		registries []*perfstats.Registry
	}{
		{"zero poll interval", Config{PublishInterval: time.Minute}, []*perfstats.Registry{psus}},
		{"zero publish interval", Config{PollInterval: time.Minute}, []*perfstats.Registry{psus}},
		{"no registry", testConfig, nil},
		{"duplicate category", testConfig, []*perfstats.Registry{psus, perfstats.NewRegistry(device.CategoryPSU)}},
		{"publish timeout not below interval", Config{PollInterval: time.Second, PublishInterval: time.Minute, PublishTimeout: time.Minute}, []*perfstats.Registry{psus}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, provider, st, tt.registries)
			assert.True(t, errors.HasCode(err, ErrInvalidConfig))
		})
	}
}

func TestStartRefusesEmptyModel(t *testing.T) {
	s := newTestScheduler(t, newProvider(), newStore())

	err := s.Start(context.Background())
	assert.True(t, errors.HasCode(err, ErrEmptyModel))
	assert.Equal(t, StateIdle, s.State())

	failing := newProvider()
	failing.set(errors.New().New(device.ErrInventoryUnavailable))
	s = newTestScheduler(t, failing, newStore())

	err = s.Start(context.Background())
	assert.True(t, errors.HasCode(err, ErrEmptyModel))
	assert.True(t, errors.HasCode(err, device.ErrInventoryUnavailable))
}

func TestLifecycle(t *testing.T) {
	st := newStore()
	s := newTestScheduler(t, newProvider(newPSU("PSU_0", 12.1)), st)

	_, err := s.Tick(context.Background(), at(12, 0, 0))
	assert.True(t, errors.HasCode(err, ErrInvalidState))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())
	assert.True(t, errors.HasCode(s.Start(context.Background()), ErrInvalidState))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())

	final := st.next(t)
	require.Len(t, final, 1)
	assert.Equal(t, at(12, 20, 0), final[0].PublishedAt)

	assert.True(t, errors.HasCode(s.Stop(context.Background()), ErrInvalidState))
	_, err = s.Tick(context.Background(), at(12, 21, 0))
	assert.True(t, errors.HasCode(err, ErrInvalidState))
}

func TestTickPublishesOnBoundaries(t *testing.T) {
	psu := newPSU("PSU_0", 12.1)
	st := newStore()
	s := newTestScheduler(t, newProvider(psu), st)
	require.NoError(t, s.Start(context.Background()))
	ctx := context.Background()

	// The first tick publishes after polling.
	res, err := s.Tick(ctx, at(12, 14, 0))
	require.NoError(t, err)
	assert.Equal(t, TickResult{Tracked: 1, Sampled: 1, Published: true}, res)

	w := voltageRecord(t, st.next(t), "PSU_0")
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, 12.1, w.Current)

	psu.set(12.5)
	res, err = s.Tick(ctx, at(12, 14, 30))
	require.NoError(t, err)
	assert.False(t, res.Published)
	st.none(t)

	// Crossing 12:15 publishes the closed window before the new sample resets it.
	psu.set(11.9)
	res, err = s.Tick(ctx, at(12, 15, 0))
	require.NoError(t, err)
	assert.True(t, res.Published)

	records := st.next(t)
	w = voltageRecord(t, records, "PSU_0")
	assert.Equal(t, 2, w.Count)
	assert.Equal(t, 12.5, w.Current)
	assert.Equal(t, 12.5, w.Max)
	assert.Equal(t, at(12, 0, 0), w.WindowStart)
	assert.Equal(t, at(12, 15, 0), records[0].PublishedAt)

	res, err = s.Tick(ctx, at(12, 15, 30))
	require.NoError(t, err)
	assert.False(t, res.Published)

	require.NoError(t, s.Stop(ctx))
	w = voltageRecord(t, st.next(t), "PSU_0")
	assert.Equal(t, 2, w.Count)
	assert.Equal(t, 11.9, w.Min)
	assert.Equal(t, at(12, 15, 0), w.WindowStart)
}

func TestTickIsolatesReadFailures(t *testing.T) {
	good, bad := newPSU("PSU_0", 12.1), newPSU("PSU_1", 12.2)
	bad.broken = true

	st := newStore()
	s := newTestScheduler(t, newProvider(good, bad), st)
	require.NoError(t, s.Start(context.Background()))

	res, err := s.Tick(context.Background(), at(12, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tracked)
	assert.Equal(t, 1, res.Sampled)
	assert.Equal(t, 1, res.Failures)

	records := st.next(t)
	assert.Equal(t, 1, voltageRecord(t, records, "PSU_0").Count)
	assert.Equal(t, 0, voltageRecord(t, records, "PSU_1").Count)

	require.NoError(t, s.Stop(context.Background()))
}

func TestTickTracksMembership(t *testing.T) {
	psu0, psu1 := newPSU("PSU_0", 12.1), newPSU("PSU_1", 12.2)
	provider := newProvider(psu0, psu1)
	rec := &countingRecorder{}

	st := newStore()
	s := newTestScheduler(t, provider, st, WithRecorder(rec))
	require.NoError(t, s.Start(context.Background()))
	ctx := context.Background()

	_, err := s.Tick(ctx, at(12, 0, 0))
	require.NoError(t, err)
	st.next(t)
	assert.Equal(t, 2, rec.trackedDevices[device.CategoryPSU])

	// Reported absent: removed.
	psu1.setPresent(false)
	res, err := s.Tick(ctx, at(12, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tracked)
	assert.Equal(t, 1, rec.trackedDevices[device.CategoryPSU])

	// Back again: tracked from scratch.
	psu1.setPresent(true)
	res, err = s.Tick(ctx, at(12, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tracked)

	// Missing from an incomplete inventory: kept.
	provider.set(errors.New().New(device.ErrInventoryUnavailable), psu0)
	res, err = s.Tick(ctx, at(12, 3, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tracked)

	// Missing from a complete inventory: removed.
	provider.set(nil, psu0)
	res, err = s.Tick(ctx, at(12, 4, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tracked)

	require.NoError(t, s.Stop(ctx))
	final := st.next(t)
	require.Len(t, final, 1)
	assert.Equal(t, "PSU_0", final[0].Device)
	assert.Equal(t, 5, final[0].Stats.Window(perfstats.Window15Min).Count)
}

func TestPublishFailureKeepsRunning(t *testing.T) {
	psu := newPSU("PSU_0", 12.1)
	st := newStore()
	st.setErr(errors.New().New(store.ErrWriteFailed))
	rec := &countingRecorder{}

	s := newTestScheduler(t, newProvider(psu), st, WithRecorder(rec))
	require.NoError(t, s.Start(context.Background()))
	ctx := context.Background()

	_, err := s.Tick(ctx, at(12, 10, 0))
	require.NoError(t, err)
	st.next(t)

	st.setErr(nil)
	res, err := s.Tick(ctx, at(12, 15, 0))
	require.NoError(t, err)
	assert.True(t, res.Published)

	// The failed publication lost nothing accumulated.
	w := voltageRecord(t, st.next(t), "PSU_0")
	assert.Equal(t, 1, w.Count)

	require.NoError(t, s.Stop(ctx))
	st.next(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 3, rec.publishes)
	assert.Equal(t, 1, rec.publishErrors)
	assert.Equal(t, 2, rec.ticks)
}

func TestStopReturnsFinalPublishError(t *testing.T) {
	st := newStore()
	s := newTestScheduler(t, newProvider(newPSU("PSU_0", 12.1)), st)
	require.NoError(t, s.Start(context.Background()))

	st.setErr(errors.New().New(store.ErrWriteFailed))
	err := s.Stop(context.Background())
	assert.True(t, errors.HasCode(err, store.ErrWriteFailed))
	assert.Equal(t, StateStopped, s.State())
}

func TestRun(t *testing.T) {
	psu := newPSU("PSU_0", 12.1)
	st := newStore()

	cfg := Config{PollInterval: 10 * time.Millisecond, PublishInterval: 10 * time.Millisecond, PublishTimeout: 5 * time.Millisecond}
	s, err := New(cfg, newProvider(psu), st,
		[]*perfstats.Registry{perfstats.NewRegistry(device.CategoryPSU)},
		WithRecorder(telemetry.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, errors.HasCode(s.Run(ctx), ErrInvalidState))

	require.NoError(t, s.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	first := st.next(t)
	require.Len(t, first, 1)
	assert.GreaterOrEqual(t, first[0].Stats.Window(perfstats.Window24Hr).Count, 1)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, StateStopped, s.State())

	// Drain to the final publication.
	var last []store.Record
	for {
		select {
		case records := <-st.published:
			last = records
			continue
		default:
		}
		break
	}
	require.Len(t, last, 1)
}

type fakeSensor struct {
	name string
	temp float64
}

func (s *fakeSensor) Name() string { return s.name }

func (s *fakeSensor) Temperature(context.Context) (float64, error) { return s.temp, nil }

func TestRefreshRejectsNameAcrossCategories(t *testing.T) {
	provider := newProvider(newPSU("CPU", 12.1))
	provider.devices[device.CategoryThermal] = []device.Device{&fakeSensor{name: "CPU", temp: 45}}
	rec := &countingRecorder{}

	st := newStore()
	registries := []*perfstats.Registry{
		perfstats.NewRegistry(device.CategoryPSU),
		perfstats.NewRegistry(device.CategoryThermal),
	}
	s, err := New(testConfig, provider, st, registries,
		WithClock(func() time.Time { return at(12, 20, 0) }), WithRecorder(rec))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	ctx := context.Background()

	res, err := s.Tick(ctx, at(12, 20, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tracked)
	assert.Equal(t, 0, rec.trackedDevices[device.CategoryThermal])

	records := st.next(t)
	require.Len(t, records, 1)
	assert.Equal(t, device.CategoryPSU, records[0].Category)
	assert.Equal(t, device.AttrVoltage, records[0].Attribute)

	conflict := s.refreshCategory(ctx, registries[1])
	assert.True(t, errors.HasCode(conflict, device.ErrInventoryInvalid))

	// The name is free again once its first owner leaves.
	provider.set(nil)
	res, err = s.Tick(ctx, at(12, 21, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tracked)
	assert.Equal(t, 0, rec.trackedDevices[device.CategoryPSU])
	assert.Equal(t, 1, rec.trackedDevices[device.CategoryThermal])

	require.NoError(t, s.Stop(ctx))
	final := st.next(t)
	require.Len(t, final, 1)
	assert.Equal(t, device.CategoryThermal, final[0].Category)
	assert.Equal(t, device.AttrTemperature, final[0].Attribute)
}
