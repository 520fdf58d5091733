package device

import (
	"context"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/errors"
	"github.com/shirou/gopsutil/v4/sensors"
)

const (
	hostSensorPrefix = "HOST_"
	hostSensorTTL    = time.Second
)

type temperatureSource func(ctx context.Context) ([]sensors.TemperatureStat, error)

// HostSensorProvider exposes the host's thermal sensors as thermal devices.
// One sensor scan is shared by every device read within hostSensorTTL.
type HostSensorProvider struct {
	source temperatureSource
	now    func() time.Time

	mu        sync.Mutex
	last      map[string]float64
	lastFetch time.Time
}

// NewHostSensorProvider creates a provider backed by gopsutil.
func NewHostSensorProvider() *HostSensorProvider {
	return newHostSensorProvider(sensors.TemperaturesWithContext)
}

func newHostSensorProvider(source temperatureSource) *HostSensorProvider {
	return &HostSensorProvider{
		source: source,
		now:    time.Now,
	}
}

// Discover lists one device per host sensor. Only the thermal category is
// served.
func (p *HostSensorProvider) Discover(ctx context.Context, category Category) ([]Entry, error) {
	if category != CategoryThermal {
		return nil, nil
	}

	temps, err := p.scan(ctx, true)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(temps))
	for key := range temps {
		entries = append(entries, NewEntry(&hostSensor{name: hostSensorName(key), key: key, provider: p}))
	}

	return entries, nil
}

// scan returns the latest temperature per sensor key. Partial results from
// platforms that fail on some sensors are kept.
func (p *HostSensorProvider) scan(ctx context.Context, force bool) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !force && p.last != nil && p.now().Sub(p.lastFetch) < hostSensorTTL {
		return p.last, nil
	}

	stats, err := p.source(ctx)
	if err != nil && len(stats) == 0 {
		return nil, errors.New().Wrap(ErrInventoryUnavailable, err)
	}

	temps := make(map[string]float64, len(stats))
	for _, s := range stats {
		if s.SensorKey == "" {
			continue
		}
		temps[s.SensorKey] = s.Temperature
	}

	p.last = temps
	p.lastFetch = p.now()

	return temps, nil
}

func hostSensorName(key string) string {
	return hostSensorPrefix + strings.ToUpper(strings.NewReplacer(" ", "_", "|", "_").Replace(key))
}

type hostSensor struct {
	name     string
	key      string
	provider *HostSensorProvider
}

func (s *hostSensor) Name() string {
	return s.name
}

func (s *hostSensor) Temperature(ctx context.Context) (float64, error) {
	temps, err := s.provider.scan(ctx, false)
	if err != nil {
		return 0, errors.New().Wrap(ErrReadFailed, err)
	}

	t, ok := temps[s.key]
	if !ok {
		return 0, errors.New().WithData(ErrNotPresent, s.name)
	}

	return t, nil
}

func (s *hostSensor) Presence(ctx context.Context) (bool, error) {
	temps, err := s.provider.scan(ctx, false)
	if err != nil {
		return false, err
	}

	_, ok := temps[s.key]

	return ok, nil
}
