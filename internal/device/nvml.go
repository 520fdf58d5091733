package device

import (
	"context"
	"fmt"
	"sync"

	"codeberg.org/mutker/peripheralpm/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlController abstracts NVML operations for testing
type nvmlController interface {
	Initialize() error
	Shutdown() error
	GetDeviceCount() (int, error)
	GetDevice(index int) (gpuHandle, error)
}

// gpuHandle is the subset of nvml.Device read by a GPU module.
type gpuHandle interface {
	GetTemperature(sensor nvml.TemperatureSensors) (uint32, nvml.Return)
	GetNumFans() (int, nvml.Return)
	GetFanSpeed() (uint32, nvml.Return)
}

type nvmlWrapper struct {
	initialized bool
}

func (w *nvmlWrapper) Initialize() error {
	errFactory := errors.New()
	if w.initialized {
		return nil
	}

	ret := nvml.Init()
	if !isNVMLSuccess(ret) {
		return errFactory.Wrap(ErrNVMLInitFailed, newNVMLError(ret))
	}

	w.initialized = true

	return nil
}

func (w *nvmlWrapper) Shutdown() error {
	errFactory := errors.New()
	if !w.initialized {
		return nil
	}

	ret := nvml.Shutdown()
	if !isNVMLSuccess(ret) {
		return errFactory.Wrap(ErrNVMLShutdownFailed, newNVMLError(ret))
	}

	w.initialized = false

	return nil
}

func (w *nvmlWrapper) GetDeviceCount() (int, error) {
	errFactory := errors.New()
	if !w.initialized {
		return 0, errFactory.New(ErrNVMLNotInitialized)
	}

	count, ret := nvml.DeviceGetCount()
	if !isNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrNVMLDeviceCount, newNVMLError(ret))
	}

	return count, nil
}

func (w *nvmlWrapper) GetDevice(index int) (gpuHandle, error) {
	errFactory := errors.New()
	if !w.initialized {
		return nil, errFactory.New(ErrNVMLNotInitialized)
	}

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if !isNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrNVMLDeviceNotFound, newNVMLError(ret))
	}

	return device, nil
}

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

func isNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}

// NVMLProvider exposes NVIDIA GPUs as pluggable modules reporting core
// temperature and, when the board has fans, fan duty cycle.
type NVMLProvider struct {
	mu  sync.Mutex
	lib nvmlController
}

// NewNVMLProvider initializes NVML. Close releases it.
func NewNVMLProvider() (*NVMLProvider, error) {
	return newNVMLProvider(&nvmlWrapper{})
}

func newNVMLProvider(lib nvmlController) (*NVMLProvider, error) {
	if err := lib.Initialize(); err != nil {
		return nil, err
	}

	return &NVMLProvider{lib: lib}, nil
}

// Discover lists one module per GPU. Only the module category is served.
func (p *NVMLProvider) Discover(_ context.Context, category Category) ([]Entry, error) {
	if category != CategoryModule {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	count, err := p.lib.GetDeviceCount()
	if err != nil {
		return nil, errors.New().Wrap(ErrInventoryUnavailable, err)
	}

	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		handle, err := p.lib.GetDevice(i)
		if err != nil {
			return nil, errors.New().Wrap(ErrInventoryUnavailable, err)
		}

		fans, ret := handle.GetNumFans()
		if !isNVMLSuccess(ret) {
			fans = 0
		}

		entries = append(entries, NewEntry(&gpuModule{
			name:   fmt.Sprintf("GPU_%d", i),
			index:  i,
			handle: handle,
			fans:   fans,
			lib:    p,
		}))
	}

	return entries, nil
}

func (p *NVMLProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lib.Shutdown()
}

func (p *NVMLProvider) present(index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	count, err := p.lib.GetDeviceCount()
	return err == nil && index < count
}

type gpuModule struct {
	name   string
	index  int
	handle gpuHandle
	fans   int
	lib    *NVMLProvider
}

func (g *gpuModule) Name() string {
	return g.name
}

func (g *gpuModule) Supports(attr Attribute) bool {
	switch attr {
	case AttrTemperature:
		return true
	case AttrSpeed:
		return g.fans > 0
	default:
		return false
	}
}

func (g *gpuModule) Temperature(context.Context) (float64, error) {
	temp, ret := g.handle.GetTemperature(nvml.TEMPERATURE_GPU)
	if !isNVMLSuccess(ret) {
		return 0, g.readError(ret)
	}

	return float64(temp), nil
}

func (g *gpuModule) Speed(context.Context) (int, error) {
	speed, ret := g.handle.GetFanSpeed()
	if !isNVMLSuccess(ret) {
		return 0, g.readError(ret)
	}

	return int(speed), nil
}

func (g *gpuModule) Presence(context.Context) (bool, error) {
	return g.lib.present(g.index), nil
}

func (g *gpuModule) readError(ret nvml.Return) error {
	errFactory := errors.New()
	if ret == nvml.ERROR_GPU_IS_LOST {
		return errFactory.Wrap(ErrNotPresent, newNVMLError(ret))
	}
	if ret == nvml.ERROR_NOT_SUPPORTED {
		return errFactory.Wrap(ErrUnsupportedAttribute, newNVMLError(ret))
	}

	return errFactory.Wrap(ErrReadFailed, newNVMLError(ret))
}
