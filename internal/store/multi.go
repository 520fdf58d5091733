package store

import (
	"context"
	"strings"
	"sync"

	"codeberg.org/mutker/peripheralpm/internal/errors"
)

// Multi fans a publication out to several stores concurrently. A failing
// store does not keep the others from being written.
type Multi struct {
	stores []StateStore
}

func NewMulti(stores ...StateStore) *Multi {
	return &Multi{stores: stores}
}

func (m *Multi) Name() string {
	names := make([]string, 0, len(m.stores))
	for _, s := range m.stores {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

// Stores returns the wrapped stores.
func (m *Multi) Stores() []StateStore {
	return m.stores
}

func (m *Multi) Publish(ctx context.Context, records []Record) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, s := range m.stores {
		wg.Add(1)
		go func(s StateStore) {
			defer wg.Done()
			if err := s.Publish(ctx, records); err != nil {
				mu.Lock()
				errs = append(errs, &BackendError{Backend: s.Name(), Err: err})
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if len(errs) > 0 {
		return errors.New().Wrap(ErrWriteFailed, errors.Join(errs...))
	}

	return nil
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, &BackendError{Backend: s.Name(), Err: err})
		}
	}

	if len(errs) > 0 {
		return errors.New().Wrap(ErrStoreClose, errors.Join(errs...))
	}

	return nil
}

// BackendError attributes a failure to one store of a Multi.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return e.Backend + ": " + e.Err.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
