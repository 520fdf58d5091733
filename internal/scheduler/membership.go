package scheduler

import (
	"context"
	"fmt"

	"codeberg.org/mutker/peripheralpm/internal/device"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/perfstats"
)

// refresh reconciles every registry with the inventory and returns the number
// of tracked devices.
func (s *Scheduler) refresh(ctx context.Context) (int, error) {
	var (
		tracked int
		errs    []error
	)

	for _, reg := range s.registries {
		if err := s.refreshCategory(ctx, reg); err != nil {
			errs = append(errs, err)
		}

		n := reg.Len()
		s.recorder.SetTrackedDevices(reg.Category(), n)
		tracked += n
	}

	return tracked, errors.Join(errs...)
}

// refreshCategory adds discovered devices that report themselves present and
// removes those reported absent. Devices merely missing from an incomplete
// inventory are kept until a complete refresh no longer lists them.
func (s *Scheduler) refreshCategory(ctx context.Context, reg *perfstats.Registry) error {
	category := reg.Category()
	log := s.logger.With("category", string(category))

	entries, err := s.provider.Discover(ctx, category)

	listed := make(map[string]bool, len(entries))
	absent := make(map[string]bool)
	var conflicts []error

	for _, e := range entries {
		listed[e.Name] = true

		if len(e.Attributes) == 0 {
			log.Debug().Str("device", e.Name).Msg("Device exposes no readable attribute")
			continue
		}

		if owner, ok := s.trackedElsewhere(reg, e.Name); ok {
			conflict := errors.New().WithData(device.ErrInventoryInvalid,
				fmt.Sprintf("device name %q is already tracked as %s", e.Name, owner))
			log.ErrorWithCode(conflict).Str("device", e.Name).Msg("Device name collides across categories")
			conflicts = append(conflicts, conflict)
			continue
		}

		present, perr := s.isPresent(ctx, e.Device)
		if perr != nil {
			log.Warn().Err(perr).Str("device", e.Name).Msg("Presence check failed, assuming present")
			present = true
		}
		if !present {
			absent[e.Name] = true
			continue
		}

		if reg.AddDevice(e.Name, e.Device, e.Attributes) {
			log.Info().
				Str("device", e.Name).
				Interface("attributes", e.Attributes).
				Msg("Device added")
		}
	}

	for _, name := range reg.Names() {
		switch {
		case absent[name]:
		case listed[name]:
			continue
		case err != nil:
			continue
		}

		if reg.RemoveDevice(name) {
			log.Info().Str("device", name).Bool("absent", absent[name]).Msg("Device removed")
		}
	}

	return errors.Join(append([]error{err}, conflicts...)...)
}

// trackedElsewhere returns the category of the registry other than reg that
// tracks name. Names key the published records, so the first category to
// track a name keeps it.
func (s *Scheduler) trackedElsewhere(reg *perfstats.Registry, name string) (device.Category, bool) {
	for _, other := range s.registries {
		if other != reg && other.Tracks(name) {
			return other.Category(), true
		}
	}

	return "", false
}

func (s *Scheduler) isPresent(ctx context.Context, d device.Device) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	return device.IsPresent(ctx, d)
}
