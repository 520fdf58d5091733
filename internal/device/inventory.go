package device

import (
	"context"
	"sort"

	"codeberg.org/mutker/peripheralpm/internal/errors"
)

// Inventory merges the devices of several providers. When two providers
// report the same name within a category the first one wins.
type Inventory struct {
	providers []Provider
}

// NewInventory combines providers in priority order.
func NewInventory(providers ...Provider) *Inventory {
	return &Inventory{providers: providers}
}

// Discover returns the merged devices of category sorted by name. Entries of
// healthy providers are returned together with the error of failing ones.
func (inv *Inventory) Discover(ctx context.Context, category Category) ([]Entry, error) {
	var (
		entries []Entry
		errs    []error
		seen    = make(map[string]struct{})
	)

	for _, p := range inv.providers {
		found, err := p.Discover(ctx, category)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, e := range found {
			if _, dup := seen[e.Name]; dup {
				continue
			}
			seen[e.Name] = struct{}{}
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	if len(errs) > 0 {
		return entries, errors.New().Wrap(ErrInventoryUnavailable, errors.Join(errs...))
	}

	return entries, nil
}

// Close releases every provider holding resources.
func (inv *Inventory) Close() error {
	var errs []error
	for _, p := range inv.providers {
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}
