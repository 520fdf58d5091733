package store

import (
	"context"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/device"
	"codeberg.org/mutker/peripheralpm/internal/perfstats"
)

// StateStore receives the windowed statistics on every publish boundary.
// Writes are last-write-wins per (device, attribute); no multi-key
// atomicity is expected.
type StateStore interface {
	Name() string
	Publish(ctx context.Context, records []Record) error
	Close() error
}

// Record is the publication of one device attribute.
type Record struct {
	Device      string
	Category    device.Category
	Attribute   device.Attribute
	PublishedAt time.Time
	Stats       perfstats.AttributeSnapshot
}
