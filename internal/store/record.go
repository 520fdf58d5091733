package store

import (
	"strings"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/perfstats"
)

const keySeparator = "|"

// RecordsFrom flattens snapshot into one record per device attribute, ordered
// by device and attribute name.
func RecordsFrom(snapshot perfstats.Snapshot, at time.Time) []Record {
	var records []Record

	for _, name := range snapshot.DeviceNames() {
		dev := snapshot[name]
		for _, attr := range dev.AttributeNames() {
			records = append(records, Record{
				Device:      name,
				Category:    dev.Category,
				Attribute:   attr,
				PublishedAt: at,
				Stats:       dev.Attributes[attr],
			})
		}
	}

	return records
}

// Fields returns every published field, the window statistics plus the
// category and publication timestamp. Unset values are empty strings.
func (r Record) Fields() map[string]string {
	fields := r.Stats.Fields()
	fields["category"] = string(r.Category)
	fields["timestamp"] = r.PublishedAt.Format(perfstats.TimestampLayout)

	return fields
}

// Key joins prefix, device and attribute with the state-store separator.
func (r Record) Key(prefix string) string {
	parts := []string{r.Device, string(r.Attribute)}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}

	return strings.Join(parts, keySeparator)
}
