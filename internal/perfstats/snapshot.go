package perfstats

import (
	"sort"
	"strconv"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/device"
)

// TimestampLayout is the layout used for every timestamp field of a
// published record.
const TimestampLayout = "2006-01-02 15:04:05"

// AttributeSnapshot is an immutable copy of one attribute's windows.
type AttributeSnapshot struct {
	windows [numWindows]WindowState
}

// Window returns the state of window size.
func (a AttributeSnapshot) Window(size WindowSize) WindowState {
	return a.windows[size]
}

// Fields flattens both windows into the field set written to the state store.
// Unset values are empty strings.
func (a AttributeSnapshot) Fields() map[string]string {
	fields := make(map[string]string, numWindows*9)

	for _, size := range WindowSizes {
		w := a.windows[size]
		suffix := size.String()

		avg, ok := w.Average()
		fields["current_"+suffix+"_value"] = formatValue(w.Current, ok)
		fields["average_"+suffix+"_value"] = formatValue(avg, ok)
		fields["min_"+suffix+"_value"] = formatValue(w.Min, ok)
		fields["min_"+suffix+"_timestamp"] = formatTime(w.MinTime)
		fields["max_"+suffix+"_value"] = formatValue(w.Max, ok)
		fields["max_"+suffix+"_timestamp"] = formatTime(w.MaxTime)
		fields["startime_"+suffix] = formatTime(w.WindowStart)
		fields["last_reset_"+suffix] = formatTime(w.LastReset)
		fields["count_"+suffix] = strconv.Itoa(w.Count)
	}

	return fields
}

// DeviceSnapshot is an immutable copy of one device's statistics.
type DeviceSnapshot struct {
	Name       string
	Category   device.Category
	Attributes map[device.Attribute]AttributeSnapshot
}

// AttributeNames returns the snapshot's attributes in sorted order.
func (d DeviceSnapshot) AttributeNames() []device.Attribute {
	names := make([]device.Attribute, 0, len(d.Attributes))
	for name := range d.Attributes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	return names
}

// Snapshot maps device name to its statistics.
type Snapshot map[string]DeviceSnapshot

// Merge copies every device of other into s. A device of other replaces a
// device of s with the same name.
func (s Snapshot) Merge(other Snapshot) {
	for name, dev := range other {
		s[name] = dev
	}
}

// DeviceNames returns the snapshot's device names in sorted order.
func (s Snapshot) DeviceNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func formatValue(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimestampLayout)
}
