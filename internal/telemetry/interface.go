package telemetry

import (
	"time"

	"codeberg.org/mutker/peripheralpm/internal/device"
	"codeberg.org/mutker/peripheralpm/internal/perfstats"
)

// Recorder receives the observations of the poll scheduler.
type Recorder interface {
	// ObservePoll records one PollAll cycle of a category registry.
	ObservePoll(category device.Category, report perfstats.PollReport, elapsed time.Duration)
	// ObserveTick records the duration of one complete tick.
	ObserveTick(elapsed time.Duration)
	// ObservePublish records one publication to the state store.
	ObservePublish(records int, elapsed time.Duration, err error)
	// SetTrackedDevices reports the current membership of a category.
	SetTrackedDevices(category device.Category, n int)
}

// Discard is a Recorder that drops every observation.
var Discard Recorder = discard{}

type discard struct{}

func (discard) ObservePoll(device.Category, perfstats.PollReport, time.Duration) {}
func (discard) ObserveTick(time.Duration)                                        {}
func (discard) ObservePublish(int, time.Duration, error)                         {}
func (discard) SetTrackedDevices(device.Category, int)                           {}
