package perfstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(h, m, s int) time.Time {
	return time.Date(2023, 10, 1, h, m, s, 0, time.UTC)
}

func TestNearest15Min(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{at(12, 34, 56), at(12, 30, 0)},
		{at(12, 7, 56), at(12, 0, 0)},
		{at(12, 22, 56), at(12, 15, 0)},
		{at(12, 46, 56), at(12, 45, 0)},
		{at(12, 45, 0), at(12, 45, 0)},
		{at(0, 0, 0), at(0, 0, 0)},
		{at(23, 59, 59), at(23, 45, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.in.Format(time.TimeOnly), func(t *testing.T) {
			got := Nearest15Min(tt.in)
			assert.Equal(t, tt.want, got)
			assert.False(t, got.After(tt.in))
			assert.Zero(t, got.Minute()%15)
			assert.Zero(t, got.Second())
			assert.Zero(t, got.Nanosecond())
		})
	}
}

func TestNearest15MinDropsSubseconds(t *testing.T) {
	in := time.Date(2023, 10, 1, 12, 30, 0, 999, time.UTC)
	assert.Equal(t, at(12, 30, 0), Nearest15Min(in))
}

func TestNearest15MinKeepsLocation(t *testing.T) {
	loc := time.FixedZone("NPT", 5*3600+45*60)
	in := time.Date(2023, 10, 1, 12, 34, 56, 0, loc)

	got := Nearest15Min(in)
	assert.Equal(t, 12, got.Hour())
	assert.Equal(t, 30, got.Minute())
	assert.Equal(t, loc, got.Location())
}

func TestNearestMidnight(t *testing.T) {
	assert.Equal(t, at(0, 0, 0), NearestMidnight(at(13, 4, 5)))
	assert.Equal(t, at(0, 0, 0), NearestMidnight(at(0, 0, 0)))
}

func TestAlignTo(t *testing.T) {
	assert.Equal(t, at(12, 34, 0), AlignTo(at(12, 34, 56), time.Minute))
	assert.Equal(t, at(12, 0, 0), AlignTo(at(12, 34, 56), time.Hour))
	assert.Equal(t, at(12, 30, 0), AlignTo(at(12, 34, 56), 5*time.Minute))
	assert.Equal(t, at(0, 0, 0), AlignTo(at(12, 34, 56), 0))
	assert.Equal(t, at(0, 0, 0), AlignTo(at(12, 34, 56), 48*time.Hour))
}

func TestRollingStart(t *testing.T) {
	start := at(10, 7, 0)

	assert.Equal(t, at(9, 0, 0), rollingStart(time.Time{}, at(9, 0, 0), day))
	assert.Equal(t, start, rollingStart(start, at(9, 0, 0), day))
	assert.Equal(t, start, rollingStart(start, start.Add(23*time.Hour), day))
	assert.Equal(t, start.Add(day), rollingStart(start, start.Add(25*time.Hour), day))
	assert.Equal(t, start.Add(3*day), rollingStart(start, start.Add(3*day+time.Second), day))
}
