package perfstats

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstSampleStartsAlignedWindow(t *testing.T) {
	s := NewWindowedStat(AlignMidnight)

	reset := s.Update(Window15Min, 12.3, at(12, 7, 30))
	assert.False(t, reset)

	w := s.Window(Window15Min)
	assert.Equal(t, at(12, 0, 0), w.WindowStart)
	assert.Equal(t, at(12, 7, 30), w.LastReset)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, 12.3, w.Current)
	assert.Equal(t, 12.3, w.Min)
	assert.Equal(t, 12.3, w.Max)
	assert.Equal(t, at(12, 7, 30), w.MinTime)
	assert.Equal(t, at(12, 7, 30), w.MaxTime)
}

func TestEmptyWindow(t *testing.T) {
	s := NewWindowedStat(AlignMidnight)
	w := s.Window(Window24Hr)

	assert.False(t, w.HasSamples())
	assert.True(t, w.WindowStart.IsZero())
	assert.Zero(t, w.Sum)

	_, ok := w.Average()
	assert.False(t, ok)
}

func TestAverageWithinWindow(t *testing.T) {
	s := NewWindowedStat(AlignMidnight)
	values := []float64{12.1, 11.9, 12.4, 12.0, 11.7}

	var sum float64
	for i, v := range values {
		s.Add(v, at(12, i, 0))
		sum += v
	}

	for _, size := range WindowSizes {
		w := s.Window(size)
		avg, ok := w.Average()
		require.True(t, ok)
		assert.InDelta(t, sum/float64(len(values)), avg, 1e-9, size.String())
		assert.Equal(t, len(values), w.Count)
		assert.Equal(t, 11.7, w.Current)
		assert.Equal(t, 11.7, w.Min)
		assert.Equal(t, at(12, 4, 0), w.MinTime)
		assert.Equal(t, 12.4, w.Max)
		assert.Equal(t, at(12, 2, 0), w.MaxTime)
	}
}

func TestMinNeverExceedsMax(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewWindowedStat(AlignMidnight)
	ts := at(0, 0, 0)

	for i := 0; i < 2000; i++ {
		ts = ts.Add(time.Duration(rng.Intn(120)) * time.Second)
		s.Add(rng.Float64()*100-50, ts)

		for _, size := range WindowSizes {
			w := s.Window(size)
			require.True(t, w.HasSamples())
			require.LessOrEqual(t, w.Min, w.Max)
			require.GreaterOrEqual(t, w.Current, w.Min)
			require.LessOrEqual(t, w.Current, w.Max)
		}
	}
}

func TestBoundaryCrossingResetsOnce(t *testing.T) {
	s := NewWindowedStat(AlignMidnight)

	assert.False(t, s.Update(Window15Min, 12.3, at(12, 14, 59)))
	assert.True(t, s.Update(Window15Min, 11.8, at(12, 15, 1)))
	assert.False(t, s.Update(Window15Min, 11.9, at(12, 16, 0)))

	w := s.Window(Window15Min)
	assert.Equal(t, at(12, 15, 0), w.WindowStart)
	assert.Equal(t, at(12, 15, 1), w.LastReset)
	assert.Equal(t, 2, w.Count)
	assert.InDelta(t, 23.7, w.Sum, 1e-9)
	assert.Equal(t, 11.8, w.Min)
}

func TestResetLeavesSingleSample(t *testing.T) {
	s := NewWindowedStat(AlignMidnight)
	s.Update(Window15Min, 5, at(12, 0, 0))
	s.Update(Window15Min, 9, at(12, 5, 0))
	s.Update(Window15Min, 1, at(12, 10, 0))

	require.True(t, s.Update(Window15Min, 7, at(12, 31, 0)))

	w := s.Window(Window15Min)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, 7.0, w.Sum)
	assert.Equal(t, 7.0, w.Current)
	assert.Equal(t, 7.0, w.Min)
	assert.Equal(t, 7.0, w.Max)
	assert.Equal(t, at(12, 30, 0), w.WindowStart)
}

func TestLongGapResetsToNewBoundary(t *testing.T) {
	s := NewWindowedStat(AlignMidnight)
	s.Add(100, at(8, 0, 0))

	next := time.Date(2023, 10, 3, 14, 41, 0, 0, time.UTC)
	s.Add(1, next)

	short := s.Window(Window15Min)
	assert.Equal(t, time.Date(2023, 10, 3, 14, 30, 0, 0, time.UTC), short.WindowStart)
	assert.Equal(t, 1, short.Count)

	daily := s.Window(Window24Hr)
	assert.Equal(t, time.Date(2023, 10, 3, 0, 0, 0, 0, time.UTC), daily.WindowStart)
	avg, _ := daily.Average()
	assert.Equal(t, 1.0, avg)
}

func TestWindowsResetIndependently(t *testing.T) {
	s := NewWindowedStat(AlignMidnight)
	s.Add(10, at(12, 0, 0))
	s.Add(20, at(12, 20, 0))

	assert.Equal(t, 1, s.Window(Window15Min).Count)
	assert.Equal(t, 2, s.Window(Window24Hr).Count)
	assert.Equal(t, at(0, 0, 0), s.Window(Window24Hr).WindowStart)
}

func TestDailyWindowResetsAtMidnight(t *testing.T) {
	s := NewWindowedStat(AlignMidnight)
	s.Add(10, at(23, 59, 0))
	s.Add(20, at(23, 59, 0).Add(2*time.Minute))

	daily := s.Window(Window24Hr)
	assert.Equal(t, 1, daily.Count)
	assert.Equal(t, time.Date(2023, 10, 2, 0, 0, 0, 0, time.UTC), daily.WindowStart)
}

func TestRollingDailyWindow(t *testing.T) {
	s := NewWindowedStat(AlignRolling)
	first := at(10, 7, 0)
	s.Add(1, first)

	assert.Equal(t, first, s.Window(Window24Hr).WindowStart)

	s.Add(2, first.Add(23*time.Hour+59*time.Minute))
	assert.Equal(t, 2, s.Window(Window24Hr).Count)

	s.Add(3, first.Add(24*time.Hour+time.Minute))
	daily := s.Window(Window24Hr)
	assert.Equal(t, 1, daily.Count)
	assert.Equal(t, first.Add(24*time.Hour), daily.WindowStart)
}

func TestLateSampleFoldsIntoCurrentWindow(t *testing.T) {
	s := NewWindowedStat(AlignMidnight)
	s.Update(Window15Min, 4, at(12, 20, 0))

	assert.False(t, s.Update(Window15Min, 2, at(12, 10, 0)))

	w := s.Window(Window15Min)
	assert.Equal(t, at(12, 15, 0), w.WindowStart)
	assert.Equal(t, 2, w.Count)
}

func TestParseAlignment(t *testing.T) {
	a, err := ParseAlignment("")
	require.NoError(t, err)
	assert.Equal(t, AlignMidnight, a)

	a, err = ParseAlignment("rolling")
	require.NoError(t, err)
	assert.Equal(t, AlignRolling, a)
	assert.Equal(t, "rolling", a.String())

	_, err = ParseAlignment("weekly")
	assert.Error(t, err)
}
