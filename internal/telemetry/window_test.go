package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveDefaults(t *testing.T) {
	now := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)
	calls := 0
	r := WindowResolver{Lookback: time.Hour, Now: func() time.Time { calls++; return now }}

	w := r.Resolve(nil, nil)

	assert.Equal(t, now.Add(-time.Hour), w.Start)
	assert.Equal(t, now, w.End)
	assert.Equal(t, 1, calls, "both defaults must come from a single clock read")
}

func TestResolveExplicitBounds(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	start := time.Date(2024, 11, 5, 10, 0, 0, 0, loc)
	end := time.Date(2024, 11, 5, 11, 0, 0, 0, loc)
	r := WindowResolver{Now: func() time.Time { return time.Time{} }}

	w := r.Resolve(&start, &end)

	assert.True(t, w.Start.Equal(start))
	assert.True(t, w.End.Equal(end))
	assert.Equal(t, time.UTC, w.Start.Location())
}

func TestResolvePartialBounds(t *testing.T) {
	now := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)
	r := WindowResolver{Now: func() time.Time { return now }}
	start := now.Add(-24 * time.Hour)

	w := r.Resolve(&start, nil)
	assert.Equal(t, start, w.Start)
	assert.Equal(t, now, w.End)

	end := now.Add(-30 * time.Minute)
	w = r.Resolve(nil, &end)
	assert.Equal(t, now.Add(-DefaultLookback), w.Start)
	assert.Equal(t, end, w.End)
}

func TestResolveKeepsReversedWindow(t *testing.T) {
	start := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)
	end := start.Add(-time.Minute)

	w := WindowResolver{}.Resolve(&start, &end)

	assert.Equal(t, start, w.Start)
	assert.Equal(t, end, w.End)
	assert.True(t, w.Reversed())
}
