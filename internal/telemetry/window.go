package telemetry

import (
	"time"

	"ccsds-telemetry-api/internal/models"
)

// DefaultLookback is the window span used when the caller omits start_time
const DefaultLookback = time.Hour

// WindowResolver turns optional caller bounds into a concrete window
type WindowResolver struct {
	Lookback time.Duration
	Now      func() time.Time
}

// Resolve fills missing bounds from a single clock read: start defaults to now-Lookback
// and end to now. Bounds are not reordered; a reversed window is returned as given.
func (r WindowResolver) Resolve(start, end *time.Time) models.TimeWindow {
	now := r.now().UTC()
	lookback := r.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	w := models.TimeWindow{Start: now.Add(-lookback), End: now}
	if start != nil {
		w.Start = start.UTC()
	}
	if end != nil {
		w.End = end.UTC()
	}
	return w
}

func (r WindowResolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
