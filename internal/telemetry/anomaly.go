package telemetry

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ccsds-telemetry-api/internal/models"
)

// Channel names one measured quantity of a packet
type Channel string

const (
	ChannelAltitude    Channel = "altitude"
	ChannelBattery     Channel = "battery"
	ChannelSignal      Channel = "signal"
	ChannelTemperature Channel = "temperature"
)

// Fixed physical limits. A reading crossing any one of them makes the record anomalous.
//   - Altitude: 500-550km normal, <400km anomaly
//   - Battery: 70-100% normal, <40% anomaly
//   - Signal: -60 to -40dB normal, <-80dB anomaly
//   - Temperature: 20-30°C normal, >35°C anomaly
const (
	AltitudeFloor      = 400.0
	BatteryFloor       = 40.0
	SignalFloor        = -80.0
	TemperatureCeiling = 35.0
)

// AnomalyListLimit caps the anomalous records returned per request
const AnomalyListLimit = 50

type channelCheck struct {
	channel  Channel
	breached func(models.TelemetryRecord) bool
}

// channelChecks is evaluated in display priority order; do not reorder.
var channelChecks = []channelCheck{
	{ChannelAltitude, func(r models.TelemetryRecord) bool { return r.Altitude < AltitudeFloor }},
	{ChannelBattery, func(r models.TelemetryRecord) bool { return r.Battery < BatteryFloor }},
	{ChannelSignal, func(r models.TelemetryRecord) bool { return r.Signal < SignalFloor }},
	{ChannelTemperature, func(r models.TelemetryRecord) bool { return r.Temperature > TemperatureCeiling }},
}

// IsAnomalous reports whether any channel of r crosses its threshold
func IsAnomalous(r models.TelemetryRecord) bool {
	_, ok := PrimaryChannel(r)
	return ok
}

// PrimaryChannel returns the first breached channel in priority order
// (altitude, battery, signal, temperature)
func PrimaryChannel(r models.TelemetryRecord) (Channel, bool) {
	for _, c := range channelChecks {
		if c.breached(r) {
			return c.channel, true
		}
	}
	return "", false
}

// BreachedChannels lists every breached channel in priority order
func BreachedChannels(r models.TelemetryRecord) []Channel {
	var out []Channel
	for _, c := range channelChecks {
		if c.breached(r) {
			out = append(out, c.channel)
		}
	}
	return out
}

// DefaultThresholds describes the limits and priority order for clients
func DefaultThresholds() models.Thresholds {
	priority := make([]string, 0, len(channelChecks))
	for _, c := range channelChecks {
		priority = append(priority, string(c.channel))
	}
	return models.Thresholds{
		AltitudeBelow:    AltitudeFloor,
		BatteryBelow:     BatteryFloor,
		SignalBelow:      SignalFloor,
		TemperatureAbove: TemperatureCeiling,
		Priority:         priority,
	}
}

func thresholdArgs() []any {
	return []any{AltitudeFloor, BatteryFloor, SignalFloor, TemperatureCeiling}
}

// AnomalyDetector finds records crossing the fixed thresholds within a window
type AnomalyDetector struct {
	store Store
	limit int
}

// NewAnomalyDetector creates a detector returning at most AnomalyListLimit records
func NewAnomalyDetector(store Store) *AnomalyDetector {
	return &AnomalyDetector{store: store, limit: AnomalyListLimit}
}

// Count returns the number of anomalous records in w
func (d *AnomalyDetector) Count(ctx context.Context, w models.TimeWindow) (int64, error) {
	var total int64
	args := append([]any{w.Start, w.End}, thresholdArgs()...)
	err := withConn(ctx, d.store, func(c Conn) error {
		return c.Get(ctx, &total, queryCountAnomalies, args...)
	})
	if err != nil {
		return 0, fmt.Errorf("count anomalies: %w", err)
	}
	return total, nil
}

// List returns the most recent anomalous records in w, newest first
func (d *AnomalyDetector) List(ctx context.Context, w models.TimeWindow) ([]models.AnomalousRecord, error) {
	records := []models.TelemetryRecord{}
	args := append([]any{w.Start, w.End}, thresholdArgs()...)
	args = append(args, d.limit)
	err := withConn(ctx, d.store, func(c Conn) error {
		return c.Select(ctx, &records, queryListAnomalies, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}

	out := make([]models.AnomalousRecord, 0, len(records))
	for _, r := range records {
		breached := BreachedChannels(r)
		names := make([]string, len(breached))
		for i, c := range breached {
			names[i] = string(c)
		}
		rec := models.AnomalousRecord{TelemetryRecord: r, BreachedChannels: names}
		if len(names) > 0 {
			rec.PrimaryChannel = names[0]
		}
		out = append(out, rec)
	}
	return out, nil
}

// Detect issues Count and List concurrently, each on its own connection, and joins
// them. The total is the true count even when the list is truncated.
func (d *AnomalyDetector) Detect(ctx context.Context, w models.TimeWindow) (int64, []models.AnomalousRecord, error) {
	var (
		total   int64
		records []models.AnomalousRecord
		g       errgroup.Group
	)
	g.Go(func() error {
		var err error
		total, err = d.Count(ctx, w)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = d.List(ctx, w)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}
	return total, records, nil
}
