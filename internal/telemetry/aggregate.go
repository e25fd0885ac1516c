package telemetry

import (
	"context"
	"fmt"
	"strconv"

	"ccsds-telemetry-api/internal/models"
)

// decimal accepts whatever numeric representation a driver uses for MIN/MAX/AVG
// (float, integer, or decimal text) and coerces it to float64.
type decimal struct {
	Float64 float64
	Valid   bool
}

func (d *decimal) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.Float64, d.Valid = 0, false
		return nil
	case float64:
		d.Float64 = v
	case float32:
		d.Float64 = float64(v)
	case int64:
		d.Float64 = float64(v)
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("unsupported aggregate value type %T", src)
	}
	d.Valid = true
	return nil
}

func (d *decimal) parse(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse aggregate value %q: %w", s, err)
	}
	d.Float64, d.Valid = f, true
	return nil
}

type aggregateRow struct {
	SubsystemID    int     `db:"subsystem_id"`
	AltitudeMin    decimal `db:"altitude_min"`
	AltitudeMax    decimal `db:"altitude_max"`
	AltitudeAvg    decimal `db:"altitude_avg"`
	BatteryMin     decimal `db:"battery_min"`
	BatteryMax     decimal `db:"battery_max"`
	BatteryAvg     decimal `db:"battery_avg"`
	SignalMin      decimal `db:"signal_min"`
	SignalMax      decimal `db:"signal_max"`
	SignalAvg      decimal `db:"signal_avg"`
	TemperatureMin decimal `db:"temperature_min"`
	TemperatureMax decimal `db:"temperature_max"`
	TemperatureAvg decimal `db:"temperature_avg"`
}

func channel(min, max, avg decimal) *models.ChannelAggregate {
	if !min.Valid || !max.Valid || !avg.Valid {
		return nil
	}
	return &models.ChannelAggregate{Minimum: min.Float64, Maximum: max.Float64, Average: avg.Float64}
}

func (r aggregateRow) toModel() models.SubsystemAggregate {
	return models.SubsystemAggregate{
		SubsystemID: r.SubsystemID,
		ChannelAggregates: models.ChannelAggregates{
			Altitude:    channel(r.AltitudeMin, r.AltitudeMax, r.AltitudeAvg),
			Battery:     channel(r.BatteryMin, r.BatteryMax, r.BatteryAvg),
			Signal:      channel(r.SignalMin, r.SignalMax, r.SignalAvg),
			Temperature: channel(r.TemperatureMin, r.TemperatureMax, r.TemperatureAvg),
		},
	}
}

// AggregationEngine computes min/max/average per channel, grouped by subsystem
type AggregationEngine struct {
	store Store
}

// NewAggregationEngine creates an engine reading from store
func NewAggregationEngine(store Store) *AggregationEngine {
	return &AggregationEngine{store: store}
}

// BySubsystem runs the grouped aggregate query over w. Groups are ordered by subsystem id.
func (e *AggregationEngine) BySubsystem(ctx context.Context, w models.TimeWindow) ([]models.SubsystemAggregate, error) {
	rows := []aggregateRow{}
	err := withConn(ctx, e.store, func(c Conn) error {
		return c.Select(ctx, &rows, queryAggregate, w.Start, w.End)
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate telemetry: %w", err)
	}

	out := make([]models.SubsystemAggregate, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// Aggregate returns the first group (lowest subsystem id) and the number of groups
// present in w. An empty window yields empty aggregates.
func (e *AggregationEngine) Aggregate(ctx context.Context, w models.TimeWindow) (models.ChannelAggregates, int, error) {
	groups, err := e.BySubsystem(ctx, w)
	if err != nil {
		return models.ChannelAggregates{}, 0, err
	}
	if len(groups) == 0 {
		return models.ChannelAggregates{}, 0, nil
	}
	return groups[0].ChannelAggregates, len(groups), nil
}
