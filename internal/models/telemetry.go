package models

import "time"

// TelemetryRecord is a single decoded CCSDS packet as stored by the ingestion service
type TelemetryRecord struct {
	ID          int64     `json:"id" db:"id"`
	APID        int       `json:"apid" db:"apid"`
	SeqFlags    int       `json:"seq_flags" db:"seq_flags"`
	SeqCount    int       `json:"seq_count" db:"seq_count"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	SubsystemID int       `json:"subsystem_id" db:"subsystem_id"`
	Altitude    float64   `json:"altitude" db:"altitude"`       // km
	Battery     float64   `json:"battery" db:"battery"`         // percentage
	Signal      float64   `json:"signal" db:"signal"`           // dB
	Temperature float64   `json:"temperature" db:"temperature"` // Celsius
}

// AnomalousRecord is a telemetry record annotated with the channel the dashboard highlights
type AnomalousRecord struct {
	TelemetryRecord
	PrimaryChannel   string   `json:"primary_channel"`
	BreachedChannels []string `json:"breached_channels"`
}

// TimeWindow bounds a historical query. Both ends are inclusive.
type TimeWindow struct {
	Start time.Time `json:"startTime"`
	End   time.Time `json:"endTime"`
}

// Reversed reports whether the window can never match a record
func (w TimeWindow) Reversed() bool {
	return w.Start.After(w.End)
}

// ChannelAggregate holds the statistics for one measurement channel
type ChannelAggregate struct {
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
	Average float64 `json:"average"`
}

// ChannelAggregates is the per-channel result of an aggregate query.
// All fields are nil when the window matched no rows, which encodes as {}.
type ChannelAggregates struct {
	Altitude    *ChannelAggregate `json:"altitude,omitempty"`
	Battery     *ChannelAggregate `json:"battery,omitempty"`
	Signal      *ChannelAggregate `json:"signal,omitempty"`
	Temperature *ChannelAggregate `json:"temperature,omitempty"`
}

// Empty reports whether no channel carries a value
func (a ChannelAggregates) Empty() bool {
	return a.Altitude == nil && a.Battery == nil && a.Signal == nil && a.Temperature == nil
}

// SubsystemAggregate is one grouped row of the aggregate query
type SubsystemAggregate struct {
	SubsystemID int `json:"subsystem_id"`
	ChannelAggregates
}

// HealthReport is the reduced verdict of all dependency probes
type HealthReport struct {
	Healthy bool            `json:"-"`
	Status  map[string]bool `json:"status"`
}

// Thresholds describes the fixed anomaly limits exposed to the dashboard
type Thresholds struct {
	AltitudeBelow    float64  `json:"altitude_below"`
	BatteryBelow     float64  `json:"battery_below"`
	SignalBelow      float64  `json:"signal_below"`
	TemperatureAbove float64  `json:"temperature_above"`
	Priority         []string `json:"priority"`
}
