package models

import "time"

// CurrentResponse is returned by the current telemetry operation.
// Data is nil (JSON null) when the store holds no records.
type CurrentResponse struct {
	RequestID string           `json:"reqId"`
	Data      *TelemetryRecord `json:"data"`
}

// ListResponse is returned by the list operation. TotalRecords counts every row in
// the window and may exceed len(Data).
type ListResponse struct {
	RequestID    string            `json:"reqId"`
	TotalRecords int64             `json:"totalRecords"`
	Data         []TelemetryRecord `json:"data"`
	StartTime    time.Time         `json:"startTime"`
	EndTime      time.Time         `json:"endTime"`
}

// AnomaliesResponse is returned by the anomaly operation
type AnomaliesResponse struct {
	RequestID    string            `json:"reqId"`
	TotalRecords int64             `json:"totalRecords"`
	Data         []AnomalousRecord `json:"data"`
	StartTime    time.Time         `json:"startTime"`
	EndTime      time.Time         `json:"endTime"`
}

// AggregateResponse is returned by the aggregate operation
type AggregateResponse struct {
	RequestID string            `json:"reqId"`
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime"`
	Data      ChannelAggregates `json:"data"`
}

// SubsystemAggregateResponse carries every subsystem group of the window
type SubsystemAggregateResponse struct {
	RequestID string               `json:"reqId"`
	StartTime time.Time            `json:"startTime"`
	EndTime   time.Time            `json:"endTime"`
	Data      []SubsystemAggregate `json:"data"`
}

// HealthResponse is returned by the health operation
type HealthResponse struct {
	RequestID  string          `json:"reqId"`
	StatusCode int             `json:"statusCode"`
	Status     map[string]bool `json:"status"`
}

// ErrorResponse is the envelope for failed requests
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	RequestID  string `json:"reqId,omitempty"`
}
