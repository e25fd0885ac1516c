// Package telemetry implements the read side of the spacecraft telemetry API: window
// resolution, the count+list history query, per-channel aggregates, threshold based
// anomaly detection and dependency health probing.
//
// Every operation checks connections out of a Store for the duration of a single
// query and releases them on all exit paths. Independent sub-queries run concurrently,
// each on its own connection.
package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ccsds-telemetry-api/internal/logging"
	"ccsds-telemetry-api/internal/models"
)

// ListLimit caps the records returned by List
const ListLimit = 50

var tracer = otel.Tracer("ccsds-telemetry-api/internal/telemetry")

// Service composes the query components into the API operations
type Service struct {
	store        Store
	window       WindowResolver
	aggregates   *AggregationEngine
	anomalies    *AnomalyDetector
	health       *HealthProbe
	queryTimeout time.Duration
}

// Option configures a Service
type Option func(*Service)

// WithQueryTimeout bounds every operation; zero relies on the caller's context alone
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Service) { s.queryTimeout = d }
}

// WithLookback sets the default window span
func WithLookback(d time.Duration) Option {
	return func(s *Service) { s.window.Lookback = d }
}

// WithClock replaces time.Now for window resolution
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.window.Now = now }
}

// NewService wires the components around store. health may be nil, in which case a
// single store probe named "postgres" is used.
func NewService(store Store, health *HealthProbe, opts ...Option) *Service {
	if health == nil {
		health = NewHealthProbe([]Probe{StoreProbe("postgres", store)})
	}
	s := &Service{
		store:      store,
		window:     WindowResolver{Lookback: DefaultLookback},
		aggregates: NewAggregationEngine(store),
		anomalies:  NewAnomalyDetector(store),
		health:     health,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// begin scopes ctx with the query deadline, a span and an operation logger
func (s *Service) begin(ctx context.Context, api string) (context.Context, context.CancelFunc, trace.Span, *zap.Logger) {
	var cancel context.CancelFunc
	if s.queryTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	ctx, span := tracer.Start(ctx, api, trace.WithAttributes(
		attribute.String("request_id", logging.RequestID(ctx)),
	))
	log := logging.FromContext(ctx).With(zap.String("api", api))
	log.Info("starting")
	return ctx, cancel, span, log
}

func fail(span trace.Span, log *zap.Logger, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	log.Error(msg, zap.Error(err))
	return fmt.Errorf("%s: %w", msg, err)
}

// resolve fills the window defaults and records the result on the span and the log
func (s *Service) resolve(span trace.Span, log *zap.Logger, start, end *time.Time) models.TimeWindow {
	w := s.window.Resolve(start, end)
	span.AddEvent("window resolved", trace.WithAttributes(
		attribute.String("window.start", w.Start.Format(time.RFC3339Nano)),
		attribute.String("window.end", w.End.Format(time.RFC3339Nano)),
		attribute.Bool("window.reversed", w.Reversed()),
	))
	log.Debug("search window", zap.Time("start_time", w.Start), zap.Time("end_time", w.End))
	if w.Reversed() {
		log.Info("reversed window matches no records")
	}
	return w
}

// Current returns the single most recent record. Data is nil when the store is empty.
func (s *Service) Current(ctx context.Context) (*models.CurrentResponse, error) {
	ctx, cancel, span, log := s.begin(ctx, "getCurrentTelemetry")
	defer cancel()
	defer span.End()

	resp := &models.CurrentResponse{RequestID: logging.RequestID(ctx)}

	var record models.TelemetryRecord
	err := withConn(ctx, s.store, func(c Conn) error {
		return c.Get(ctx, &record, queryCurrent)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		log.Debug("no telemetry records stored")
	case err != nil:
		return nil, fail(span, log, err, "error getting current telemetry record")
	default:
		resp.Data = &record
		log.Debug("current telemetry record included in result", zap.Int64("id", record.ID))
	}
	return resp, nil
}

// List counts every record in the window and returns up to ListLimit of the most recent
// ones. Count and list are issued concurrently on separate connections, so the total may
// reflect a slightly different snapshot than the rows.
func (s *Service) List(ctx context.Context, start, end *time.Time) (*models.ListResponse, error) {
	ctx, cancel, span, log := s.begin(ctx, "getTelemetry")
	defer cancel()
	defer span.End()

	w := s.resolve(span, log, start, end)

	var (
		total   int64
		records = []models.TelemetryRecord{}
		g       errgroup.Group
	)
	g.Go(func() error {
		return withConn(ctx, s.store, func(c Conn) error {
			return c.Get(ctx, &total, queryCountWindow, w.Start, w.End)
		})
	})
	g.Go(func() error {
		return withConn(ctx, s.store, func(c Conn) error {
			return c.Select(ctx, &records, queryListWindow, w.Start, w.End, ListLimit)
		})
	})
	if err := g.Wait(); err != nil {
		return nil, fail(span, log, err, "error getting telemetry data")
	}

	log.Debug("telemetry rows included in result", zap.Int64("totalRecords", total), zap.Int("rows", len(records)))
	return &models.ListResponse{
		RequestID:    logging.RequestID(ctx),
		TotalRecords: total,
		Data:         records,
		StartTime:    w.Start,
		EndTime:      w.End,
	}, nil
}

// Aggregate returns min/max/average per channel for the window. When several subsystems
// reported in the window only the lowest subsystem id is surfaced; see AggregateBySubsystem.
func (s *Service) Aggregate(ctx context.Context, start, end *time.Time) (*models.AggregateResponse, error) {
	ctx, cancel, span, log := s.begin(ctx, "getAggregateTelemetry")
	defer cancel()
	defer span.End()

	w := s.resolve(span, log, start, end)

	data, groups, err := s.aggregates.Aggregate(ctx, w)
	if err != nil {
		return nil, fail(span, log, err, "error getting aggregate telemetry")
	}
	if groups > 1 {
		log.Warn("multiple subsystems in window, surfacing the first", zap.Int("subsystems", groups))
	}

	log.Debug("aggregate telemetry included in result", zap.Bool("empty", data.Empty()))
	return &models.AggregateResponse{
		RequestID: logging.RequestID(ctx),
		StartTime: w.Start,
		EndTime:   w.End,
		Data:      data,
	}, nil
}

// AggregateBySubsystem returns every subsystem group of the window
func (s *Service) AggregateBySubsystem(ctx context.Context, start, end *time.Time) (*models.SubsystemAggregateResponse, error) {
	ctx, cancel, span, log := s.begin(ctx, "getSubsystemAggregateTelemetry")
	defer cancel()
	defer span.End()

	w := s.resolve(span, log, start, end)

	groups, err := s.aggregates.BySubsystem(ctx, w)
	if err != nil {
		return nil, fail(span, log, err, "error getting subsystem aggregates")
	}

	log.Debug("subsystem aggregates included in result", zap.Int("subsystems", len(groups)))
	return &models.SubsystemAggregateResponse{
		RequestID: logging.RequestID(ctx),
		StartTime: w.Start,
		EndTime:   w.End,
		Data:      groups,
	}, nil
}

// Anomalies returns the true count of anomalous records in the window together with up
// to AnomalyListLimit of the most recent ones.
func (s *Service) Anomalies(ctx context.Context, start, end *time.Time) (*models.AnomaliesResponse, error) {
	ctx, cancel, span, log := s.begin(ctx, "getAnomalousTelemetry")
	defer cancel()
	defer span.End()

	w := s.resolve(span, log, start, end)

	total, records, err := s.anomalies.Detect(ctx, w)
	if err != nil {
		return nil, fail(span, log, err, "error getting anomalous telemetry")
	}

	if total > 0 {
		log.Warn("anomalous telemetry rows included in result", zap.Int64("totalRecords", total))
	} else {
		log.Debug("no anomalous telemetry in window")
	}
	return &models.AnomaliesResponse{
		RequestID:    logging.RequestID(ctx),
		TotalRecords: total,
		Data:         records,
		StartTime:    w.Start,
		EndTime:      w.End,
	}, nil
}

// Health probes every dependency. It never fails: an unhealthy dependency is reported
// with status code 500.
func (s *Service) Health(ctx context.Context) *models.HealthResponse {
	ctx, cancel, span, log := s.begin(ctx, "health")
	defer cancel()
	defer span.End()

	report := s.health.Check(ctx)
	resp := &models.HealthResponse{
		RequestID:  logging.RequestID(ctx),
		StatusCode: http.StatusOK,
		Status:     report.Status,
	}
	if !report.Healthy {
		resp.StatusCode = http.StatusInternalServerError
		span.SetStatus(codes.Error, "unhealthy")
		log.Warn("service unhealthy", zap.Any("status", report.Status))
	} else {
		log.Debug("service healthy", zap.Any("status", report.Status))
	}
	return resp
}

// Thresholds describes the fixed anomaly limits
func (s *Service) Thresholds() models.Thresholds {
	return DefaultThresholds()
}
