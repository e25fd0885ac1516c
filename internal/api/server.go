package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"ccsds-telemetry-api/internal/logging"
	"ccsds-telemetry-api/internal/metrics"
	"ccsds-telemetry-api/internal/models"
)

// TelemetryService is the query core the handlers delegate to
type TelemetryService interface {
	Current(ctx context.Context) (*models.CurrentResponse, error)
	List(ctx context.Context, start, end *time.Time) (*models.ListResponse, error)
	Aggregate(ctx context.Context, start, end *time.Time) (*models.AggregateResponse, error)
	AggregateBySubsystem(ctx context.Context, start, end *time.Time) (*models.SubsystemAggregateResponse, error)
	Anomalies(ctx context.Context, start, end *time.Time) (*models.AnomaliesResponse, error)
	Health(ctx context.Context) *models.HealthResponse
	Thresholds() models.Thresholds
}

// Options configures the optional parts of the server
type Options struct {
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer // serves /metrics when set
	AllowedOrigins []string
}

// Server represents the API server
type Server struct {
	svc     TelemetryService
	router  *mux.Router
	log     *zap.Logger
	metrics *metrics.Metrics
	opts    Options
}

// NewServer creates a new API server
func NewServer(svc TelemetryService, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		svc:     svc,
		router:  mux.NewRouter(),
		log:     log,
		metrics: opts.Metrics,
		opts:    opts,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	if s.opts.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	// Telemetry endpoints
	v1.HandleFunc("/telemetry", s.handleList).Methods(http.MethodGet)
	v1.HandleFunc("/telemetry/current", s.handleCurrent).Methods(http.MethodGet)
	v1.HandleFunc("/telemetry/aggregate", s.handleAggregate).Methods(http.MethodGet)
	v1.HandleFunc("/telemetry/aggregate/subsystems", s.handleAggregateBySubsystem).Methods(http.MethodGet)
	v1.HandleFunc("/telemetry/anomalies", s.handleAnomalies).Methods(http.MethodGet)
	v1.HandleFunc("/telemetry/thresholds", s.handleThresholds).Methods(http.MethodGet)

	v1.Use(s.requestIDMiddleware)
	v1.Use(s.loggingMiddleware)
	v1.Use(s.recoveryMiddleware)
	v1.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped with CORS and HTTP tracing
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	})
	return otelhttp.NewHandler(c.Handler(s.router), "telemetry-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
	)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
		RequestID:  logging.RequestID(r.Context()),
	})
}

// parseTime reads an optional RFC 3339 query parameter
func parseTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	// An unescaped "+" offset arrives as a space
	v = strings.ReplaceAll(v, " ", "+")
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q (use RFC3339)", name, v)
	}
	return &t, nil
}

func parseWindow(r *http.Request) (start, end *time.Time, err error) {
	if start, err = parseTime(r, "start_time"); err != nil {
		return nil, nil, err
	}
	if end, err = parseTime(r, "end_time"); err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

// windowHandler adapts a windowed operation: bad bounds are a 400, core errors a 500
func windowHandler[T any](op func(context.Context, *time.Time, *time.Time) (T, error), failure string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, end, err := parseWindow(r)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		resp, err := op(r.Context(), start, end)
		if err != nil {
			respondError(w, r, http.StatusInternalServerError, failure)
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.svc.Health(r.Context())
	respondJSON(w, resp.StatusCode, resp)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.Current(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "error getting current telemetry")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	windowHandler(s.svc.List, "error getting telemetry data")(w, r)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	windowHandler(s.svc.Aggregate, "error getting aggregate telemetry")(w, r)
}

func (s *Server) handleAggregateBySubsystem(w http.ResponseWriter, r *http.Request) {
	windowHandler(s.svc.AggregateBySubsystem, "error getting subsystem aggregates")(w, r)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	windowHandler(s.svc.Anomalies, "error getting anomalous telemetry")(w, r)
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, struct {
		RequestID string            `json:"reqId"`
		Data      models.Thresholds `json:"data"`
	}{logging.RequestID(r.Context()), s.svc.Thresholds()})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write(openAPIDocument)
}
