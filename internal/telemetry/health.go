package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ccsds-telemetry-api/internal/logging"
	"ccsds-telemetry-api/internal/models"
)

// Probe checks one dependency. A nil error means healthy.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// StoreProbe round-trips a trivial query on a fresh connection
func StoreProbe(name string, store Store) Probe {
	return Probe{
		Name: name,
		Check: func(ctx context.Context) error {
			return withConn(ctx, store, func(c Conn) error {
				var one int
				return c.Get(ctx, &one, queryPing)
			})
		},
	}
}

// HealthProbe runs every declared probe concurrently and reduces them to one verdict
type HealthProbe struct {
	probes  []Probe
	timeout time.Duration
	observe func(name string, healthy bool)
}

// HealthOption configures a HealthProbe
type HealthOption func(*HealthProbe)

// WithProbeTimeout bounds each probe; zero leaves only the caller's context
func WithProbeTimeout(d time.Duration) HealthOption {
	return func(h *HealthProbe) { h.timeout = d }
}

// WithProbeObserver is called once per probe result
func WithProbeObserver(fn func(name string, healthy bool)) HealthOption {
	return func(h *HealthProbe) { h.observe = fn }
}

// NewHealthProbe creates a probe set
func NewHealthProbe(probes []Probe, opts ...HealthOption) *HealthProbe {
	h := &HealthProbe{probes: probes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check re-runs all probes and waits for every one to settle. A probe that errors,
// panics or times out is reported false; it never aborts its siblings.
func (h *HealthProbe) Check(ctx context.Context) models.HealthReport {
	results := make([]bool, len(h.probes))

	var wg sync.WaitGroup
	for i, p := range h.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			if err := h.run(ctx, p); err != nil {
				logging.FromContext(ctx).Warn("dependency probe failed", zap.String("dependency", p.Name), zap.Error(err))
				return
			}
			results[i] = true
		}(i, p)
	}
	wg.Wait()

	report := models.HealthReport{Healthy: true, Status: make(map[string]bool, len(h.probes))}
	for i, p := range h.probes {
		ok := results[i]
		if prev, seen := report.Status[p.Name]; seen {
			ok = ok && prev
		}
		report.Status[p.Name] = ok
		if !ok {
			report.Healthy = false
		}
		if h.observe != nil {
			h.observe(p.Name, results[i])
		}
	}
	return report
}

func (h *HealthProbe) run(ctx context.Context, p Probe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe %s panicked: %v", p.Name, r)
		}
	}()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	if p.Check == nil {
		return fmt.Errorf("probe %s has no check", p.Name)
	}
	return p.Check(ctx)
}
