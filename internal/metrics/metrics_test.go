package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("GET", "/api/v1/telemetry", 200, 5*time.Millisecond)
	m.ObserveRequest("GET", "/api/v1/telemetry", 200, 7*time.Millisecond)
	m.ObserveRequest("GET", "/api/v1/health", 500, time.Millisecond)

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/telemetry", "200")); got != 2 {
		t.Fatalf("expected 2 ok list requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/health", "500")); got != 1 {
		t.Fatalf("expected 1 failed health request, got %v", got)
	}
}

func TestObserveQuery(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveQuery(time.Millisecond, nil)
	m.ObserveQuery(time.Millisecond, errors.New("boom"))
	m.ObserveQuery(time.Millisecond, nil)

	if got := testutil.ToFloat64(m.StoreQueriesTotal.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok queries, got %v", got)
	}
	if got := testutil.ToFloat64(m.StoreQueriesTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed query, got %v", got)
	}
	if got := testutil.CollectAndCount(m.StoreQueryDuration); got != 1 {
		t.Fatalf("expected one histogram series, got %d", got)
	}
}

func TestSetDependency(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetDependency("postgres", true)
	if got := testutil.ToFloat64(m.DependencyUp.WithLabelValues("postgres")); got != 1 {
		t.Fatalf("expected postgres up, got %v", got)
	}
	m.SetDependency("postgres", false)
	if got := testutil.ToFloat64(m.DependencyUp.WithLabelValues("postgres")); got != 0 {
		t.Fatalf("expected postgres down, got %v", got)
	}
}

func TestRegisterDBStats(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	if err := RegisterDBStats(reg, db, "telemetry"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterDBStats(reg, db, "telemetry"); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
