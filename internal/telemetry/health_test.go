package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthAllProbesPass(t *testing.T) {
	store := newFakeStore().on(queryPing, func(_ context.Context, dest any, _ []any) error {
		*dest.(*int) = 1
		return nil
	})

	report := NewHealthProbe([]Probe{StoreProbe("postgres", store)}).Check(context.Background())

	assert.True(t, report.Healthy)
	assert.Equal(t, map[string]bool{"postgres": true}, report.Status)
	assert.Equal(t, int64(0), store.outstanding())
}

func TestHealthProbeFailureIsIsolated(t *testing.T) {
	var (
		mu       sync.Mutex
		observed = map[string]bool{}
	)
	probes := []Probe{
		{Name: "postgres", Check: func(context.Context) error { return errors.New("refused") }},
		{Name: "cache", Check: func(context.Context) error { return nil }},
		{Name: "broker", Check: func(context.Context) error { panic("nil pointer") }},
	}
	h := NewHealthProbe(probes, WithProbeObserver(func(name string, healthy bool) {
		mu.Lock()
		defer mu.Unlock()
		observed[name] = healthy
	}))

	report := h.Check(context.Background())

	assert.False(t, report.Healthy)
	assert.Equal(t, map[string]bool{"postgres": false, "cache": true, "broker": false}, report.Status)
	assert.Equal(t, report.Status, observed)
}

func TestHealthProbeTimeoutReportsFalse(t *testing.T) {
	slow := Probe{Name: "postgres", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	start := time.Now()
	report := NewHealthProbe([]Probe{slow}, WithProbeTimeout(20*time.Millisecond)).Check(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, map[string]bool{"postgres": false}, report.Status)
}

func TestHealthProbesRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	block := func(context.Context) error {
		started.Done()
		<-release
		return nil
	}
	go func() {
		started.Wait()
		close(release)
	}()

	done := make(chan struct{})
	go func() {
		NewHealthProbe([]Probe{{Name: "a", Check: block}, {Name: "b", Check: block}}).Check(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("probes were serialized")
	}
}

func TestHealthStoreAcquireFailure(t *testing.T) {
	store := newFakeStore()
	store.acquireErr = errors.New("too many clients")

	report := NewHealthProbe([]Probe{StoreProbe("postgres", store)}).Check(context.Background())

	assert.False(t, report.Healthy)
	assert.Equal(t, map[string]bool{"postgres": false}, report.Status)
}
