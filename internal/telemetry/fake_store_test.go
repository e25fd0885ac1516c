package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"ccsds-telemetry-api/internal/models"
)

// queryHandler answers one query by filling dest
type queryHandler func(ctx context.Context, dest any, args []any) error

// fakeStore serves canned answers keyed by query text and counts connection use
type fakeStore struct {
	mu         sync.Mutex
	handlers   map[string]queryHandler
	acquireErr error
	acquired   atomic.Int64
	released   atomic.Int64
	calls      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{handlers: map[string]queryHandler{}}
}

func (f *fakeStore) on(query string, h queryHandler) *fakeStore {
	f.handlers[query] = h
	return f
}

func (f *fakeStore) Acquire(ctx context.Context) (Conn, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired.Add(1)
	return &fakeConn{store: f}, nil
}

func (f *fakeStore) outstanding() int64 {
	return f.acquired.Load() - f.released.Load()
}

type fakeConn struct {
	store    *fakeStore
	released bool
}

func (c *fakeConn) run(ctx context.Context, dest any, query string, args []any) error {
	if c.released {
		return errors.New("query on released connection")
	}
	c.store.mu.Lock()
	h, ok := c.store.handlers[query]
	c.store.calls = append(c.store.calls, query)
	c.store.mu.Unlock()
	if !ok {
		return fmt.Errorf("unexpected query: %s", query)
	}
	return h(ctx, dest, args)
}

func (c *fakeConn) Select(ctx context.Context, dest any, query string, args ...any) error {
	return c.run(ctx, dest, query, args)
}

func (c *fakeConn) Get(ctx context.Context, dest any, query string, args ...any) error {
	return c.run(ctx, dest, query, args)
}

func (c *fakeConn) Release() {
	if c.released {
		panic("connection released twice")
	}
	c.released = true
	c.store.released.Add(1)
}

func countIs(n int64) queryHandler {
	return func(_ context.Context, dest any, _ []any) error {
		*dest.(*int64) = n
		return nil
	}
}

func recordsAre(records ...models.TelemetryRecord) queryHandler {
	return func(_ context.Context, dest any, _ []any) error {
		out := dest.(*[]models.TelemetryRecord)
		*out = append(*out, records...)
		return nil
	}
}

func failsWith(err error) queryHandler {
	return func(context.Context, any, []any) error { return err }
}
