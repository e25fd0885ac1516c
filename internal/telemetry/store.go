package telemetry

import (
	"context"
	"fmt"
)

// Store hands out scoped connections to the telemetry table
type Store interface {
	Acquire(ctx context.Context) (Conn, error)
}

// Conn is one connection checked out of the store pool. Queries use '?' placeholders;
// the implementation rebinds them for its driver. Release must be called exactly once.
type Conn interface {
	// Select scans every result row into dest, a pointer to a slice
	Select(ctx context.Context, dest any, query string, args ...any) error
	// Get scans a single row into dest and returns sql.ErrNoRows when there is none
	Get(ctx context.Context, dest any, query string, args ...any) error
	Release()
}

// withConn runs fn on a freshly acquired connection and releases it on every exit path
func withConn(ctx context.Context, store Store, fn func(Conn) error) error {
	conn, err := store.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return fn(conn)
}
