// Package backingstore defines the contract the proxy uses to reach the
// relational source of truth, and a PostgreSQL implementation of it guarded
// by a circuit breaker so a struggling database degrades the proxy instead
// of cascading into it.
package backingstore

import (
	"context"
	"fmt"
	"time"

	hcerrors "github.com/hcproxy/hypercube-proxy/pkg/errors"
	"github.com/hcproxy/hypercube-proxy/pkg/postgres"
	"github.com/hcproxy/hypercube-proxy/pkg/resilience"

	"github.com/hcproxy/hypercube-proxy/internal/cubestore"
)

// queryTimeout bounds a single backing-store query so a stuck connection
// cannot hold a request open indefinitely while the breaker is still closed.
const queryTimeout = 30 * time.Second

// Store is the relational source of truth consulted on a cache miss.
type Store interface {
	// Fetch executes sql and returns its full result set.
	Fetch(ctx context.Context, sql string) (cubestore.Rowset, error)
	// FetchScalar executes sql and returns its single scalar result as text,
	// used by the invalidator's probe query.
	FetchScalar(ctx context.Context, sql string) (string, error)
	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error
}

// Postgres implements Store against a PostgreSQL database, wrapping
// every Fetch and FetchScalar call in a named circuit breaker. Ping goes
// straight to the database.
type Postgres struct {
	client  *postgres.Client
	breaker *resilience.CircuitBreaker
}

// NewPostgres wraps an already-connected postgres.Client as a Store.
func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{
		client:  client,
		breaker: resilience.NewCircuitBreaker("backing-store", resilience.CircuitBreakerConfig{}),
	}
}

// Fetch executes sql and returns its full result set, as column names plus
// row tuples in that column order.
func (p *Postgres) Fetch(ctx context.Context, sql string) (cubestore.Rowset, error) {
	var result cubestore.Rowset
	err := p.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, queryTimeout, "backing-store-fetch", func(ctx context.Context) error {
			rows, err := p.client.DB.QueryContext(ctx, sql)
			if err != nil {
				return fmt.Errorf("querying backing store: %w", err)
			}
			defer rows.Close()

			columns, err := rows.Columns()
			if err != nil {
				return fmt.Errorf("reading result columns: %w", err)
			}

			var out [][]any
			for rows.Next() {
				values := make([]any, len(columns))
				scanTargets := make([]any, len(columns))
				for i := range values {
					scanTargets[i] = &values[i]
				}
				if err := rows.Scan(scanTargets...); err != nil {
					return fmt.Errorf("scanning result row: %w", err)
				}
				out = append(out, values)
			}
			if err := rows.Err(); err != nil {
				return fmt.Errorf("iterating result rows: %w", err)
			}

			result = cubestore.Rowset{Columns: columns, Rows: out}
			return nil
		})
	})
	if err != nil {
		return cubestore.Rowset{}, hcerrors.Newf(hcerrors.ErrBackingStore, 503, "%v", err)
	}
	return result, nil
}

// FetchScalar executes sql, expecting exactly one row and one column, and
// returns it rendered as text.
func (p *Postgres) FetchScalar(ctx context.Context, sql string) (string, error) {
	var value string
	err := p.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, queryTimeout, "backing-store-fetch-scalar", func(ctx context.Context) error {
			row := p.client.DB.QueryRowContext(ctx, sql)
			return row.Scan(&value)
		})
	})
	if err != nil {
		return "", hcerrors.Newf(hcerrors.ErrBackingStore, 503, "%v", err)
	}
	return value, nil
}

// Ping verifies connectivity to PostgreSQL.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.client.DB.PingContext(ctx)
}
