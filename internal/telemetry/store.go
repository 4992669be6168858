package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hcproxy/hypercube-proxy/pkg/postgres"
)

// Store persists Aggregator snapshots to a Postgres table, so cache
// statistics survive a proxy restart and can be queried historically.
type Store struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewStore wraps an already-connected postgres.Client.
func NewStore(client *postgres.Client) *Store {
	return &Store{client: client, logger: slog.Default().With("component", "telemetry-store")}
}

// SaveSnapshot inserts snapshot into cache_snapshots.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	topSignatures, err := json.Marshal(snapshot.TopSignatures)
	if err != nil {
		return fmt.Errorf("marshaling top signatures: %w", err)
	}

	_, err = s.client.DB.ExecContext(ctx, `
		INSERT INTO cache_snapshots
			(taken_at, hits, misses, bypasses, materializations, invalidations, avg_materialize_ms, top_signatures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snapshot.TakenAt, snapshot.Hits, snapshot.Misses, snapshot.Bypasses,
		snapshot.Materializations, snapshot.Invalidations, snapshot.AvgMaterializeMs, topSignatures)
	if err != nil {
		return fmt.Errorf("saving cache snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recently saved snapshot, or ok=false if
// none has been saved yet.
func (s *Store) LatestSnapshot(ctx context.Context) (snapshot Snapshot, ok bool, err error) {
	var topSignatures []byte
	row := s.client.DB.QueryRowContext(ctx, `
		SELECT taken_at, hits, misses, bypasses, materializations, invalidations, avg_materialize_ms, top_signatures
		FROM cache_snapshots ORDER BY taken_at DESC LIMIT 1`)
	err = row.Scan(&snapshot.TakenAt, &snapshot.Hits, &snapshot.Misses, &snapshot.Bypasses,
		&snapshot.Materializations, &snapshot.Invalidations, &snapshot.AvgMaterializeMs, &topSignatures)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("loading latest cache snapshot: %w", err)
	}
	if err := json.Unmarshal(topSignatures, &snapshot.TopSignatures); err != nil {
		return Snapshot{}, false, fmt.Errorf("decoding top signatures: %w", err)
	}
	return snapshot, true, nil
}

// ListSnapshots returns up to limit snapshots, most recent first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := s.client.DB.QueryContext(ctx, `
		SELECT taken_at, hits, misses, bypasses, materializations, invalidations, avg_materialize_ms, top_signatures
		FROM cache_snapshots ORDER BY taken_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing cache snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snapshot Snapshot
		var topSignatures []byte
		if err := rows.Scan(&snapshot.TakenAt, &snapshot.Hits, &snapshot.Misses, &snapshot.Bypasses,
			&snapshot.Materializations, &snapshot.Invalidations, &snapshot.AvgMaterializeMs, &topSignatures); err != nil {
			return nil, fmt.Errorf("scanning cache snapshot: %w", err)
		}
		if err := json.Unmarshal(topSignatures, &snapshot.TopSignatures); err != nil {
			return nil, fmt.Errorf("decoding top signatures: %w", err)
		}
		out = append(out, snapshot)
	}
	return out, rows.Err()
}

// StartPeriodicSave saves a snapshot from source on every tick of interval,
// until ctx is cancelled, and once more on cancellation.
func (s *Store) StartPeriodicSave(ctx context.Context, source *Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.SaveSnapshot(context.Background(), source.Snapshot(10)); err != nil {
				s.logger.Warn("failed to save final cache snapshot", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.SaveSnapshot(ctx, source.Snapshot(10)); err != nil {
				s.logger.Warn("failed to save cache snapshot", "error", err)
			}
		}
	}
}
