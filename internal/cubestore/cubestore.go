// Package cubestore wraps an embedded DuckDB engine that materializes and
// serves hypercubes: named tables holding the result of one GROUP BY query.
package cubestore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// CubePrefix is the reserved prefix every cube name carries, both in the
// live store and in the on-disk snapshot.
const CubePrefix = "cache_"

// Rowset is a column-oriented result set: ordered column names plus row
// tuples in that column order.
type Rowset struct {
	Columns []string
	Rows    [][]any
}

// ErrCubeExists is returned by Materialize when the target cube name is
// already bound to a table.
var ErrCubeExists = errors.New("cube already exists")

// Config fixes the engine's resource limits for the lifetime of the store.
type Config struct {
	MemoryLimit       string
	Threads           int
	PersistentEnabled bool
	PersistentPath    string
}

// CubeStore owns the embedded DuckDB connection and every cube within it.
type CubeStore struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
}

// Open creates an in-memory DuckDB database configured with cfg's resource
// limits.
func Open(cfg Config) (*CubeStore, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening cube store: %w", err)
	}
	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.MemoryLimit)); err != nil {
			return nil, fmt.Errorf("setting memory_limit: %w", err)
		}
	}
	if cfg.Threads > 0 {
		if _, err := db.Exec(fmt.Sprintf("SET threads=%d", cfg.Threads)); err != nil {
			return nil, fmt.Errorf("setting threads: %w", err)
		}
	}
	return &CubeStore{
		db:     db,
		cfg:    cfg,
		logger: slog.Default().With("component", "cubestore"),
	}, nil
}

// Close releases the underlying DuckDB connection.
func (s *CubeStore) Close() error {
	return s.db.Close()
}

// CubeName derives the deterministic cube name for a grouping signature. Each
// component is hex-encoded before joining so the mapping from signature to
// name is injective regardless of what characters the grouping expressions
// contain — a naive "join with underscore" would let two distinct
// signatures collide whenever a component itself contains an underscore.
func CubeName(signature []string) string {
	parts := make([]string, len(signature))
	for i, component := range signature {
		parts[i] = hex.EncodeToString([]byte(component))
	}
	return CubePrefix + strings.Join(parts, "_")
}

// ParseCubeName attempts to recover the original signature components from a
// name produced by CubeName. It reports false if name doesn't carry the
// reserved prefix or any component fails to hex-decode.
func ParseCubeName(name string) ([]string, bool) {
	if !strings.HasPrefix(name, CubePrefix) {
		return nil, false
	}
	rest := strings.TrimPrefix(name, CubePrefix)
	if rest == "" {
		return []string{}, true
	}
	parts := strings.Split(rest, "_")
	signature := make([]string, len(parts))
	for i, part := range parts {
		decoded, err := hex.DecodeString(part)
		if err != nil {
			return nil, false
		}
		signature[i] = string(decoded)
	}
	return signature, true
}

// Materialize creates a new table named cubeName from rowset. It fails with
// ErrCubeExists if the name is already bound.
func (s *CubeStore) Materialize(ctx context.Context, cubeName string, rowset Rowset) (int64, error) {
	if s.tableExists(ctx, cubeName) {
		return 0, ErrCubeExists
	}

	columnDefs := make([]string, len(rowset.Columns))
	for i, col := range rowset.Columns {
		columnDefs[i] = fmt.Sprintf("%q %s", col, inferColumnType(rowset.Rows, i))
	}
	createStmt := fmt.Sprintf("CREATE TABLE %q (%s)", cubeName, strings.Join(columnDefs, ", "))
	if _, err := s.db.ExecContext(ctx, createStmt); err != nil {
		return 0, fmt.Errorf("creating cube %s: %w", cubeName, err)
	}

	if len(rowset.Rows) > 0 {
		placeholders := make([]string, len(rowset.Columns))
		for i := range placeholders {
			placeholders[i] = "?"
		}
		insertStmt := fmt.Sprintf("INSERT INTO %q VALUES (%s)", cubeName, strings.Join(placeholders, ", "))
		stmt, err := s.db.PrepareContext(ctx, insertStmt)
		if err != nil {
			s.dropSilently(ctx, cubeName)
			return 0, fmt.Errorf("preparing insert for cube %s: %w", cubeName, err)
		}
		defer stmt.Close()

		for _, row := range rowset.Rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				s.dropSilently(ctx, cubeName)
				return 0, fmt.Errorf("inserting row into cube %s: %w", cubeName, err)
			}
		}
	}

	return int64(len(rowset.Rows)), nil
}

func (s *CubeStore) dropSilently(ctx context.Context, cubeName string) {
	if err := s.Drop(cubeName); err != nil {
		s.logger.Warn("failed to drop half-built cube", "cube", cubeName, "error", err)
	}
}

// Read returns the full contents of cubeName.
func (s *CubeStore) Read(ctx context.Context, cubeName string) (Rowset, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %q", cubeName))
	if err != nil {
		return Rowset{}, fmt.Errorf("reading cube %s: %w", cubeName, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Rowset{}, fmt.Errorf("reading columns of cube %s: %w", cubeName, err)
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Rowset{}, fmt.Errorf("scanning row from cube %s: %w", cubeName, err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return Rowset{}, fmt.Errorf("iterating cube %s: %w", cubeName, err)
	}

	return Rowset{Columns: columns, Rows: out}, nil
}

// Drop removes cubeName if present; dropping a non-existent cube is not an
// error.
func (s *CubeStore) Drop(cubeName string) error {
	_, err := s.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %q", cubeName))
	if err != nil {
		return fmt.Errorf("dropping cube %s: %w", cubeName, err)
	}
	return nil
}

// DropAll removes every cube currently in the live store.
func (s *CubeStore) DropAll() error {
	names, err := s.listCubes(context.Background(), "main")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.Drop(name); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotSave copies the named cubes into the on-disk snapshot file,
// replacing any prior cubes of the same name there, without touching the
// live in-memory store. It is a no-op if persistence is disabled.
func (s *CubeStore) SnapshotSave(ctx context.Context, cubeNames []string) error {
	if !s.cfg.PersistentEnabled {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("ATTACH %q AS snapshot", s.cfg.PersistentPath)); err != nil {
		s.logger.Warn("snapshot attach failed, skipping save", "error", err)
		return nil
	}
	defer s.detachSnapshot(ctx)

	for _, name := range cubeNames {
		stmt := fmt.Sprintf("CREATE OR REPLACE TABLE snapshot.%q AS SELECT * FROM main.%q", name, name)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Warn("failed to save cube to snapshot", "cube", name, "error", err)
		}
	}
	return nil
}

// SnapshotLoad attaches the on-disk snapshot (if one exists), copies every
// cube it contains into the live store, and returns the names that
// restored successfully. Names that fail to restore are dropped from the
// live store so invariant 1 (index/cube bijection) holds. It is a no-op if
// persistence is disabled.
func (s *CubeStore) SnapshotLoad(ctx context.Context) ([]string, error) {
	if !s.cfg.PersistentEnabled {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("ATTACH %q AS snapshot (READ_ONLY)", s.cfg.PersistentPath)); err != nil {
		s.logger.Warn("snapshot attach failed, starting with empty cache", "error", err)
		return nil, nil
	}
	defer s.detachSnapshot(ctx)

	names, err := s.listCubes(ctx, "snapshot")
	if err != nil {
		s.logger.Warn("failed to list snapshot cubes", "error", err)
		return nil, nil
	}

	restored := make([]string, 0, len(names))
	for _, name := range names {
		stmt := fmt.Sprintf("CREATE TABLE main.%q AS SELECT * FROM snapshot.%q", name, name)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Warn("failed to restore cube from snapshot", "cube", name, "error", err)
			s.dropSilently(ctx, name)
			continue
		}
		if _, ok := ParseCubeName(name); !ok {
			s.logger.Warn("dropping restored cube with unparseable name", "cube", name)
			s.dropSilently(ctx, name)
			continue
		}
		restored = append(restored, name)
	}
	return restored, nil
}

func (s *CubeStore) detachSnapshot(ctx context.Context) {
	if _, err := s.db.ExecContext(ctx, "DETACH snapshot"); err != nil {
		s.logger.Warn("failed to detach snapshot", "error", err)
	}
}

func (s *CubeStore) tableExists(ctx context.Context, name string) bool {
	row := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_schema = 'main' AND table_name = ?`, name)
	var count int
	if err := row.Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func (s *CubeStore) listCubes(ctx context.Context, schema string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_name LIKE ?`,
		schema, CubePrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("listing cubes in schema %s: %w", schema, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning cube name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// inferColumnType picks a DuckDB column type from the Go type of the first
// non-nil value observed in column index col, defaulting to VARCHAR.
func inferColumnType(rows [][]any, col int) string {
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		switch row[col].(type) {
		case int, int32, int64:
			return "BIGINT"
		case float32, float64:
			return "DOUBLE"
		case bool:
			return "BOOLEAN"
		case time.Time:
			return "TIMESTAMP"
		default:
			return "VARCHAR"
		}
	}
	return "VARCHAR"
}
