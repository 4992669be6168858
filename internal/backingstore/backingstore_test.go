package backingstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hcproxy/hypercube-proxy/pkg/postgres"
)

func newTestPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgres(&postgres.Client{DB: db}), mock
}

func TestFetchReturnsRowset(t *testing.T) {
	store, mock := newTestPostgres(t)
	rows := sqlmock.NewRows([]string{"region", "total"}).
		AddRow("us", int64(100)).
		AddRow("eu", int64(50))
	mock.ExpectQuery("SELECT region").WillReturnRows(rows)

	got, err := store.Fetch(context.Background(), "SELECT region, total FROM facts")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got.Rows) != 2 || got.Columns[0] != "region" {
		t.Errorf("Fetch() = %+v, unexpected", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFetchWrapsQueryError(t *testing.T) {
	store, mock := newTestPostgres(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	if _, err := store.Fetch(context.Background(), "SELECT 1"); err == nil {
		t.Fatal("Fetch() error = nil, want error")
	}
}

func TestFetchScalarReturnsValue(t *testing.T) {
	store, mock := newTestPostgres(t)
	mock.ExpectQuery("SELECT max").WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow("42"))

	got, err := store.FetchScalar(context.Background(), "SELECT max(updated_at) FROM facts")
	if err != nil {
		t.Fatalf("FetchScalar() error = %v", err)
	}
	if got != "42" {
		t.Errorf("FetchScalar() = %q, want %q", got, "42")
	}
}

func TestPingDelegatesToClient(t *testing.T) {
	store, mock := newTestPostgres(t)
	mock.ExpectPing()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestFetchTripsCircuitBreakerAfterRepeatedFailures(t *testing.T) {
	store, mock := newTestPostgres(t)
	for i := 0; i < 10; i++ {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("down"))
	}

	for i := 0; i < 10; i++ {
		store.Fetch(context.Background(), "SELECT 1")
	}

	// once tripped, the breaker short-circuits without reaching the driver.
	if _, err := store.Fetch(context.Background(), "SELECT 1"); err == nil {
		t.Fatal("Fetch() error = nil after breaker should have tripped")
	}
}
