package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"authwatch/internal/config"
	"authwatch/internal/model"
)

func openSQLite(t *testing.T) *sqliteStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "authwatch.db") + "?_pragma=busy_timeout(5000)"
	s, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s.(*sqliteStore)
}

func TestSQLiteUpsertsGrowingIncident(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	start := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	inc := model.Incident{Address: "10.0.0.1", Count: 5, WindowStart: start, WindowEnd: start.Add(4 * time.Minute), LastIndex: 4}

	if err := s.SaveIncidents(ctx, "run-1", []model.Incident{inc}); err != nil {
		t.Fatalf("save: %v", err)
	}
	inc.Count = 7
	inc.WindowEnd = start.Add(6 * time.Minute)
	if err := s.SaveIncidents(ctx, "run-1", []model.Incident{inc}); err != nil {
		t.Fatalf("save grown: %v", err)
	}

	var rows, count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(count) FROM incidents`).Scan(&rows, &count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if rows != 1 || count != 7 {
		t.Fatalf("rows=%d count=%d, want 1 row with count 7", rows, count)
	}
}

func TestSQLiteSaveCounts(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	counts := []model.AddressCount{{Address: "a", Failed: 3, Accepted: 1}, {Address: "b", Failed: 5}}
	if err := s.SaveCounts(ctx, "run-1", counts); err != nil {
		t.Fatalf("save counts: %v", err)
	}
	if err := s.SaveCounts(ctx, "run-2", counts[:1]); err != nil {
		t.Fatalf("save counts: %v", err)
	}
	var failed sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(failed) FROM address_counts WHERE run_id = ?`, "run-1").Scan(&failed); err != nil {
		t.Fatalf("query: %v", err)
	}
	if failed.Int64 != 8 {
		t.Fatalf("failed sum = %d", failed.Int64)
	}
}

func TestNewStoreDriverSelection(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Enabled: false})
	if err != nil || s != nil {
		t.Fatalf("disabled storage must return nil, nil")
	}
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"}); !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
}

func TestEmptyBatchesAreNoops(t *testing.T) {
	s := openSQLite(t)
	if err := s.SaveIncidents(context.Background(), "run", nil); err != nil {
		t.Fatalf("empty incidents: %v", err)
	}
	if err := s.SaveCounts(context.Background(), "run", nil); err != nil {
		t.Fatalf("empty counts: %v", err)
	}
}

func TestPostgresPlaceholders(t *testing.T) {
	s, err := NewPostgres("postgres://localhost:5432/authwatch?sslmode=disable")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if got := s.(*postgresStore).placeholders(3); got != "$1, $2, $3" {
		t.Fatalf("placeholders = %q", got)
	}
}
