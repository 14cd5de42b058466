package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:authwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, placeholder: func(int) string { return "?" }}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.init(ctx, []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			address TEXT NOT NULL,
			count INTEGER NOT NULL,
			window_start TEXT NOT NULL,
			window_end TEXT NOT NULL,
			detected_at TEXT NOT NULL,
			UNIQUE (run_id, address, window_start)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_address ON incidents(address)`,
		`CREATE TABLE IF NOT EXISTS address_counts (
			run_id TEXT NOT NULL,
			address TEXT NOT NULL,
			failed INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			PRIMARY KEY (run_id, address)
		)`,
	})
}
