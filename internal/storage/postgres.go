package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/authwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.init(ctx, []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL,
			address TEXT NOT NULL,
			count INTEGER NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			UNIQUE (run_id, address, window_start)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_address ON incidents(address)`,
		`CREATE TABLE IF NOT EXISTS address_counts (
			run_id UUID NOT NULL,
			address TEXT NOT NULL,
			failed INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			PRIMARY KEY (run_id, address)
		)`,
	})
}
