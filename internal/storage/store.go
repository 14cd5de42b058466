package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"authwatch/internal/config"
	"authwatch/internal/model"
)

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// Store is a write-only sink for detection results. Nothing in authwatch reads
// stored incidents back.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveIncidents(ctx context.Context, runID string, incidents []model.Incident) error
	SaveCounts(ctx context.Context, runID string, counts []model.AddressCount) error
}

// NewStore returns nil, nil when storage is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

type baseStore struct {
	db          *sql.DB
	placeholder func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) init(ctx context.Context, stmts []string) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Incidents are keyed by run, address and window start, so a run that keeps
// growing in watch mode updates its row instead of adding a new one.
func (b *baseStore) SaveIncidents(ctx context.Context, runID string, incidents []model.Incident) error {
	if b.db == nil || len(incidents) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO incidents (run_id, address, count, window_start, window_end, detected_at)
		VALUES (%s)
		ON CONFLICT (run_id, address, window_start)
		DO UPDATE SET count = excluded.count, window_end = excluded.window_end, detected_at = excluded.detected_at`,
		b.placeholders(6))
	now := nowUTC()
	return b.execBatch(ctx, query, len(incidents), func(i int) []any {
		inc := incidents[i]
		return []any{runID, inc.Address, inc.Count, inc.WindowStart.UTC(), inc.WindowEnd.UTC(), now}
	})
}

func (b *baseStore) SaveCounts(ctx context.Context, runID string, counts []model.AddressCount) error {
	if b.db == nil || len(counts) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO address_counts (run_id, address, failed, accepted)
		VALUES (%s)
		ON CONFLICT (run_id, address)
		DO UPDATE SET failed = excluded.failed, accepted = excluded.accepted`,
		b.placeholders(4))
	return b.execBatch(ctx, query, len(counts), func(i int) []any {
		c := counts[i]
		return []any{runID, c.Address, c.Failed, c.Accepted}
	})
}

func (b *baseStore) execBatch(ctx context.Context, query string, n int, args func(i int) []any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = b.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
