// Package aggregator persists periodic analytics snapshots to PostgreSQL so
// that query trends survive restarts of the analytics service.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/postgres"
)

// DefaultTable is the snapshot table used when none is configured.
const DefaultTable = "search_analytics_snapshots"

// Store saves aggregated stats as JSONB rows. The headline figures are
// copied into columns so trends can be queried without unpacking the JSON.
type Store struct {
	db     *postgres.Client
	table  string
	name   string
	logger *slog.Logger

	lastSaved  *analytics.AggregatedStats
	retention  time.Duration
	lastPruned time.Time
}

func NewStore(db *postgres.Client, table string, retention time.Duration) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{
		db:        db,
		table:     pq.QuoteIdentifier(table),
		name:      table,
		retention: retention,
		logger:    slog.Default().With("component", "analytics-store", "table", table),
	}
}

// EnsureSchema creates the snapshot table and its time index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id              BIGSERIAL PRIMARY KEY,
			captured_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			total_searches  BIGINT NOT NULL,
			zero_results    BIGINT NOT NULL,
			cache_hit_rate  DOUBLE PRECISION NOT NULL,
			last_snapshot   TEXT NOT NULL DEFAULT '',
			data            JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(s.name+"_captured_at_idx") +
			` ON ` + s.table + ` (captured_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring analytics schema: %w", err)
		}
	}
	return nil
}

// SaveSnapshot inserts stats unless nothing has happened since the last
// save. It reports whether a row was written.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) (bool, error) {
	if s.lastSaved != nil && unchanged(*s.lastSaved, stats) {
		return false, nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return false, fmt.Errorf("marshaling stats: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO `+s.table+` (captured_at, total_searches, zero_results, cache_hit_rate, last_snapshot, data)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		time.Now().UTC(), stats.TotalSearches, stats.ZeroResultCount, hitRate(stats), stats.LastSnapshot, data,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
			return false, fmt.Errorf("saving analytics snapshot: table %s does not exist: %w", s.name, err)
		}
		return false, fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.lastSaved = &stats
	s.logger.Info("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"zero_results", stats.ZeroResultCount,
	)
	return true, nil
}

// Prune deletes rows captured before the retention window.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM `+s.table+` WHERE captured_at < $1`,
		time.Now().UTC().Add(-s.retention),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning analytics snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned analytics snapshots", "rows", n, "retention", s.retention)
	}
	return n, nil
}

// LatestSnapshot returns nil, nil when nothing has been saved yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM `+s.table+` ORDER BY captured_at DESC, id DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// ListSnapshots returns the last limit snapshots, newest first. Corrupt rows
// are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	var snapshots []analytics.AggregatedStats
	err := s.db.InReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT data FROM `+s.table+` ORDER BY captured_at DESC, id DESC LIMIT $1`,
			limit,
		)
		if err != nil {
			return fmt.Errorf("listing snapshots: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return fmt.Errorf("scanning snapshot row: %w", err)
			}
			var stats analytics.AggregatedStats
			if err := json.Unmarshal(data, &stats); err != nil {
				s.logger.Warn("skipping corrupt snapshot", "error", err)
				continue
			}
			snapshots = append(snapshots, stats)
		}
		return rows.Err()
	})
	return snapshots, err
}

// Run saves agg every interval and prunes at most hourly until ctx is
// cancelled, then makes one last save. It blocks; callers run it in a
// goroutine.
func (s *Store) Run(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	s.logger.Info("periodic snapshot started", "interval", interval, "retention", s.retention)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick(ctx, agg)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			cancel()
			return
		}
	}
}

func (s *Store) tick(ctx context.Context, agg *analytics.Aggregator) {
	if _, err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
		s.logger.Error("periodic snapshot failed", "error", err)
	}
	if time.Since(s.lastPruned) < time.Hour {
		return
	}
	if _, err := s.Prune(ctx); err != nil {
		s.logger.Error("prune failed", "error", err)
		return
	}
	s.lastPruned = time.Now()
}

func unchanged(prev, next analytics.AggregatedStats) bool {
	return prev.TotalSearches == next.TotalSearches && prev.SnapshotsSeen == next.SnapshotsSeen
}

func hitRate(stats analytics.AggregatedStats) float64 {
	lookups := stats.CacheHits + stats.CacheMisses
	if lookups == 0 {
		return 0
	}
	return float64(stats.CacheHits) / float64(lookups)
}
