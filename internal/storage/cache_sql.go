package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PutCacheEntry writes a new snapshot generation for the key. Generation
// assignment and the row write share one transaction, so generations are
// strictly monotonic per key even under concurrent recomputes, and a failed
// write never disturbs the previous generation.
func (s *sqliteStore) PutCacheEntry(ctx context.Context, key CacheKey, computedAt time.Time, rows []AggregateRow) (CacheEntry, error) {
	if rows == nil {
		rows = []AggregateRow{}
	}
	rb, err := json.Marshal(rows)
	if err != nil {
		return CacheEntry{}, err
	}
	if computedAt.IsZero() {
		computedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CacheEntry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var gen int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(generation), 0) + 1 FROM leaderboard_cache
		  WHERE metric = ? AND span = ? AND faction = ?`,
		key.Metric, key.Span, key.Faction).Scan(&gen)
	if err != nil {
		return CacheEntry{}, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO leaderboard_cache(metric, span, faction, generation, computed_at, rows)
		 VALUES(?,?,?,?,?,?)`,
		key.Metric, key.Span, key.Faction, gen, msec(computedAt), string(rb))
	if err != nil {
		return CacheEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return CacheEntry{}, err
	}

	return CacheEntry{Key: key, Generation: gen, ComputedAt: computedAt, Rows: rows}, nil
}

func (s *sqliteStore) LatestCacheEntry(ctx context.Context, key CacheKey) (CacheEntry, bool, error) {
	var (
		gen      int64
		computed int64
		raw      string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT generation, computed_at, rows FROM leaderboard_cache
		  WHERE metric = ? AND span = ? AND faction = ?
		  ORDER BY generation DESC LIMIT 1`,
		key.Metric, key.Span, key.Faction).Scan(&gen, &computed, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}

	var rows []AggregateRow
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return CacheEntry{}, false, err
	}
	return CacheEntry{Key: key, Generation: gen, ComputedAt: fromMsec(computed), Rows: rows}, true, nil
}

// PruneCacheGenerations deletes superseded generations beyond the retention
// count, per key. keep <= 0 keeps only the latest.
func (s *sqliteStore) PruneCacheGenerations(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM leaderboard_cache
		  WHERE generation <= (
			SELECT MAX(c2.generation) - ? FROM leaderboard_cache c2
			 WHERE c2.metric = leaderboard_cache.metric
			   AND c2.span = leaderboard_cache.span
			   AND c2.faction = leaderboard_cache.faction)`,
		keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
