// Package leaderboard is the read-through cache engine for ranked
// aggregates. Reads serve the latest snapshot generation; recomputes run
// as jobs (periodic and on-demand after submissions) and write new
// generations, never mutating old ones.
package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"primeboard/internal/jobs"
	"primeboard/internal/ops"
	"primeboard/internal/services/runner"
	"primeboard/internal/storage"
	"primeboard/pkg/logx"
)

type Config struct {
	// Size is the number of ranked rows kept per snapshot.
	Size int
	// Metrics is the secondary metric whitelist; the primary "ap" metric
	// is always tracked and need not be listed.
	Metrics []string
	// KeepGenerations bounds the superseded snapshots retained for audit.
	KeepGenerations int
	// Location anchors the daily/weekly/monthly windows.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = 10
	}
	if c.KeepGenerations <= 0 {
		c.KeepGenerations = 3
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Enqueuer is the slice of the runner the engine needs for Invalidate.
type Enqueuer interface {
	Enqueue(ctx context.Context, req runner.Request) (string, bool, error)
}

type Service struct {
	cfg     Config
	log     logx.Logger
	store   storage.Store
	queue   Enqueuer
	mets    *ops.Metrics
	metrics map[string]bool // allowed metric names incl. primary
}

func New(cfg Config, store storage.Store, queue Enqueuer, mets *ops.Metrics, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	allowed := map[string]bool{PrimaryMetric: true}
	for _, m := range cfg.Metrics {
		if validMetric.MatchString(m) {
			allowed[m] = true
		}
	}
	return &Service{
		cfg:     cfg,
		log:     log.With(logx.String("svc", "leaderboard")),
		store:   store,
		queue:   queue,
		mets:    mets,
		metrics: allowed,
	}
}

// Keys enumerates every cache key the engine maintains: each metric per
// span unfiltered, plus per-faction boards for the primary metric.
func (s *Service) Keys() []Key {
	var keys []Key
	for metric := range s.metrics {
		for _, span := range Spans {
			keys = append(keys, Key{Metric: metric, Span: span})
		}
	}
	for _, f := range []string{"ENL", "RES"} {
		for _, span := range Spans {
			keys = append(keys, Key{Metric: PrimaryMetric, Span: span, Faction: f})
		}
	}
	return keys
}

func (s *Service) validateKey(k Key) error {
	if !s.metrics[k.Metric] {
		return fmt.Errorf("metric %q is not tracked", k.Metric)
	}
	switch k.Span {
	case SpanAll, SpanDaily, SpanWeekly, SpanMonthly:
	default:
		return fmt.Errorf("unknown time span %q", k.Span)
	}
	switch k.Faction {
	case "", "ENL", "RES":
	default:
		return fmt.Errorf("unknown faction %q", k.Faction)
	}
	return nil
}

// Recompute aggregates the key's window from raw submissions and writes a
// new snapshot generation. The window filter runs in the store, so cost is
// bounded by matching submissions, not by table size.
func (s *Service) Recompute(ctx context.Context, k Key) (storage.CacheEntry, error) {
	if err := s.validateKey(k); err != nil {
		return storage.CacheEntry{}, err
	}
	start := time.Now()

	rows, err := s.store.AggregateMetric(ctx, storage.AggregateQuery{
		Metric:  k.Metric,
		Since:   windowStart(k.Span, start, s.cfg.Location),
		Faction: k.Faction,
		Limit:   s.cfg.Size,
	})
	if err != nil {
		return storage.CacheEntry{}, fmt.Errorf("aggregate %s: %w", k, err)
	}

	entry, err := s.store.PutCacheEntry(ctx, k.storageKey(), time.Now(), rows)
	if err != nil {
		return storage.CacheEntry{}, fmt.Errorf("write snapshot %s: %w", k, err)
	}

	took := time.Since(start)
	s.mets.RecomputeObserved(took)
	s.mets.CacheGeneration(k.Metric, string(k.Span), k.Faction, entry.Generation)
	s.log.Debug("recomputed",
		logx.String("key", k.String()),
		logx.Int64("generation", entry.Generation),
		logx.Int("rows", len(rows)),
		logx.Duration("took", took))
	return entry, nil
}

// Read returns the latest snapshot for the key. On a cold start (no
// generation yet) it recomputes synchronously so the first read is never
// empty; if that also fails the result is explicitly Unavailable.
// limit > 0 trims the returned rows without touching the snapshot.
func (s *Service) Read(ctx context.Context, k Key, limit int) (Result, error) {
	if err := s.validateKey(k); err != nil {
		return Result{}, err
	}

	entry, ok, err := s.store.LatestCacheEntry(ctx, k.storageKey())
	if err != nil {
		s.log.Warn("cache read failed", logx.String("key", k.String()), logx.Err(err))
		ok = false
	}
	if !ok {
		entry, err = s.Recompute(ctx, k)
		if err != nil {
			s.log.Warn("cold-start recompute failed", logx.String("key", k.String()), logx.Err(err))
			return Result{Key: k, Unavailable: true}, nil
		}
	}

	rows := entry.Rows
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return Result{Key: k, Rows: rows, Generation: entry.Generation, ComputedAt: entry.ComputedAt}, nil
}

// Invalidate enqueues recompute jobs instead of recomputing inline, so
// the triggering write never waits on aggregation. Empty metric and/or
// span fan out to all matching known keys. Dedup keys coalesce enqueues
// while an equivalent job is still pending or running.
func (s *Service) Invalidate(ctx context.Context, metric string, span Span) error {
	var errs []error
	for _, k := range s.Keys() {
		if metric != "" && k.Metric != metric {
			continue
		}
		if span != "" && k.Span != span {
			continue
		}
		_, _, err := s.queue.Enqueue(ctx, runner.Request{
			Type:     jobs.TypeRecomputeLeaderboard,
			Payload:  recomputePayload{Metric: k.Metric, Span: string(k.Span), Faction: k.Faction},
			DedupKey: k.DedupKey(),
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalidate: %d enqueues failed: %v", len(errs), errs[0])
	}
	return nil
}

// InvalidateForSubmission refreshes the keys a new submission touches:
// every span of the primary board plus each tracked secondary metric the
// submission carries.
func (s *Service) InvalidateForSubmission(ctx context.Context, secondary map[string]any) error {
	if err := s.Invalidate(ctx, PrimaryMetric, ""); err != nil {
		return err
	}
	for name := range secondary {
		if name == PrimaryMetric || !s.metrics[name] {
			continue
		}
		if err := s.Invalidate(ctx, name, ""); err != nil {
			return err
		}
	}
	return nil
}

type recomputePayload struct {
	Metric  string `json:"metric"`
	Span    string `json:"span"`
	Faction string `json:"faction,omitempty"`
}

// RegisterHandlers installs the recompute job handler on the runner.
func (s *Service) RegisterHandlers(r *runner.Service) {
	r.Register(jobs.TypeRecomputeLeaderboard, runner.Handler{
		Validate: func(payload []byte) error {
			var p recomputePayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return err
			}
			return s.validateKey(Key{Metric: p.Metric, Span: Span(p.Span), Faction: p.Faction})
		},
		Run: func(ctx context.Context, payload []byte) error {
			var p recomputePayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return jobs.Permanent(err)
			}
			k := Key{Metric: p.Metric, Span: Span(p.Span), Faction: p.Faction}
			if err := s.validateKey(k); err != nil {
				// A retired metric cannot be fixed by retrying.
				return jobs.Permanent(err)
			}
			_, err := s.Recompute(ctx, k)
			return err
		},
	})
}

// PruneGenerations drops superseded snapshots beyond the retention count.
func (s *Service) PruneGenerations(ctx context.Context) (int, error) {
	return s.store.PruneCacheGenerations(ctx, s.cfg.KeepGenerations)
}
