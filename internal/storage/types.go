package storage

import (
	"context"
	"time"

	"primeboard/internal/jobs"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

// Agent is the registration dimension. One row per external identity;
// re-registration updates codename/faction in place.
type Agent struct {
	ID         int64
	TelegramID int64
	Codename   string
	Faction    string
	CreatedAt  time.Time
}

// Submission is an immutable stat fact. Metrics holds open-ended secondary
// metric name -> numeric/string value pairs; AP is the primary figure.
type Submission struct {
	ID          int64
	AgentID     int64
	AP          int64
	Metrics     map[string]any
	SubmittedAt time.Time
}

// AggregateQuery selects and ranks submissions for one leaderboard key.
//
// Metric "ap" sums the primary column; any other name sums the numeric
// value under that key in the metrics JSON. A zero Since means all-time.
type AggregateQuery struct {
	Metric  string
	Since   time.Time
	Faction string // "" = no faction filter
	Limit   int
}

// AggregateRow is one ranked leaderboard row. AgentID identifies the agent
// exactly; codenames are display names and not unique.
type AggregateRow struct {
	AgentID  int64          `json:"agent_id"`
	Codename string         `json:"codename"`
	Faction  string         `json:"faction"`
	Value    int64          `json:"value"`
	Metrics  map[string]any `json:"metrics,omitempty"` // latest snapshot in window
}

// CacheKey identifies a leaderboard snapshot series.
type CacheKey struct {
	Metric  string
	Span    string
	Faction string // "" = unfiltered
}

// CacheEntry is one generation of a ranked snapshot. For a given key only
// the highest generation is authoritative; older ones are audit history.
type CacheEntry struct {
	Key        CacheKey
	Generation int64
	ComputedAt time.Time
	Rows       []AggregateRow
}

// Store is the persistence API used by the services.
type Store interface {
	// Agents
	UpsertAgent(ctx context.Context, telegramID int64, codename, faction string) (Agent, error)
	AgentByTelegramID(ctx context.Context, telegramID int64) (Agent, bool, error)

	// Submissions
	InsertSubmission(ctx context.Context, s Submission) (int64, error)
	AggregateMetric(ctx context.Context, q AggregateQuery) ([]AggregateRow, error)

	// Jobs. EnqueueJob reports false when a dedup key suppressed the insert.
	EnqueueJob(ctx context.Context, j jobs.Job) (bool, error)
	JobByID(ctx context.Context, id string) (jobs.Job, bool, error)
	ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]jobs.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, lastError string, retryAt time.Time, dead bool) error
	RequeueStuckJobs(ctx context.Context, now time.Time) (int, error)
	PruneDoneJobs(ctx context.Context, olderThan time.Time) (int, error)

	// Leaderboard cache
	PutCacheEntry(ctx context.Context, key CacheKey, computedAt time.Time, rows []AggregateRow) (CacheEntry, error)
	LatestCacheEntry(ctx context.Context, key CacheKey) (CacheEntry, bool, error)
	PruneCacheGenerations(ctx context.Context, keep int) (int, error)

	Close() error
}
