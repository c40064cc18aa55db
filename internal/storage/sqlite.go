package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"primeboard/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store, creating the file and schema on
// first use.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Agents ----

func (s *sqliteStore) UpsertAgent(ctx context.Context, telegramID int64, codename, faction string) (Agent, error) {
	faction = strings.ToUpper(strings.TrimSpace(faction))
	codename = strings.TrimSpace(codename)
	if codename == "" || len(codename) > 64 {
		return Agent{}, errors.New("codename must be 1..64 characters")
	}
	if faction != "ENL" && faction != "RES" {
		return Agent{}, fmt.Errorf("unknown faction %q", faction)
	}

	var a Agent
	var created int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO agents(telegram_id, codename, faction, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET codename=excluded.codename, faction=excluded.faction
		 RETURNING id, telegram_id, codename, faction, created_at`,
		telegramID, codename, faction, msec(time.Now()),
	).Scan(&a.ID, &a.TelegramID, &a.Codename, &a.Faction, &created)
	if err != nil {
		return Agent{}, err
	}
	a.CreatedAt = fromMsec(created)
	return a, nil
}

func (s *sqliteStore) AgentByTelegramID(ctx context.Context, telegramID int64) (Agent, bool, error) {
	var a Agent
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, codename, faction, created_at FROM agents WHERE telegram_id = ?`,
		telegramID,
	).Scan(&a.ID, &a.TelegramID, &a.Codename, &a.Faction, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, err
	}
	a.CreatedAt = fromMsec(created)
	return a, true, nil
}

// ---- Submissions ----

func (s *sqliteStore) InsertSubmission(ctx context.Context, sub Submission) (int64, error) {
	if sub.AgentID == 0 {
		return 0, errors.New("submission requires an agent id")
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	metrics := sub.Metrics
	if metrics == nil {
		metrics = map[string]any{}
	}
	mb, err := json.Marshal(metrics)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO submissions(agent_id, ap, metrics, submitted_at) VALUES(?,?,?,?) RETURNING id`,
		sub.AgentID, sub.AP, string(mb), msec(sub.SubmittedAt),
	).Scan(&id)
	return id, err
}

// AggregateMetric ranks agents by the summed metric over the window.
//
// Agents with no submission carrying the metric in the window aggregate to
// NULL and are excluded by the HAVING clause; an agent must contribute at
// least one matching submission to appear. Ordering (value desc, codename
// asc, binary collation) is part of the leaderboard contract.
func (s *sqliteStore) AggregateMetric(ctx context.Context, q AggregateQuery) ([]AggregateRow, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	since := int64(0)
	if !q.Since.IsZero() {
		since = msec(q.Since)
	}

	valExpr := `SUM(s.ap)`
	args := []any{}
	if q.Metric != "" && q.Metric != "ap" {
		valExpr = `SUM(CAST(json_extract(s.metrics, ?) AS INTEGER))`
		args = append(args, "$."+q.Metric)
	}

	query := `SELECT a.id, a.codename, a.faction, ` + valExpr + ` AS total,
		(SELECT s2.metrics FROM submissions s2
		  WHERE s2.agent_id = s.agent_id AND s2.submitted_at >= ?
		  ORDER BY s2.submitted_at DESC, s2.id DESC LIMIT 1) AS latest
	 FROM submissions s
	 JOIN agents a ON a.id = s.agent_id
	 WHERE s.submitted_at >= ? AND (? = '' OR a.faction = ?)
	 GROUP BY s.agent_id
	 HAVING total IS NOT NULL
	 ORDER BY total DESC, a.codename ASC
	 LIMIT ?`
	args = append(args, since, since, q.Faction, q.Faction, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AggregateRow
	for rows.Next() {
		var r AggregateRow
		var latest sql.NullString
		if err := rows.Scan(&r.AgentID, &r.Codename, &r.Faction, &r.Value, &latest); err != nil {
			return nil, err
		}
		if latest.Valid && latest.String != "" && latest.String != "{}" {
			var m map[string]any
			if err := json.Unmarshal([]byte(latest.String), &m); err == nil && len(m) > 0 {
				r.Metrics = m
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- helpers ----

func msec(t time.Time) int64 { return t.UnixMilli() }

func fromMsec(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
