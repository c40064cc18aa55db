package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"primeboard/internal/jobs"
)

const jobColumns = `id, type, payload, state, not_before, attempts, max_attempts, last_error, dedup_key, lease_expires_at, created_at`

// EnqueueJob inserts a Pending job. When j.DedupKey is set and an
// equivalent job (same type + key) is still Pending or Running, the insert
// is suppressed and (false, nil) is returned.
func (s *sqliteStore) EnqueueJob(ctx context.Context, j jobs.Job) (bool, error) {
	if strings.TrimSpace(j.ID) == "" {
		return false, errors.New("job id is required")
	}
	if strings.TrimSpace(j.Type) == "" {
		return false, errors.New("job type is required")
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 1
	}
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.NotBefore.IsZero() {
		j.NotBefore = now
	}
	payload := j.Payload
	if payload == nil {
		payload = []byte("{}")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, type, payload, state, not_before, attempts, max_attempts, last_error, dedup_key, lease_expires_at, created_at, updated_at)
		 SELECT ?,?,?,?,?,0,?,'',?,0,?,?
		 WHERE NOT EXISTS (
			SELECT 1 FROM jobs
			 WHERE ? <> '' AND type = ? AND dedup_key = ? AND state IN (?,?)
		 )`,
		j.ID, j.Type, payload, string(jobs.StatePending), msec(j.NotBefore), j.MaxAttempts,
		j.DedupKey, msec(j.CreatedAt), msec(now),
		j.DedupKey, j.Type, j.DedupKey, string(jobs.StatePending), string(jobs.StateRunning),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) JobByID(ctx context.Context, id string) (jobs.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Job{}, false, nil
	}
	if err != nil {
		return jobs.Job{}, false, err
	}
	return j, true, nil
}

// ClaimDueJobs atomically moves up to limit due jobs to Running and returns
// them. The single UPDATE is the serialization point: two concurrent
// claimers can never receive the same job. Attempts are counted here, so
// every run (including a crash-recovered one) is recorded.
func (s *sqliteStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]jobs.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	if lease <= 0 {
		lease = 2 * time.Minute
	}

	rows, err := s.db.QueryContext(ctx,
		`UPDATE jobs
		    SET state = ?, attempts = attempts + 1, lease_expires_at = ?, updated_at = ?
		  WHERE id IN (
			SELECT id FROM jobs
			 WHERE state = ? AND not_before <= ?
			 ORDER BY not_before ASC, id ASC
			 LIMIT ?)
		  RETURNING `+jobColumns,
		string(jobs.StateRunning), msec(now.Add(lease)), msec(now),
		string(jobs.StatePending), msec(now), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, lease_expires_at = 0, updated_at = ? WHERE id = ? AND state = ?`,
		string(jobs.StateDone), msec(time.Now()), id, string(jobs.StateRunning))
	return err
}

// FailJob records the attempt outcome. dead sends the job to DeadLetter;
// otherwise it returns to Pending with retryAt as the new not-before.
func (s *sqliteStore) FailJob(ctx context.Context, id string, lastError string, retryAt time.Time, dead bool) error {
	state := jobs.StatePending
	if dead {
		state = jobs.StateDeadLetter
	}
	if len(lastError) > 2048 {
		lastError = lastError[:2048]
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, last_error = ?, not_before = ?, lease_expires_at = 0, updated_at = ?
		  WHERE id = ? AND state = ?`,
		string(state), lastError, msec(retryAt), msec(time.Now()), id, string(jobs.StateRunning))
	return err
}

// RequeueStuckJobs returns Running jobs whose lease expired to Pending.
// Crash recovery: a worker that died mid-job never called Complete/Fail.
func (s *sqliteStore) RequeueStuckJobs(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, lease_expires_at = 0, not_before = ?, updated_at = ?
		  WHERE state = ? AND lease_expires_at > 0 AND lease_expires_at <= ?`,
		string(jobs.StatePending), msec(now), msec(now),
		string(jobs.StateRunning), msec(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) PruneDoneJobs(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE state = ? AND updated_at < ?`,
		string(jobs.StateDone), msec(olderThan))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (jobs.Job, error) {
	var j jobs.Job
	var state string
	var notBefore, lease, created int64
	err := r.Scan(&j.ID, &j.Type, &j.Payload, &state, &notBefore, &j.Attempts,
		&j.MaxAttempts, &j.LastError, &j.DedupKey, &lease, &created)
	if err != nil {
		return jobs.Job{}, err
	}
	j.State = jobs.State(state)
	j.NotBefore = fromMsec(notBefore)
	j.LeaseExpiresAt = fromMsec(lease)
	j.CreatedAt = fromMsec(created)
	return j, nil
}
