// Package storage is primeboard's persistence layer (SQLite).
//
// It owns four tables:
//   - agents:            registration dimension, joined by id on reads
//   - submissions:       immutable stat facts (AP + secondary metrics JSON)
//   - jobs:              the durable job queue (see internal/jobs)
//   - leaderboard_cache: versioned ranked snapshots, newest generation wins
//
// All timestamps are stored as unix milliseconds. Claims and generation
// assignment are transactional; see ClaimDueJobs and PutCacheEntry.
package storage
