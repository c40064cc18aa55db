package jobs

import "time"

// Well-known job types. Handlers are registered under these names.
const (
	TypeRecomputeLeaderboard = "recompute-leaderboard"
	TypeDeleteMessages       = "delete-messages"
)

// State is the job lifecycle state.
//
// Transitions: Pending -> Running -> {Done | Pending (retry) | DeadLetter}.
// Every attempt passes through Running; Done and DeadLetter are terminal.
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateDone       State = "done"
	StateDeadLetter State = "dead_letter"
)

// Job is one durable unit of deferred work.
//
// Producers create it Pending; only the runner moves it through the state
// machine. Payload is an opaque JSON blob owned by the handler for Type.
type Job struct {
	ID          string
	Type        string
	Payload     []byte
	State       State
	NotBefore   time.Time // not-before semantics; due when NotBefore <= now
	Attempts    int
	MaxAttempts int
	LastError   string

	// DedupKey, when non-empty, lets Enqueue skip inserting while an
	// equivalent job (same type + key) is still Pending or Running.
	DedupKey string

	// LeaseExpiresAt is set on claim. A Running job past its lease is
	// presumed orphaned by a crashed worker and eligible for requeue.
	LeaseExpiresAt time.Time

	CreatedAt time.Time
}

// Due reports whether the job may be claimed at the given instant.
func (j Job) Due(now time.Time) bool {
	return j.State == StatePending && !j.NotBefore.After(now)
}
