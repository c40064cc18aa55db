// Package jobs defines the durable job record shared by the store
// (internal/storage) and the runner (internal/services/runner):
// the state machine, the error taxonomy handlers report outcomes with,
// and the retry backoff schedule.
package jobs
