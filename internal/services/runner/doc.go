// Package runner executes durable jobs from the store with a worker pool.
//
// One dispatcher goroutine polls ClaimDueJobs on an interval and feeds a
// bounded queue; workers execute the handler registered for each job's
// type and report the outcome back into the store. A handler error is a
// normal job failure (retry with backoff, dead-letter when exhausted) and
// never stops the runner. Handlers must be idempotent: lease recovery can
// re-run a job whose worker died before reporting.
package runner
