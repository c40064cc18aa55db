package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"primeboard/internal/jobs"
	"primeboard/pkg/logx"
)

func (s *Service) dispatch(ctx context.Context, stopCh <-chan struct{}, queue chan<- jobs.Job) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		claimed, err := s.store.ClaimDueJobs(ctx, time.Now(), s.cfg.BatchSize, s.cfg.LeaseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("claim failed", logx.Err(err))
			continue
		}
		for _, j := range claimed {
			s.mets.JobClaimed(j.Type)
			select {
			case queue <- j:
			case <-stopCh:
				// Unfinished claims are recovered by the lease timeout.
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan jobs.Job, idx int) {
	log := s.log.With(logx.Int("worker", idx))
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case j := <-queue:
			s.execute(ctx, log, j)
		}
	}
}

func (s *Service) execute(ctx context.Context, log logx.Logger, j jobs.Job) {
	start := time.Now()
	err := s.runHandler(ctx, j)
	took := time.Since(start)

	// Reporting uses a fresh context: a cancelled run context must not
	// keep us from recording the outcome during shutdown.
	rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case err == nil:
		if cerr := s.store.CompleteJob(rctx, j.ID); cerr != nil {
			log.Warn("complete failed", logx.String("job", j.ID), logx.Err(cerr))
			return
		}
		s.mets.JobCompleted(j.Type)
		log.Debug("job done",
			logx.String("job", j.ID), logx.String("type", j.Type),
			logx.Int("attempt", j.Attempts), logx.Duration("took", took))

	case jobs.IsPermanent(err) || j.Attempts >= j.MaxAttempts:
		if ferr := s.store.FailJob(rctx, j.ID, err.Error(), time.Now(), true); ferr != nil {
			log.Warn("dead-letter failed", logx.String("job", j.ID), logx.Err(ferr))
			return
		}
		s.mets.JobDeadLettered(j.Type)
		log.Warn("job dead-lettered",
			logx.String("job", j.ID), logx.String("type", j.Type),
			logx.Int("attempts", j.Attempts), logx.Err(err))

	default:
		delay := jobs.Backoff(s.cfg.RetryBase, s.cfg.RetryMaxDelay, j.Attempts)
		retryAt := time.Now().Add(delay)
		if ferr := s.store.FailJob(rctx, j.ID, err.Error(), retryAt, false); ferr != nil {
			log.Warn("fail report failed", logx.String("job", j.ID), logx.Err(ferr))
			return
		}
		s.mets.JobFailed(j.Type)
		log.Debug("job failed; retry scheduled",
			logx.String("job", j.ID), logx.String("type", j.Type),
			logx.Int("attempt", j.Attempts), logx.Duration("retry_in", delay), logx.Err(err))
	}
}

// runHandler dispatches to the registered handler. Panics become errors so
// one bad job can never take down the pool.
func (s *Service) runHandler(ctx context.Context, j jobs.Job) (err error) {
	h, ok := s.handler(j.Type)
	if !ok {
		return fmt.Errorf("%w: %q", jobs.ErrUnknownHandler, j.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in job handler",
				logx.String("job", j.ID), logx.String("type", j.Type),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Run(ctx, j.Payload)
}

// recoverLoop periodically returns Running jobs with expired leases to
// Pending so a crashed worker's claims are not lost.
func (s *Service) recoverLoop(ctx context.Context, stopCh <-chan struct{}) {
	interval := s.cfg.LeaseTimeout / 4
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.RequeueStuckJobs(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("requeue stuck failed", logx.Err(err))
				}
				continue
			}
			if n > 0 {
				s.log.Warn("requeued stuck jobs", logx.Int("count", n))
			}
		}
	}
}
