package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"primeboard/internal/jobs"
	"primeboard/internal/storage"
	"primeboard/pkg/logx"
)

func testService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "runner.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc := New(Config{
		Workers:       2,
		PollInterval:  20 * time.Millisecond,
		BatchSize:     8,
		LeaseTimeout:  time.Minute,
		RetryBase:     20 * time.Millisecond,
		RetryMaxDelay: 50 * time.Millisecond,
	}, st, nil, logx.Nop())
	return svc, st
}

func waitForState(t *testing.T, st storage.Store, id string, want jobs.State) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, ok, err := st.JobByID(context.Background(), id)
		if err != nil {
			t.Fatalf("JobByID: %v", err)
		}
		if ok && j.State == want {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	j, _, _ := st.JobByID(context.Background(), id)
	t.Fatalf("job %s never reached %s (now %+v)", id, want, j)
	return jobs.Job{}
}

func TestRunnerExecutesAndCompletes(t *testing.T) {
	svc, st := testService(t)
	var runs atomic.Int32
	svc.Register("ping", Handler{Run: func(ctx context.Context, payload []byte) error {
		runs.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	id, inserted, err := svc.Enqueue(ctx, Request{Type: "ping"})
	if err != nil || !inserted {
		t.Fatalf("Enqueue: inserted=%v err=%v", inserted, err)
	}

	waitForState(t, st, id, jobs.StateDone)
	if runs.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", runs.Load())
	}
}

func TestRunnerRetriesThenDeadLetters(t *testing.T) {
	svc, st := testService(t)
	var runs atomic.Int32
	svc.Register("flaky", Handler{Run: func(ctx context.Context, payload []byte) error {
		runs.Add(1)
		return errors.New("store unavailable")
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	id, _, err := svc.Enqueue(ctx, Request{Type: "flaky", MaxAttempts: 3})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	j := waitForState(t, st, id, jobs.StateDeadLetter)
	if j.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", j.Attempts)
	}
	if runs.Load() != 3 {
		t.Fatalf("handler ran %d times, want 3", runs.Load())
	}
	if j.LastError == "" {
		t.Fatal("dead-lettered job lost its final error")
	}
}

func TestRunnerPermanentErrorSkipsRetries(t *testing.T) {
	svc, st := testService(t)
	var runs atomic.Int32
	svc.Register("doomed", Handler{Run: func(ctx context.Context, payload []byte) error {
		runs.Add(1)
		return jobs.Permanent(errors.New("config is wrong"))
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	id, _, err := svc.Enqueue(ctx, Request{Type: "doomed", MaxAttempts: 5})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	j := waitForState(t, st, id, jobs.StateDeadLetter)
	if j.Attempts != 1 || runs.Load() != 1 {
		t.Fatalf("permanent error retried: attempts=%d runs=%d", j.Attempts, runs.Load())
	}
}

func TestRunnerUnknownTypeDeadLettersImmediately(t *testing.T) {
	svc, st := testService(t)
	svc.Register("known", Handler{Run: func(ctx context.Context, payload []byte) error { return nil }})

	// Slip a job with no registered handler past enqueue validation,
	// as a stale deployment would.
	orphan := jobs.Job{ID: uuid.NewString(), Type: "retired-type", Payload: []byte(`{}`), MaxAttempts: 5}
	if _, err := st.EnqueueJob(context.Background(), orphan); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	j := waitForState(t, st, orphan.ID, jobs.StateDeadLetter)
	if j.Attempts != 1 {
		t.Fatalf("missing handler retried: attempts=%d", j.Attempts)
	}
}

func TestRunnerSurvivesHandlerPanic(t *testing.T) {
	svc, st := testService(t)
	var calm atomic.Int32
	svc.Register("panics", Handler{Run: func(ctx context.Context, payload []byte) error {
		panic("boom")
	}})
	svc.Register("calm", Handler{Run: func(ctx context.Context, payload []byte) error {
		calm.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	pid, _, err := svc.Enqueue(ctx, Request{Type: "panics", MaxAttempts: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForState(t, st, pid, jobs.StateDeadLetter)

	// The pool keeps working after the panic.
	cid, _, err := svc.Enqueue(ctx, Request{Type: "calm"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForState(t, st, cid, jobs.StateDone)
	if calm.Load() != 1 {
		t.Fatalf("pool did not recover after panic")
	}
}

func TestEnqueueValidation(t *testing.T) {
	svc, _ := testService(t)
	svc.Register("strict", Handler{
		Run: func(ctx context.Context, payload []byte) error { return nil },
		Validate: func(payload []byte) error {
			if string(payload) == "{}" {
				return errors.New("payload required")
			}
			return nil
		},
	})

	ctx := context.Background()
	if _, _, err := svc.Enqueue(ctx, Request{Type: "nobody-home"}); !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("unknown type: got %v, want validation error", err)
	}
	if _, _, err := svc.Enqueue(ctx, Request{Type: "strict"}); !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("schema failure: got %v, want validation error", err)
	}
	if _, _, err := svc.Enqueue(ctx, Request{Type: "strict", Payload: map[string]any{"k": 1}}); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
}
