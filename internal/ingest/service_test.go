package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"primeboard/internal/storage"
	"primeboard/pkg/logx"
)

type recordingInvalidator struct {
	calls []map[string]any
	err   error
}

func (r *recordingInvalidator) InvalidateForSubmission(ctx context.Context, secondary map[string]any) error {
	r.calls = append(r.calls, secondary)
	return r.err
}

func testService(t *testing.T) (*Service, storage.Store, *recordingInvalidator) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "ingest.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	inv := &recordingInvalidator{}
	return New(st, inv, logx.Nop()), st, inv
}

func TestSubmitRequiresRegistration(t *testing.T) {
	svc, _, inv := testService(t)

	_, err := svc.Submit(context.Background(), 42, 1000, nil)
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
	if len(inv.calls) != 0 {
		t.Fatalf("refresh triggered for rejected submission")
	}
}

func TestSubmitRecordsAndInvalidates(t *testing.T) {
	svc, st, inv := testService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, 42, "Nova", "enl"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	agent, err := svc.Submit(ctx, 42, 5000, map[string]any{"hacks": 12})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if agent.Codename != "Nova" || agent.Faction != "ENL" {
		t.Fatalf("unexpected agent %+v", agent)
	}
	if len(inv.calls) != 1 {
		t.Fatalf("refresh calls = %d, want 1", len(inv.calls))
	}
	if inv.calls[0]["hacks"] != 12 {
		t.Fatalf("refresh lost secondary metrics: %v", inv.calls[0])
	}

	rows, err := st.AggregateMetric(ctx, storage.AggregateQuery{Metric: "ap", Limit: 10})
	if err != nil {
		t.Fatalf("AggregateMetric: %v", err)
	}
	if len(rows) != 1 || rows[0].Value != 5000 {
		t.Fatalf("submission not durable: %+v", rows)
	}
}

func TestSubmitAcceptsNegativeAP(t *testing.T) {
	svc, st, _ := testService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, 1, "Neg", "RES"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Submit(ctx, 1, -500, nil); err != nil {
		t.Fatalf("Submit with negative ap: %v", err)
	}
	rows, err := st.AggregateMetric(ctx, storage.AggregateQuery{Metric: "ap", Limit: 10})
	if err != nil {
		t.Fatalf("AggregateMetric: %v", err)
	}
	if len(rows) != 1 || rows[0].Value != -500 {
		t.Fatalf("negative submission not aggregated: %+v", rows)
	}
}

func TestSubmitSurvivesRefreshFailure(t *testing.T) {
	svc, st, inv := testService(t)
	inv.err = errors.New("queue down")
	ctx := context.Background()

	if _, err := svc.Register(ctx, 7, "Steady", "RES"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Submit(ctx, 7, 100, nil); err != nil {
		t.Fatalf("Submit must not fail on refresh error: %v", err)
	}
	rows, err := st.AggregateMetric(ctx, storage.AggregateQuery{Metric: "ap", Limit: 10})
	if err != nil || len(rows) != 1 {
		t.Fatalf("submission lost: rows=%v err=%v", rows, err)
	}
}

func TestReRegisterKeepsHistory(t *testing.T) {
	svc, st, _ := testService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, 9, "OldName", "ENL"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Submit(ctx, 9, 300, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.Register(ctx, 9, "NewName", "RES"); err != nil {
		t.Fatalf("re-Register: %v", err)
	}

	rows, err := st.AggregateMetric(ctx, storage.AggregateQuery{Metric: "ap", Limit: 10})
	if err != nil {
		t.Fatalf("AggregateMetric: %v", err)
	}
	if len(rows) != 1 || rows[0].Codename != "NewName" || rows[0].Value != 300 {
		t.Fatalf("history detached on re-register: %+v", rows)
	}
}
