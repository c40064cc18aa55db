package maintenance

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"primeboard/internal/services/leaderboard"
	"primeboard/internal/storage"
	"primeboard/pkg/logx"
)

type fakeBoards struct {
	invalidations atomic.Int64
	prunes        atomic.Int64
}

func (f *fakeBoards) Invalidate(ctx context.Context, metric string, span leaderboard.Span) error {
	f.invalidations.Add(1)
	return nil
}

func (f *fakeBoards) PruneGenerations(ctx context.Context) (int, error) {
	f.prunes.Add(1)
	return 0, nil
}

func testStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "m.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStartRejectsBadCronSpec(t *testing.T) {
	svc := New(Config{RecomputeSpec: "not a spec"}, testStore(t), &fakeBoards{}, logx.Nop())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected spec validation error")
	}
}

func TestStartStop(t *testing.T) {
	svc := New(Config{}, testStore(t), &fakeBoards{}, logx.Nop())
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second Start is a no-op, not a second schedule.
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	svc.Stop(stopCtx)
	svc.Stop(stopCtx) // idempotent
}

func TestRefreshBoardsInvalidatesEverything(t *testing.T) {
	boards := &fakeBoards{}
	svc := New(Config{}, testStore(t), boards, logx.Nop())

	svc.refreshBoards(context.Background())
	if got := boards.invalidations.Load(); got != 1 {
		t.Fatalf("invalidations = %d, want 1", got)
	}
}

func TestPrunePassRunsBothSteps(t *testing.T) {
	boards := &fakeBoards{}
	svc := New(Config{JobRetention: time.Hour}, testStore(t), boards, logx.Nop())

	svc.prune(context.Background())
	if got := boards.prunes.Load(); got != 1 {
		t.Fatalf("generation prunes = %d, want 1", got)
	}
}
