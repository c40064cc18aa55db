// Package ingest is the write path for agent stats: registration and
// submission intake. It owns the business rules around who may submit
// and triggers the cache refreshes a new submission requires.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"primeboard/internal/storage"
	"primeboard/pkg/logx"
)

// ErrNotRegistered is returned when a submission arrives from a Telegram
// account with no agent profile.
var ErrNotRegistered = errors.New("agent not registered")

// Invalidator is the slice of the leaderboard engine the write path needs.
type Invalidator interface {
	InvalidateForSubmission(ctx context.Context, secondary map[string]any) error
}

type Service struct {
	log    logx.Logger
	store  storage.Store
	boards Invalidator
}

func New(store storage.Store, boards Invalidator, log logx.Logger) *Service {
	return &Service{
		log:    log.With(logx.String("svc", "ingest")),
		store:  store,
		boards: boards,
	}
}

// Register creates or updates the agent profile for a Telegram account.
// Re-registering changes codename/faction in place; history stays attached
// to the same agent.
func (s *Service) Register(ctx context.Context, telegramID int64, codename, faction string) (storage.Agent, error) {
	a, err := s.store.UpsertAgent(ctx, telegramID, codename, faction)
	if err != nil {
		return storage.Agent{}, err
	}
	s.log.Info("agent registered",
		logx.Int64("telegram_id", telegramID),
		logx.String("codename", a.Codename),
		logx.String("faction", a.Faction))
	return a, nil
}

// Agent looks up the profile for a Telegram account.
func (s *Service) Agent(ctx context.Context, telegramID int64) (storage.Agent, bool, error) {
	return s.store.AgentByTelegramID(ctx, telegramID)
}

// Submit records a stat submission for a registered agent and enqueues the
// leaderboard refreshes it touches. The submission is durable even when
// the refresh enqueue fails; the periodic schedule catches up.
func (s *Service) Submit(ctx context.Context, telegramID int64, ap int64, metrics map[string]any) (storage.Agent, error) {
	agent, ok, err := s.store.AgentByTelegramID(ctx, telegramID)
	if err != nil {
		return storage.Agent{}, err
	}
	if !ok {
		return storage.Agent{}, ErrNotRegistered
	}

	id, err := s.store.InsertSubmission(ctx, storage.Submission{
		AgentID:     agent.ID,
		AP:          ap,
		Metrics:     metrics,
		SubmittedAt: time.Now(),
	})
	if err != nil {
		return storage.Agent{}, fmt.Errorf("record submission: %w", err)
	}
	s.log.Info("submission recorded",
		logx.Int64("submission", id),
		logx.String("codename", agent.Codename),
		logx.Int64("ap", ap),
		logx.Int("metrics", len(metrics)))

	if err := s.boards.InvalidateForSubmission(ctx, metrics); err != nil {
		s.log.Warn("refresh enqueue failed", logx.Err(err))
	}
	return agent, nil
}
