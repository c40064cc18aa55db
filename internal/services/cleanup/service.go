// Package cleanup schedules delayed deletion of chat messages. Group
// submissions and their confirmations stay visible for a grace period,
// then a background job removes both so stat channels do not fill with
// noise.
package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"primeboard/internal/jobs"
	"primeboard/internal/ops"
	"primeboard/internal/services/runner"
	"primeboard/internal/transport"
	"primeboard/pkg/logx"
)

type Config struct {
	// Delay is how long messages stay visible before deletion.
	Delay time.Duration
	// MaxAttempts caps delete retries; exhaustion dead-letters quietly.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.Delay <= 0 {
		c.Delay = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Enqueuer is the slice of the runner used to schedule deletions.
type Enqueuer interface {
	Enqueue(ctx context.Context, req runner.Request) (string, bool, error)
}

// Deleter is the transport slice the deletion handler needs.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	CanDeleteMessages(ctx context.Context, chatID int64) (bool, error)
}

type Service struct {
	cfg   Config
	log   logx.Logger
	queue Enqueuer
	tp    Deleter
	mets  *ops.Metrics
}

func New(cfg Config, queue Enqueuer, tp Deleter, mets *ops.Metrics, log logx.Logger) *Service {
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log.With(logx.String("svc", "cleanup")),
		queue: queue,
		tp:    tp,
		mets:  mets,
	}
}

type deletePayload struct {
	ChatID     int64 `json:"chat_id"`
	MessageIDs []int `json:"message_ids"`
}

// ScheduleDeletion enqueues a delayed delete-messages job for the given
// messages in one chat. Zero message ids is a no-op.
func (s *Service) ScheduleDeletion(ctx context.Context, chatID int64, messageIDs ...int) error {
	ids := make([]int, 0, len(messageIDs))
	for _, id := range messageIDs {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	_, _, err := s.queue.Enqueue(ctx, runner.Request{
		Type:        jobs.TypeDeleteMessages,
		Payload:     deletePayload{ChatID: chatID, MessageIDs: ids},
		NotBefore:   time.Now().Add(s.cfg.Delay),
		MaxAttempts: s.cfg.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("schedule deletion: %w", err)
	}
	s.log.Debug("deletion scheduled",
		logx.Int64("chat", chatID),
		logx.Int("messages", len(ids)),
		logx.Duration("delay", s.cfg.Delay))
	return nil
}

// RegisterHandlers installs the delete-messages job handler on the runner.
func (s *Service) RegisterHandlers(r *runner.Service) {
	r.Register(jobs.TypeDeleteMessages, runner.Handler{
		Validate: func(payload []byte) error {
			var p deletePayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return err
			}
			if p.ChatID == 0 || len(p.MessageIDs) == 0 {
				return errors.New("chat_id and message_ids are required")
			}
			return nil
		},
		Run: s.runDelete,
	})
}

func (s *Service) runDelete(ctx context.Context, payload []byte) error {
	var p deletePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return jobs.Permanent(err)
	}

	// Probe permissions first. A chat where the bot cannot delete is not
	// an error worth retrying; the messages simply stay.
	allowed, err := s.tp.CanDeleteMessages(ctx, p.ChatID)
	if err != nil {
		return fmt.Errorf("permission probe for chat %d: %w", p.ChatID, err)
	}
	if !allowed {
		s.log.Info("skipping deletion, no permission", logx.Int64("chat", p.ChatID))
		return nil
	}

	// Each message is deleted independently so one failure does not strand
	// the rest; the retry re-runs over already-gone ids harmlessly.
	var firstErr error
	for _, id := range p.MessageIDs {
		err := s.tp.DeleteMessage(ctx, p.ChatID, id)
		switch {
		case err == nil:
			s.mets.MessageDeleted()
		case errors.Is(err, transport.ErrMessageGone):
			// Already removed by someone else. Done.
		default:
			s.log.Warn("delete failed",
				logx.Int64("chat", p.ChatID),
				logx.Int("message", id),
				logx.Err(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("delete message %d in chat %d: %w", id, p.ChatID, err)
			}
		}
	}
	return firstErr
}
