// Package bot is the Telegram command surface. It routes updates from
// the transport adapter to the ingest and leaderboard services and
// renders replies; group submissions get their request/confirmation
// pair scheduled for delayed deletion.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"primeboard/internal/ingest"
	"primeboard/internal/services/leaderboard"
	"primeboard/internal/storage"
	"primeboard/internal/transport"
	"primeboard/pkg/logx"
	"primeboard/pkg/primestats"
	"primeboard/pkg/tgui"
)

type Config struct {
	// BoardLimit caps rendered leaderboard rows; 0 serves the full
	// cached snapshot.
	BoardLimit int
	// QueueSize is the update channel buffer between adapter and router.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// Sender is the outbound transport slice the router needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Registry is the agent write path (registration and submissions).
type Registry interface {
	Register(ctx context.Context, telegramID int64, codename, faction string) (storage.Agent, error)
	Agent(ctx context.Context, telegramID int64) (storage.Agent, bool, error)
	Submit(ctx context.Context, telegramID int64, ap int64, metrics map[string]any) (storage.Agent, error)
}

// Boards is the leaderboard read path.
type Boards interface {
	Read(ctx context.Context, k leaderboard.Key, limit int) (leaderboard.Result, error)
}

// Janitor schedules delayed message deletion.
type Janitor interface {
	ScheduleDeletion(ctx context.Context, chatID int64, messageIDs ...int) error
}

type Service struct {
	cfg     Config
	log     logx.Logger
	sender  Sender
	agents  Registry
	boards  Boards
	janitor Janitor

	mu     sync.Mutex
	cancel context.CancelFunc
	doneCh chan struct{}
}

func New(cfg Config, sender Sender, agents Registry, boards Boards, janitor Janitor, log logx.Logger) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log.With(logx.String("svc", "bot")),
		sender:  sender,
		agents:  agents,
		boards:  boards,
		janitor: janitor,
	}
}

// Updates returns a fresh channel sized for the adapter to feed.
func (s *Service) Updates() chan transport.Update {
	return make(chan transport.Update, s.cfg.QueueSize)
}

// Run consumes updates until the channel closes or ctx is done. Handler
// panics are contained per update; the router never dies to one bad
// message.
func (s *Service) Run(ctx context.Context, updates <-chan transport.Update) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.doneCh = done
	s.mu.Unlock()
	defer close(done)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			s.handle(ctx, u)
		}
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel, done := s.cancel, s.doneCh
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) handle(ctx context.Context, u transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", logx.Any("panic", r))
		}
	}()
	if u.Kind != transport.UpdateMessage || u.Message == nil {
		return
	}
	s.HandleMessage(ctx, *u.Message)
}

// HandleMessage routes one inbound message.
func (s *Service) HandleMessage(ctx context.Context, msg transport.Message) {
	cmd, args, ok := parseCommand(msg.Text)
	if !ok {
		// Bare pasted Prime stats in private chat count as a submission.
		if !msg.IsGroup && len(primestats.Parse(msg.Text)) > 0 {
			s.cmdSubmit(ctx, msg, msg.Text)
		}
		return
	}

	switch cmd {
	case "start", "help":
		s.reply(ctx, msg, renderHelp())
	case "register":
		s.cmdRegister(ctx, msg, args)
	case "submit":
		s.cmdSubmit(ctx, msg, args)
	case "leaderboard":
		s.cmdLeaderboard(ctx, msg, args)
	case "myrank":
		s.cmdMyRank(ctx, msg, args)
	default:
		// Unknown commands are ignored in groups to avoid noise.
		if !msg.IsGroup {
			s.reply(ctx, msg, tgui.Esc("Unknown command. Try /help."))
		}
	}
}

func (s *Service) cmdRegister(ctx context.Context, msg transport.Message, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		s.reply(ctx, msg, tgui.Esc("Usage: /register <codename> <ENL|RES>"))
		return
	}
	agent, err := s.agents.Register(ctx, msg.FromID, fields[0], fields[1])
	if err != nil {
		s.reply(ctx, msg, tgui.Esc("Registration failed: "+err.Error()))
		return
	}
	s.reply(ctx, msg, tgui.JoinH(" ",
		tgui.Esc("Registered"), tgui.Code(agent.Codename), tgui.Esc(fmt.Sprintf("[%s].", agent.Faction))))
}

func (s *Service) cmdSubmit(ctx context.Context, msg transport.Message, payload string) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		s.reply(ctx, msg, tgui.Esc("Usage: /submit ap=12345; hacks=678 — or paste your Ingress Prime stats export"))
		return
	}

	ap, metrics, err := parseSubmissionPayload(payload)
	if err != nil {
		s.reply(ctx, msg, tgui.Esc(err.Error()))
		return
	}

	agent, err := s.agents.Submit(ctx, msg.FromID, ap, metrics)
	if err != nil {
		if errors.Is(err, ingest.ErrNotRegistered) {
			s.reply(ctx, msg, tgui.Esc("Register first with /register <codename> <ENL|RES>."))
		} else {
			s.log.Warn("submit failed", logx.Int64("from", msg.FromID), logx.Err(err))
			s.reply(ctx, msg, tgui.Esc("Could not record the submission, try again later."))
		}
		return
	}

	confirmation := tgui.JoinH(" ",
		tgui.Esc("Recorded "+groupDigits(ap)+" AP for"),
		tgui.Code(agent.Codename),
		tgui.Esc(fmt.Sprintf("[%s].", agent.Faction)))
	ref := s.reply(ctx, msg, confirmation)

	// In groups the request and its confirmation are ephemeral.
	if msg.IsGroup {
		if err := s.janitor.ScheduleDeletion(ctx, msg.ChatID, msg.ID, ref.MessageID); err != nil {
			s.log.Warn("deletion scheduling failed", logx.Int64("chat", msg.ChatID), logx.Err(err))
		}
	}
}

// parseSubmissionPayload accepts either a pasted Prime export or the
// manual key=value format.
func parseSubmissionPayload(payload string) (int64, map[string]any, error) {
	if entries := primestats.Parse(payload); len(entries) > 0 {
		e := entries[0]
		return e.LifetimeAP, e.Metrics, nil
	}
	ap, metrics, err := parseKeyValueSubmission(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("could not parse stats: %v", err)
	}
	return ap, metrics, nil
}

func (s *Service) cmdLeaderboard(ctx context.Context, msg transport.Message, args string) {
	key, err := parseBoardKey(args)
	if err != nil {
		s.reply(ctx, msg, tgui.Esc(err.Error()))
		return
	}
	res, err := s.boards.Read(ctx, key, s.cfg.BoardLimit)
	if err != nil {
		s.reply(ctx, msg, tgui.Esc(err.Error()))
		return
	}
	s.reply(ctx, msg, renderBoard(res))
}

func (s *Service) cmdMyRank(ctx context.Context, msg transport.Message, args string) {
	agent, ok, err := s.agents.Agent(ctx, msg.FromID)
	if err != nil || !ok {
		s.reply(ctx, msg, tgui.Esc("Register first with /register <codename> <ENL|RES>."))
		return
	}
	key, err := parseBoardKey(args)
	if err != nil {
		s.reply(ctx, msg, tgui.Esc(err.Error()))
		return
	}
	key.Faction = "" // rank against the full board

	res, err := s.boards.Read(ctx, key, 0)
	if err != nil {
		s.reply(ctx, msg, tgui.Esc(err.Error()))
		return
	}
	if res.Unavailable {
		s.reply(ctx, msg, tgui.Esc("Leaderboard is unavailable right now, try again later."))
		return
	}
	for i, row := range res.Rows {
		if row.AgentID == agent.ID {
			s.reply(ctx, msg, tgui.JoinH(" ",
				tgui.Code(agent.Codename),
				tgui.Esc(fmt.Sprintf("is #%d on %s with %s.", i+1, boardTitle(key), formatValue(row.Value, key.Metric)))))
			return
		}
	}
	s.reply(ctx, msg, tgui.JoinH(" ",
		tgui.Code(agent.Codename),
		tgui.Esc(fmt.Sprintf("is outside the top %d of %s.", len(res.Rows), boardTitle(key)))))
}

// parseBoardKey reads the optional [span] [metric] [faction] arguments in
// any order.
func parseBoardKey(args string) (leaderboard.Key, error) {
	key := leaderboard.Key{Metric: leaderboard.PrimaryMetric, Span: leaderboard.SpanAll}
	for _, f := range strings.Fields(args) {
		if span, err := leaderboard.ParseSpan(f); err == nil {
			key.Span = span
			continue
		}
		switch strings.ToUpper(f) {
		case "ENL", "RES":
			key.Faction = strings.ToUpper(f)
			continue
		}
		key.Metric = strings.ToLower(f)
	}
	if key.Faction != "" && key.Metric != leaderboard.PrimaryMetric {
		return leaderboard.Key{}, fmt.Errorf("faction boards are only tracked for AP")
	}
	return key, nil
}

func (s *Service) reply(ctx context.Context, msg transport.Message, body tgui.H) transport.MessageRef {
	ref, err := s.sender.SendText(ctx,
		transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		capMessage(body).String(),
		&transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		s.log.Warn("reply failed", logx.Int64("chat", msg.ChatID), logx.Err(err))
	}
	return ref
}
