package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"primeboard/internal/jobs"
	"primeboard/internal/ops"
	"primeboard/internal/storage"
	"primeboard/pkg/logx"
)

type Config struct {
	Workers            int
	PollInterval       time.Duration
	BatchSize          int
	LeaseTimeout       time.Duration
	RetryBase          time.Duration
	RetryMaxDelay      time.Duration
	DefaultMaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 2 * time.Minute
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 5
	}
	return c
}

// Handler executes one job type. Validate, when set, gates enqueue input;
// Run performs the (idempotent) side effect.
type Handler struct {
	Run      func(ctx context.Context, payload []byte) error
	Validate func(payload []byte) error
}

// Request describes a job to enqueue.
type Request struct {
	Type        string
	Payload     any       // marshaled to JSON; []byte and json.RawMessage pass through
	NotBefore   time.Time // zero = now
	MaxAttempts int       // 0 = config default
	DedupKey    string    // optional coalescing key
}

type Service struct {
	cfg   Config
	log   logx.Logger
	store storage.Store
	mets  *ops.Metrics

	hmu      sync.RWMutex
	handlers map[string]Handler

	runMu    sync.Mutex
	stopCh   chan struct{}
	cancel   context.CancelFunc
	workerWG sync.WaitGroup
}

func New(cfg Config, store storage.Store, mets *ops.Metrics, log logx.Logger) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log.With(logx.String("svc", "runner")),
		store:    store,
		mets:     mets,
		handlers: map[string]Handler{},
	}
}

// Register installs the handler for a job type. Must be called before
// Start; enqueue rejects types without a handler.
func (s *Service) Register(typ string, h Handler) {
	s.hmu.Lock()
	s.handlers[typ] = h
	s.hmu.Unlock()
}

func (s *Service) handler(typ string) (Handler, bool) {
	s.hmu.RLock()
	h, ok := s.handlers[typ]
	s.hmu.RUnlock()
	return h, ok
}

// Enqueue validates and stores a job. It returns the job id and whether a
// row was inserted (false when a dedup key coalesced the request).
func (s *Service) Enqueue(ctx context.Context, req Request) (string, bool, error) {
	h, ok := s.handler(req.Type)
	if !ok {
		return "", false, jobs.Validationf("unknown job type %q", req.Type)
	}

	payload, err := marshalPayload(req.Payload)
	if err != nil {
		return "", false, jobs.Validationf("payload for %q: %v", req.Type, err)
	}
	if h.Validate != nil {
		if err := h.Validate(payload); err != nil {
			return "", false, fmt.Errorf("%w: %s: %v", jobs.ErrValidation, req.Type, err)
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.DefaultMaxAttempts
	}
	j := jobs.Job{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Payload:     payload,
		NotBefore:   req.NotBefore,
		MaxAttempts: maxAttempts,
		DedupKey:    req.DedupKey,
	}
	inserted, err := s.store.EnqueueJob(ctx, j)
	if err != nil {
		return "", false, err
	}
	if !inserted {
		s.log.Debug("enqueue coalesced", logx.String("type", req.Type), logx.String("dedup_key", req.DedupKey))
		return "", false, nil
	}
	return j.ID, true, nil
}

func marshalPayload(p any) ([]byte, error) {
	switch v := p.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	queue := make(chan jobs.Job, s.cfg.BatchSize)
	stopCh := s.stopCh

	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}

	s.workerWG.Add(2)
	go func() {
		defer s.workerWG.Done()
		s.dispatch(runCtx, stopCh, queue)
	}()
	go func() {
		defer s.workerWG.Done()
		s.recoverLoop(runCtx, stopCh)
	}()

	s.log.Info("runner started",
		logx.Int("workers", s.cfg.Workers),
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Int("batch_size", s.cfg.BatchSize))
}

func (s *Service) Stop(ctx context.Context) {
	s.runMu.Lock()
	stopCh := s.stopCh
	cancel := s.cancel
	s.stopCh = nil
	s.cancel = nil
	s.runMu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("runner stopped")
	case <-ctx.Done():
		s.log.Warn("runner stop cancelled", logx.Err(ctx.Err()))
	}
}
