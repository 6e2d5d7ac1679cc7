package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/repositories"
	"go.uber.org/zap"
)

var (
	// ErrNotRunning is returned when events arrive before Start or after Stop.
	ErrNotRunning = errors.New("audit service not running")
	// ErrBufferFull is returned when an event is dropped.
	ErrBufferFull = errors.New("audit event buffer full")
)

const defaultInsertTimeout = 5 * time.Second

// Config holds configuration for the AuditService
type Config struct {
	BufferSize    int
	WorkerCount   int
	InsertTimeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:    10000,
		WorkerCount:   5,
		InsertTimeout: defaultInsertTimeout,
	}
}

// AuditService persists tool and pipeline audit rows off the request path.
// Events are queued in call order; with more than one worker, rows may be
// inserted out of order.
type AuditService struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
	cfg    Config

	queue   chan *models.AuditLog
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Int64

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repositories.AuditRepository, logger *zap.Logger, cfg Config) *AuditService {
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = defaultInsertTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AuditService{
		repo:   repo,
		logger: logger,
		cfg:    cfg,
		queue:  make(chan *models.AuditLog, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the workers. It fails when called twice.
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("audit service already started")
	}

	s.wg.Add(s.cfg.WorkerCount)
	for i := 0; i < s.cfg.WorkerCount; i++ {
		go s.worker(i)
	}
	s.started = true

	s.logger.Info("started audit service",
		zap.Int("worker_count", s.cfg.WorkerCount),
		zap.Int("buffer_size", s.cfg.BufferSize))
	return nil
}

// Stop closes the queue and waits up to timeout for workers to drain it.
// Inserts still running at the deadline are cancelled.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	s.logger.Info("stopping audit service",
		zap.Int("pending_events", len(s.queue)),
		zap.Int64("dropped_events", s.dropped.Load()))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	defer s.cancel()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

func (s *AuditService) running() bool {
	return s.started && !s.stopped
}

// Enqueue queues log without blocking. A full buffer drops it.
func (s *AuditService) Enqueue(log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running() {
		return ErrNotRunning
	}

	select {
	case s.queue <- log:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit queue full, dropping event",
			zap.String("action", string(log.Action)),
			zap.String("correlation_id", log.CorrelationID))
		return ErrBufferFull
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()
	for log := range s.queue {
		if err := s.insert(log); err != nil {
			s.logger.Error("failed to persist audit event",
				zap.Int("worker_id", id),
				zap.String("action", string(log.Action)),
				zap.String("correlation_id", log.CorrelationID),
				zap.Error(err))
		}
	}
}

func (s *AuditService) insert(log *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.InsertTimeout)
	defer cancel()
	if err := s.repo.Insert(ctx, log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	DroppedEvents int64
	Started       bool
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		BufferSize:    s.cfg.BufferSize,
		PendingEvents: len(s.queue),
		WorkerCount:   s.cfg.WorkerCount,
		DroppedEvents: s.dropped.Load(),
		Started:       s.running(),
	}
}

// Outcome is the result of a finished tool operation.
type Outcome struct {
	Success      bool
	Duration     time.Duration
	ErrorType    string
	ErrorMessage string
	Metadata     map[string]interface{}
}

// LogToolOperationStart records that a tool call passed validation and is
// about to run. details must already be redacted.
func (s *AuditService) LogToolOperationStart(opCtx models.OperationContext, details map[string]interface{}) error {
	return s.LogPipelineEvent(opCtx, models.AuditActionToolOperationStart, details)
}

// LogToolOperationComplete records the outcome of a tool call.
func (s *AuditService) LogToolOperationComplete(opCtx models.OperationContext, outcome Outcome) error {
	log := models.NewAuditLog(opCtx, models.AuditActionToolOperationComplete).
		WithOutcome(outcome.Success, outcome.Duration)
	if len(outcome.Metadata) > 0 {
		log.WithDetails(outcome.Metadata)
	}
	if !outcome.Success {
		log.WithError(outcome.ErrorType, outcome.ErrorMessage)
	}
	return s.Enqueue(log)
}

// LogPipelineEvent records a pipeline lifecycle event.
func (s *AuditService) LogPipelineEvent(opCtx models.OperationContext, action models.AuditAction, details map[string]interface{}) error {
	log := models.NewAuditLog(opCtx, action)
	if len(details) > 0 {
		log.WithDetails(details)
	}
	return s.Enqueue(log)
}
