package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/repositories"
	"go.uber.org/zap"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, log)
	m.insertedLogs = append(m.insertedLogs, log)
	return args.Error(0)
}

func (m *MockAuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	args := m.Called(ctx, id)
	if log := args.Get(0); log != nil {
		return log.(*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetByCorrelationID(ctx context.Context, correlationID string) ([]*models.AuditLog, error) {
	args := m.Called(ctx, correlationID)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetByEngagementID(ctx context.Context, engagementID string, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, engagementID, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) WithTx(tx repositories.Transaction) repositories.AuditRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.AuditRepository)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuditLog, len(m.insertedLogs))
	copy(out, m.insertedLogs)
	return out
}

func testOpCtx(t *testing.T) models.OperationContext {
	t.Helper()
	opCtx, err := models.NewOperationContext("corr-1", "analyst@example.com", "eng-1")
	require.NoError(t, err)
	return opCtx.WithTool("fs_read").WithOperation("read")
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)
	assert.Error(t, service.Stop(time.Second))
}

func TestAuditService_EnqueueNotStarted(t *testing.T) {
	service := NewAuditService(new(MockAuditRepository), zap.NewNop(), DefaultConfig())

	err := service.Enqueue(models.NewAuditLog(testOpCtx(t), models.AuditActionToolOperationStart))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestAuditService_Enqueue(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 2})
	require.NoError(t, service.Start())

	log := models.NewAuditLog(testOpCtx(t), models.AuditActionToolOperationStart)
	require.NoError(t, service.Enqueue(log))

	// Stop drains the buffer before returning.
	require.NoError(t, service.Stop(5*time.Second))

	insertedLogs := mockRepo.GetInsertedLogs()
	require.Len(t, insertedLogs, 1)
	assert.Equal(t, "corr-1", insertedLogs[0].CorrelationID)
	assert.Equal(t, models.AuditActionToolOperationStart, insertedLogs[0].Action)
}

func TestAuditService_InsertTimeout(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	var deadline time.Time
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		deadline, _ = args.Get(0).(context.Context).Deadline()
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1, InsertTimeout: time.Minute})
	require.NoError(t, service.Start())
	require.NoError(t, service.Enqueue(models.NewAuditLog(testOpCtx(t), models.AuditActionPipelineStarted)))
	require.NoError(t, service.Stop(5*time.Second))

	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestAuditService_StopTimeoutCancelsInserts(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	cancelled := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
		close(cancelled)
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1, InsertTimeout: time.Hour})
	require.NoError(t, service.Start())
	require.NoError(t, service.Enqueue(models.NewAuditLog(testOpCtx(t), models.AuditActionPipelineStarted)))

	assert.Error(t, service.Stop(50*time.Millisecond))
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight insert was not cancelled")
	}
}

func TestAuditService_ConcurrentLogging(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1000, WorkerCount: 5})
	require.NoError(t, service.Start())

	goroutineCount := 10
	eventsPerGoroutine := 10
	opCtx := testOpCtx(t)
	var wg sync.WaitGroup

	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = service.Enqueue(models.NewAuditLog(opCtx, models.AuditActionToolOperationStart))
			}
		}()
	}

	wg.Wait()
	require.NoError(t, service.Stop(5*time.Second))

	assert.Len(t, mockRepo.GetInsertedLogs(), goroutineCount*eventsPerGoroutine)
}

func TestAuditService_InsertFailureDoesNotStopWorkers(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	opCtx := testOpCtx(t)
	require.NoError(t, service.Enqueue(models.NewAuditLog(opCtx, models.AuditActionToolOperationStart)))
	require.NoError(t, service.Enqueue(models.NewAuditLog(opCtx, models.AuditActionToolOperationComplete)))
	require.NoError(t, service.Stop(5*time.Second))

	assert.Len(t, mockRepo.GetInsertedLogs(), 2)
	mockRepo.AssertNumberOfCalls(t, "Insert", 2)
}

func TestAuditService_ToolOperationEvents(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	// A single worker persists in enqueue order.
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	opCtx := testOpCtx(t)
	require.NoError(t, service.LogToolOperationStart(opCtx, map[string]interface{}{"preview": "[EMAIL_REDACTED]"}))
	require.NoError(t, service.LogToolOperationComplete(opCtx, Outcome{
		Success:      false,
		Duration:     20 * time.Millisecond,
		ErrorType:    "file_type",
		ErrorMessage: "file type .exe not allowed",
		Metadata:     map[string]interface{}{"path": "payload.exe"},
	}))
	require.NoError(t, service.Stop(5*time.Second))

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 2)

	start := logs[0]
	assert.Equal(t, models.AuditActionToolOperationStart, start.Action)
	assert.Equal(t, "fs_read", start.ToolName)
	assert.JSONEq(t, `{"preview":"[EMAIL_REDACTED]"}`, string(start.Details))
	assert.Nil(t, start.Success)

	complete := logs[1]
	assert.Equal(t, models.AuditActionToolOperationComplete, complete.Action)
	require.NotNil(t, complete.Success)
	assert.False(t, *complete.Success)
	assert.Equal(t, int64(20), *complete.DurationMs)
	assert.Equal(t, "file_type", *complete.ErrorType)
	assert.Equal(t, "file type .exe not allowed", *complete.ErrorMessage)
}

func TestAuditService_SuccessHasNoError(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.LogToolOperationComplete(testOpCtx(t), Outcome{Success: true, Duration: time.Millisecond}))
	require.NoError(t, service.Stop(5*time.Second))

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 1)
	assert.True(t, *logs[0].Success)
	assert.Nil(t, logs[0].ErrorType)
	assert.Nil(t, logs[0].Details)
}

func TestAuditService_PipelineEvent(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.LogPipelineEvent(testOpCtx(t), models.AuditActionPipelineStage,
		map[string]interface{}{"stage": "gap_analysis", "provenance": "http"}))
	require.NoError(t, service.Stop(5*time.Second))

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionPipelineStage, logs[0].Action)
	assert.JSONEq(t, `{"stage":"gap_analysis","provenance":"http"}`, string(logs[0].Details))
}

func TestAuditService_BufferFull(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 2, WorkerCount: 1})
	require.NoError(t, service.Start())

	opCtx := testOpCtx(t)
	failures := 0
	for i := 0; i < 10; i++ {
		if err := service.Enqueue(models.NewAuditLog(opCtx, models.AuditActionToolOperationStart)); err != nil {
			assert.ErrorIs(t, err, ErrBufferFull)
			failures++
		}
	}
	close(release)
	require.NoError(t, service.Stop(5*time.Second))

	// One event in flight plus two buffered at most.
	assert.GreaterOrEqual(t, failures, 7)
	assert.Equal(t, int64(failures), service.GetStats().DroppedEvents)
}
