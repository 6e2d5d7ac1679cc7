package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/maturity-gateway/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error

	// InSnapshot executes fn in a read-only transaction that sees one
	// consistent snapshot of the database
	InSnapshot(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByID retrieves an audit log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)

	// GetByCorrelationID retrieves every entry of one request, oldest first
	GetByCorrelationID(ctx context.Context, correlationID string) ([]*models.AuditLog, error)

	// GetByEngagementID retrieves audit logs for an engagement with pagination
	GetByEngagementID(ctx context.Context, engagementID string, limit, offset int) ([]*models.AuditLog, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AuditRepository
}

// ProjectRepository is the storage port read by the analysis pipeline
type ProjectRepository interface {
	// GetByID retrieves a project by ID
	GetByID(ctx context.Context, id string) (*models.Project, error)

	// ListDocuments retrieves the project's documents in upload order
	ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) ProjectRepository
}

// Repositories holds all repository instances
type Repositories struct {
	Projects  ProjectRepository
	AuditLogs AuditRepository
}
