package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/maturity-gateway/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Wrap adapts an already-open pool, e.g. one created by sqlmock in tests
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

const projectSchema = `
	CREATE TABLE IF NOT EXISTS projects (
		id VARCHAR(128) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		engagement_id VARCHAR(128),
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS project_documents (
		id VARCHAR(128) PRIMARY KEY,
		project_id VARCHAR(128) NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		filename VARCHAR(512) NOT NULL,
		content_text TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_projects_engagement_id ON projects(engagement_id);
	CREATE INDEX IF NOT EXISTS idx_project_documents_project_id ON project_documents(project_id);
`

const auditSchema = `
	CREATE TABLE IF NOT EXISTS tool_audit_logs (
		id UUID PRIMARY KEY,
		correlation_id VARCHAR(128) NOT NULL,
		engagement_id VARCHAR(128) NOT NULL,
		user_id VARCHAR(320) NOT NULL,
		action VARCHAR(100) NOT NULL,
		tool_name VARCHAR(100),
		operation VARCHAR(100),
		details JSONB,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		success BOOLEAN,
		duration_ms BIGINT,
		error_type VARCHAR(100),
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tool_audit_logs_correlation_id ON tool_audit_logs(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_tool_audit_logs_engagement_id ON tool_audit_logs(engagement_id);
	CREATE INDEX IF NOT EXISTS idx_tool_audit_logs_action ON tool_audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_tool_audit_logs_timestamp ON tool_audit_logs(timestamp);
`

// InitSchema initializes the project and audit tables
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, projectSchema+auditSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes the audit table only.
// Use for the separate audit database when DATABASE_URL_AUDIT is set.
func (db *DB) InitAuditSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
