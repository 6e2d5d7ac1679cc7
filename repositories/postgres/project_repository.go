package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/repositories"
	"go.uber.org/zap"
)

// ProjectRepository implements the repositories.ProjectRepository interface
type ProjectRepository struct {
	db     *DB
	tx     repositories.Transaction
	logger *zap.Logger
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *DB, logger *zap.Logger) repositories.ProjectRepository {
	return &ProjectRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a project by ID
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	query := `
		SELECT id, name, engagement_id, description, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	project := &models.Project{}
	err := getExecutor(ctx, r.db, r.tx).QueryRowContext(ctx, query, id).Scan(
		&project.ID,
		&project.Name,
		&project.EngagementID,
		&project.Description,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// ListDocuments retrieves the project's documents in upload order
func (r *ProjectRepository) ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error) {
	query := `
		SELECT id, project_id, filename, content_text, created_at
		FROM project_documents
		WHERE project_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := getExecutor(ctx, r.db, r.tx).QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc := &models.Document{}
		if err := rows.Scan(&doc.ID, &doc.ProjectID, &doc.Filename, &doc.ContentText, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}

	r.logger.Debug("documents loaded", zap.String("project_id", projectID), zap.Int("count", len(docs)))
	return docs, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *ProjectRepository) WithTx(tx repositories.Transaction) repositories.ProjectRepository {
	return &ProjectRepository{
		db:     r.db,
		tx:     tx,
		logger: r.logger,
	}
}
