package models

import (
	"strings"
	"time"
)

// Project is an assessment project whose documents feed the analysis pipeline
type Project struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	EngagementID *string   `json:"engagement_id,omitempty" db:"engagement_id"`
	Description  string    `json:"description" db:"description"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Project model
func (Project) TableName() string {
	return "projects"
}

// Document is the extracted text of one uploaded evidence file
type Document struct {
	ID          string    `json:"id" db:"id"`
	ProjectID   string    `json:"project_id" db:"project_id"`
	Filename    string    `json:"filename" db:"filename"`
	ContentText string    `json:"content_text" db:"content_text"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Document model
func (Document) TableName() string {
	return "project_documents"
}

// ConcatenateDocuments joins document texts with a filename header each, in
// the order given.
func ConcatenateDocuments(docs []*Document) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("=== ")
		b.WriteString(d.Filename)
		b.WriteString(" ===\n")
		b.WriteString(d.ContentText)
	}
	return b.String()
}
