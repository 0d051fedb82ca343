package store

import (
	"context"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	Key    string
	Status models.ExecutionStatus
	Limit  int
}

// ArtifactFilter narrows ListArtifacts.
type ArtifactFilter struct {
	SourcePath string
	Kind       string
	Limit      int
}

// Store defines the history persistence interface.
type Store interface {
	// Executions
	RecordExecution(ctx context.Context, rec *models.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*models.ExecutionRecord, error)

	// Artifacts
	SaveArtifact(ctx context.Context, rec *models.ArtifactRecord) error
	ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]*models.ArtifactRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
