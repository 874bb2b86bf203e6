package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/grantway/grantway/pkg/errdefs"
	"github.com/grantway/grantway/pkg/model"
)

// WorkflowRepository is the read-only lookup side of workflow definitions.
// Case processing never writes through it.
type WorkflowRepository struct {
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) GetByCode(ctx context.Context, code string) (*model.WorkflowDefinition, error) {
	var workflow model.Workflow
	err := r.db.WithContext(ctx).First(&workflow, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errdefs.NotFound("workflow %s", code)
	}
	if err != nil {
		return nil, err
	}
	return &workflow.Definition, nil
}
