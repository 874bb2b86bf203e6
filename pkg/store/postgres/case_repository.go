package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/grantway/grantway/pkg/errdefs"
	"github.com/grantway/grantway/pkg/model"
)

type CaseRepository struct {
	db *gorm.DB
}

func NewCaseRepository(db *gorm.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

func (r *CaseRepository) Find(ctx context.Context, caseRef, workflowCode string) (*model.Case, error) {
	var c model.Case
	err := r.db.WithContext(ctx).
		Preload("Comments").
		Preload("Timeline").
		First(&c, "case_ref = ? AND workflow_code = ?", caseRef, workflowCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errdefs.NotFound("case %s/%s", caseRef, workflowCode)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CaseRepository) Create(ctx context.Context, c *model.Case) error {
	err := r.db.WithContext(ctx).Create(c).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return errdefs.Conflict("case %s/%s already exists", c.CaseRef, c.WorkflowCode)
	}
	return err
}

// Update persists the aggregate and its new comments and timeline entries.
func (r *CaseRepository) Update(ctx context.Context, c *model.Case) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: true}).
		Save(c).Error
}
