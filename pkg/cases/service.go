// Package cases holds the use cases that mutate the case aggregate. Every
// mutation and the outbox record announcing it commit in one transaction.
package cases

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/grantway/grantway/pkg/errdefs"
	"github.com/grantway/grantway/pkg/model"
	"github.com/grantway/grantway/pkg/store/postgres"
	"github.com/grantway/grantway/pkg/workflow"
)

// Outbound event types announced to downstream systems.
const (
	EventCaseCreated       = "CASE_CREATED"
	EventCaseStatusChanged = "CASE_STATUS_CHANGED"
	EventCaseTaskCompleted = "CASE_TASK_COMPLETED"
	EventCaseCommentAdded  = "CASE_COMMENT_ADDED"
	EventCaseAssigned      = "CASE_ASSIGNED"
)

type Service struct {
	db          *gorm.DB
	logger      *zap.Logger
	eventsTopic string
}

func NewService(db *gorm.DB, logger *zap.Logger, eventsTopic string) *Service {
	return &Service{db: db, logger: logger, eventsTopic: eventsTopic}
}

// CreateCase builds a case from its workflow definition: initial position
// and a deep-copied phase snapshot. Re-delivery of a creation event for an
// existing case is a no-op returning the stored case.
func (s *Service) CreateCase(ctx context.Context, caseRef, workflowCode string, payload model.JSONB, actor string) (*model.Case, error) {
	var created *model.Case
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caseRepo := postgres.NewCaseRepository(tx)

		existing, err := caseRepo.Find(ctx, caseRef, workflowCode)
		if err == nil {
			created = existing
			return nil
		}
		if !errdefs.IsNotFound(err) {
			return err
		}

		def, err := postgres.NewWorkflowRepository(tx).GetByCode(ctx, workflowCode)
		if err != nil {
			return err
		}
		position, err := workflow.InitialPosition(def)
		if err != nil {
			return err
		}

		c := &model.Case{
			ID:           uuid.New(),
			CaseRef:      caseRef,
			WorkflowCode: workflowCode,
			Position:     position,
			Phases:       model.SnapshotPhases(def),
			Payload:      payload,
		}
		c.Record(model.TimelineCreation, actor, "case created", model.JSONB{"position": position.String()})

		if err := caseRepo.Create(ctx, c); err != nil {
			if errdefs.IsConflict(err) {
				created, err = caseRepo.Find(ctx, caseRef, workflowCode)
				return err
			}
			return err
		}
		created = c

		return s.enqueue(ctx, tx, c, EventCaseCreated, model.JSONB{
			"case_ref":      c.CaseRef,
			"workflow_code": c.WorkflowCode,
			"position":      c.Position,
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ProgressCase advances a case through an action-coded transition, running
// the full validation gauntlet of the position state machine.
func (s *Service) ProgressCase(ctx context.Context, caseRef, workflowCode, actionCode, comment, actor string) (*model.Case, error) {
	var progressed *model.Case
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caseRepo := postgres.NewCaseRepository(tx)

		c, err := caseRepo.Find(ctx, caseRef, workflowCode)
		if err != nil {
			return err
		}
		def, err := postgres.NewWorkflowRepository(tx).GetByCode(ctx, workflowCode)
		if err != nil {
			return err
		}

		transition, err := workflow.ValidateTransition(def, c.Position, c, actionCode, comment)
		if err != nil {
			return err
		}
		target := workflow.ApplyTransition(transition)
		if _, err := workflow.CurrentStatusNode(def, target); err != nil {
			return err
		}

		if comment != "" {
			c.AddComment(actor, comment, actionCode)
		}
		c.MoveTo(target, actor, actionCode)

		if err := caseRepo.Update(ctx, c); err != nil {
			return err
		}
		progressed = c

		return s.enqueue(ctx, tx, c, EventCaseStatusChanged, model.JSONB{
			"case_ref":      c.CaseRef,
			"workflow_code": c.WorkflowCode,
			"action_code":   actionCode,
			"position":      c.Position,
		})
	})
	if err != nil {
		return nil, err
	}
	return progressed, nil
}

// ApplySupplementaryData merges business data into the case and, when a
// target position is supplied, repositions the case directly. This is the
// only path into automatic (nil-action) transitions.
func (s *Service) ApplySupplementaryData(ctx context.Context, caseRef, workflowCode string, target *model.Position, data model.JSONB, actor string) (*model.Case, error) {
	var updated *model.Case
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caseRepo := postgres.NewCaseRepository(tx)

		c, err := caseRepo.Find(ctx, caseRef, workflowCode)
		if err != nil {
			return err
		}

		if len(data) > 0 {
			c.MergePayload(data)
			c.Record(model.TimelineData, actor, "supplementary data applied", nil)
		}

		moved := false
		if target != nil && *target != c.Position {
			def, err := postgres.NewWorkflowRepository(tx).GetByCode(ctx, workflowCode)
			if err != nil {
				return err
			}
			if _, err := workflow.CurrentStatusNode(def, *target); err != nil {
				return err
			}
			c.MoveTo(*target, actor, "")
			moved = true
		}

		if err := caseRepo.Update(ctx, c); err != nil {
			return err
		}
		updated = c

		if !moved {
			return nil
		}
		return s.enqueue(ctx, tx, c, EventCaseStatusChanged, model.JSONB{
			"case_ref":      c.CaseRef,
			"workflow_code": c.WorkflowCode,
			"position":      c.Position,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CompleteTask marks a snapshot task complete.
func (s *Service) CompleteTask(ctx context.Context, caseRef, workflowCode, taskCode, actor string) error {
	return s.mutateTask(ctx, caseRef, workflowCode, taskCode, actor, true)
}

// ReopenTask clears a snapshot task's completion state.
func (s *Service) ReopenTask(ctx context.Context, caseRef, workflowCode, taskCode, actor string) error {
	return s.mutateTask(ctx, caseRef, workflowCode, taskCode, actor, false)
}

func (s *Service) mutateTask(ctx context.Context, caseRef, workflowCode, taskCode, actor string, complete bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caseRepo := postgres.NewCaseRepository(tx)

		c, err := caseRepo.Find(ctx, caseRef, workflowCode)
		if err != nil {
			return err
		}

		ok := false
		if complete {
			ok = c.CompleteTask(taskCode, actor)
		} else {
			ok = c.ReopenTask(taskCode, actor)
		}
		if !ok {
			return errdefs.NotFound("task %s on case %s/%s", taskCode, caseRef, workflowCode)
		}

		if err := caseRepo.Update(ctx, c); err != nil {
			return err
		}

		return s.enqueue(ctx, tx, c, EventCaseTaskCompleted, model.JSONB{
			"case_ref":      c.CaseRef,
			"workflow_code": c.WorkflowCode,
			"task_code":     taskCode,
			"complete":      complete,
		})
	})
}

// AddComment appends a free-standing note to the case.
func (s *Service) AddComment(ctx context.Context, caseRef, workflowCode, author, body string) error {
	if body == "" {
		return errdefs.InvalidInput("comment body is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caseRepo := postgres.NewCaseRepository(tx)

		c, err := caseRepo.Find(ctx, caseRef, workflowCode)
		if err != nil {
			return err
		}
		c.AddComment(author, body, "")
		c.AddWatcher(author)

		if err := caseRepo.Update(ctx, c); err != nil {
			return err
		}

		return s.enqueue(ctx, tx, c, EventCaseCommentAdded, model.JSONB{
			"case_ref":      c.CaseRef,
			"workflow_code": c.WorkflowCode,
			"author":        author,
			"watchers":      c.Watchers,
		})
	})
}

// AssignUser hands the case to a user and records the handover.
func (s *Service) AssignUser(ctx context.Context, caseRef, workflowCode, user, actor string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caseRepo := postgres.NewCaseRepository(tx)

		c, err := caseRepo.Find(ctx, caseRef, workflowCode)
		if err != nil {
			return err
		}
		// The previous assignee keeps following the case as a watcher.
		c.AddWatcher(c.AssignedUser)
		c.AssignedUser = user
		c.AddWatcher(user)
		c.Record(model.TimelineAssignment, actor, "assigned to "+user, nil)

		if err := caseRepo.Update(ctx, c); err != nil {
			return err
		}

		return s.enqueue(ctx, tx, c, EventCaseAssigned, model.JSONB{
			"case_ref":      c.CaseRef,
			"workflow_code": c.WorkflowCode,
			"assigned_user": user,
			"watchers":      c.Watchers,
		})
	})
}

// enqueue co-commits the intent to publish with the case mutation that
// produced it.
func (s *Service) enqueue(ctx context.Context, tx *gorm.DB, c *model.Case, eventType string, payload model.JSONB) error {
	event := &model.OutboxEvent{
		QueuedEvent: model.QueuedEvent{
			ID:              uuid.New(),
			SegregationRef:  c.SegregationRef(),
			Type:            eventType,
			Payload:         payload,
			Status:          model.EventPublished,
			PublicationDate: time.Now(),
		},
		Target: s.eventsTopic,
	}
	return postgres.NewOutboxRepository(tx, postgres.QueueOptions{}).Insert(ctx, event)
}
