package cases

import (
	"context"
	"encoding/json"

	"github.com/grantway/grantway/pkg/errdefs"
	"github.com/grantway/grantway/pkg/inbox"
	"github.com/grantway/grantway/pkg/model"
)

// Inbound event types the dispatch table recognises.
const (
	EventTypeCaseCreation      = "CASE_CREATION"
	EventTypeCaseAction        = "CASE_ACTION"
	EventTypeSupplementaryData = "SUPPLEMENTARY_DATA"
	EventTypeTaskCompletion    = "TASK_COMPLETION"
	EventTypeCaseComment       = "CASE_COMMENT"
	EventTypeCaseAssignment    = "CASE_ASSIGNMENT"
)

// CaseService is what the handlers need from the use-case layer.
type CaseService interface {
	CreateCase(ctx context.Context, caseRef, workflowCode string, payload model.JSONB, actor string) (*model.Case, error)
	ProgressCase(ctx context.Context, caseRef, workflowCode, actionCode, comment, actor string) (*model.Case, error)
	ApplySupplementaryData(ctx context.Context, caseRef, workflowCode string, target *model.Position, data model.JSONB, actor string) (*model.Case, error)
	CompleteTask(ctx context.Context, caseRef, workflowCode, taskCode, actor string) error
	ReopenTask(ctx context.Context, caseRef, workflowCode, taskCode, actor string) error
	AddComment(ctx context.Context, caseRef, workflowCode, author, body string) error
	AssignUser(ctx context.Context, caseRef, workflowCode, user, actor string) error
}

// RegisterHandlers wires every recognised inbound type into the dispatcher.
func RegisterHandlers(dispatcher *inbox.Dispatcher, svc CaseService) {
	dispatcher.Register(EventTypeCaseCreation, inbox.HandlerFunc(func(ctx context.Context, event *model.InboxEvent) error {
		var p creationPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		_, err := svc.CreateCase(ctx, p.CaseRef, p.WorkflowCode, p.Data, p.Actor)
		return err
	}))

	dispatcher.Register(EventTypeCaseAction, inbox.HandlerFunc(func(ctx context.Context, event *model.InboxEvent) error {
		var p actionPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		if p.ActionCode == "" {
			return errdefs.InvalidInput("action_code is required")
		}
		_, err := svc.ProgressCase(ctx, p.CaseRef, p.WorkflowCode, p.ActionCode, p.Comment, p.Actor)
		return err
	}))

	dispatcher.Register(EventTypeSupplementaryData, inbox.HandlerFunc(func(ctx context.Context, event *model.InboxEvent) error {
		var p supplementaryPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		_, err := svc.ApplySupplementaryData(ctx, p.CaseRef, p.WorkflowCode, p.Position, p.Data, p.Actor)
		return err
	}))

	dispatcher.Register(EventTypeTaskCompletion, inbox.HandlerFunc(func(ctx context.Context, event *model.InboxEvent) error {
		var p taskPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		if p.TaskCode == "" {
			return errdefs.InvalidInput("task_code is required")
		}
		if p.Reopen {
			return svc.ReopenTask(ctx, p.CaseRef, p.WorkflowCode, p.TaskCode, p.Actor)
		}
		return svc.CompleteTask(ctx, p.CaseRef, p.WorkflowCode, p.TaskCode, p.Actor)
	}))

	dispatcher.Register(EventTypeCaseComment, inbox.HandlerFunc(func(ctx context.Context, event *model.InboxEvent) error {
		var p commentPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		return svc.AddComment(ctx, p.CaseRef, p.WorkflowCode, p.Author, p.Body)
	}))

	dispatcher.Register(EventTypeCaseAssignment, inbox.HandlerFunc(func(ctx context.Context, event *model.InboxEvent) error {
		var p assignmentPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		if p.User == "" {
			return errdefs.InvalidInput("user is required")
		}
		return svc.AssignUser(ctx, p.CaseRef, p.WorkflowCode, p.User, p.Actor)
	}))
}

type casePayload struct {
	CaseRef      string `json:"case_ref"`
	WorkflowCode string `json:"workflow_code"`
	Actor        string `json:"actor,omitempty"`
}

type creationPayload struct {
	casePayload
	Data model.JSONB `json:"data,omitempty"`
}

type actionPayload struct {
	casePayload
	ActionCode string `json:"action_code"`
	Comment    string `json:"comment,omitempty"`
}

type supplementaryPayload struct {
	casePayload
	Position *model.Position `json:"position,omitempty"`
	Data     model.JSONB     `json:"data,omitempty"`
}

type taskPayload struct {
	casePayload
	TaskCode string `json:"task_code"`
	Reopen   bool   `json:"reopen,omitempty"`
}

type commentPayload struct {
	casePayload
	Author string `json:"author"`
	Body   string `json:"body"`
}

type assignmentPayload struct {
	casePayload
	User string `json:"user"`
}

func decode(event *model.InboxEvent, v interface{}) error {
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return errdefs.InvalidInput("unreadable %s payload: %v", event.Type, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errdefs.InvalidInput("malformed %s payload: %v", event.Type, err)
	}
	var base *casePayload
	switch p := v.(type) {
	case *creationPayload:
		base = &p.casePayload
	case *actionPayload:
		base = &p.casePayload
	case *supplementaryPayload:
		base = &p.casePayload
	case *taskPayload:
		base = &p.casePayload
	case *commentPayload:
		base = &p.casePayload
	case *assignmentPayload:
		base = &p.casePayload
	}
	if base == nil || base.CaseRef == "" || base.WorkflowCode == "" {
		return errdefs.InvalidInput("%s payload requires case_ref and workflow_code", event.Type)
	}
	return nil
}
