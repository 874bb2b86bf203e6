package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	TimelineCreation   = "CREATION"
	TimelineTransition = "TRANSITION"
	TimelineTask       = "TASK"
	TimelineComment    = "COMMENT"
	TimelineAssignment = "ASSIGNMENT"
	TimelineData       = "DATA"
)

// CaseTask is the per-case copy of a workflow task with its own completion
// state.
type CaseTask struct {
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Mandatory   bool       `json:"mandatory"`
	Complete    bool       `json:"complete"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type CaseTaskGroup struct {
	Code  string     `json:"code"`
	Name  string     `json:"name"`
	Tasks []CaseTask `json:"tasks,omitempty"`
}

type CaseStage struct {
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	TaskGroups []CaseTaskGroup `json:"task_groups,omitempty"`
}

type CasePhase struct {
	Code   string      `json:"code"`
	Name   string      `json:"name"`
	Stages []CaseStage `json:"stages,omitempty"`
}

// PhaseSnapshot is the per-case deep copy of the workflow's phase subtree.
// It shares no references with the workflow definition it was taken from.
type PhaseSnapshot []CasePhase

func (s PhaseSnapshot) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal(PhaseSnapshot{})
	}
	return json.Marshal(s)
}

func (s *PhaseSnapshot) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan phase snapshot: %v", value)
	}
	return json.Unmarshal(bytes, s)
}

func (PhaseSnapshot) GormDataType() string {
	return "jsonb"
}

// SnapshotPhases copies the definition's phase/stage/task-group/task subtree
// into plain value data owned by a single case.
func SnapshotPhases(def *WorkflowDefinition) PhaseSnapshot {
	snapshot := make(PhaseSnapshot, 0, len(def.Phases))
	for _, phase := range def.Phases {
		cp := CasePhase{Code: phase.Code, Name: phase.Name}
		for _, stage := range phase.Stages {
			cs := CaseStage{Code: stage.Code, Name: stage.Name}
			for _, group := range stage.TaskGroups {
				cg := CaseTaskGroup{Code: group.Code, Name: group.Name}
				for _, task := range group.Tasks {
					cg.Tasks = append(cg.Tasks, CaseTask{
						Code:      task.Code,
						Name:      task.Name,
						Mandatory: task.Mandatory,
					})
				}
				cs.TaskGroups = append(cs.TaskGroups, cg)
			}
			cp.Stages = append(cp.Stages, cs)
		}
		snapshot = append(snapshot, cp)
	}
	return snapshot
}

type CaseComment struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	CaseID     uuid.UUID `gorm:"type:uuid;not null;index" json:"case_id"`
	Author     string    `gorm:"not null" json:"author"`
	Body       string    `gorm:"not null" json:"body"`
	ActionCode string    `json:"action_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (CaseComment) TableName() string {
	return "case_comments"
}

// TimelineEntry is one append-only audit line on a case.
type TimelineEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	CaseID    uuid.UUID `gorm:"type:uuid;not null;index" json:"case_id"`
	Kind      string    `gorm:"not null" json:"kind"`
	Actor     string    `json:"actor,omitempty"`
	Message   string    `json:"message,omitempty"`
	Details   JSONB     `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (TimelineEntry) TableName() string {
	return "case_timeline"
}

// Case is the aggregate mutated by inbox handlers. It is created on the
// first inbound creation event and never deleted.
type Case struct {
	ID           uuid.UUID       `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	CaseRef      string          `gorm:"not null;uniqueIndex:idx_case_ref_workflow" json:"case_ref"`
	WorkflowCode string          `gorm:"not null;uniqueIndex:idx_case_ref_workflow" json:"workflow_code"`
	Position     Position        `gorm:"embedded;embeddedPrefix:position_" json:"position"`
	Phases       PhaseSnapshot   `gorm:"type:jsonb;not null" json:"phases"`
	Payload      JSONB           `gorm:"type:jsonb;default:'{}'" json:"payload"`
	AssignedUser string          `json:"assigned_user,omitempty"`
	Watchers     pq.StringArray  `gorm:"type:text[]" json:"watchers,omitempty"`
	Comments     []CaseComment   `gorm:"foreignKey:CaseID" json:"comments,omitempty"`
	Timeline     []TimelineEntry `gorm:"foreignKey:CaseID" json:"timeline,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Case) TableName() string {
	return "cases"
}

// SegregationRef is the FIFO partition key for every event about this case.
func (c *Case) SegregationRef() string {
	return c.CaseRef + "-" + c.WorkflowCode
}

// FindTask locates a task by code anywhere in the snapshot.
func (c *Case) FindTask(taskCode string) *CaseTask {
	for pi := range c.Phases {
		for si := range c.Phases[pi].Stages {
			for gi := range c.Phases[pi].Stages[si].TaskGroups {
				group := &c.Phases[pi].Stages[si].TaskGroups[gi]
				for ti := range group.Tasks {
					if group.Tasks[ti].Code == taskCode {
						return &group.Tasks[ti]
					}
				}
			}
		}
	}
	return nil
}

// StageTaskGroups returns the task groups of the stage the case currently
// sits in, or nil when the position's stage carries none.
func (c *Case) StageTaskGroups() []CaseTaskGroup {
	for pi := range c.Phases {
		if c.Phases[pi].Code != c.Position.PhaseCode {
			continue
		}
		for si := range c.Phases[pi].Stages {
			if c.Phases[pi].Stages[si].Code == c.Position.StageCode {
				return c.Phases[pi].Stages[si].TaskGroups
			}
		}
	}
	return nil
}

// MandatoryTasksComplete reports whether every mandatory task in the current
// stage's task groups is complete.
func (c *Case) MandatoryTasksComplete() bool {
	for _, group := range c.StageTaskGroups() {
		for _, task := range group.Tasks {
			if task.Mandatory && !task.Complete {
				return false
			}
		}
	}
	return true
}

// Record appends a timeline entry. The timeline is append-only.
func (c *Case) Record(kind, actor, message string, details JSONB) {
	c.Timeline = append(c.Timeline, TimelineEntry{
		CaseID:    c.ID,
		Kind:      kind,
		Actor:     actor,
		Message:   message,
		Details:   details,
		CreatedAt: time.Now(),
	})
}

// MoveTo repositions the case and records the transition.
func (c *Case) MoveTo(target Position, actor, actionCode string) {
	from := c.Position
	c.Position = target
	c.Record(TimelineTransition, actor, actionCode, JSONB{
		"from": from.String(),
		"to":   target.String(),
	})
}

// CompleteTask marks the named task complete and records it. It returns
// false when the task is absent from the snapshot.
func (c *Case) CompleteTask(taskCode, actor string) bool {
	task := c.FindTask(taskCode)
	if task == nil {
		return false
	}
	now := time.Now()
	task.Complete = true
	task.CompletedBy = actor
	task.CompletedAt = &now
	c.Record(TimelineTask, actor, "completed "+taskCode, nil)
	return true
}

// ReopenTask clears the completion state of the named task.
func (c *Case) ReopenTask(taskCode, actor string) bool {
	task := c.FindTask(taskCode)
	if task == nil {
		return false
	}
	task.Complete = false
	task.CompletedBy = ""
	task.CompletedAt = nil
	c.Record(TimelineTask, actor, "reopened "+taskCode, nil)
	return true
}

// AddWatcher subscribes a user to the case's outbound notifications. An
// existing watcher or an empty user is a no-op.
func (c *Case) AddWatcher(user string) bool {
	if user == "" {
		return false
	}
	for _, watcher := range c.Watchers {
		if watcher == user {
			return false
		}
	}
	c.Watchers = append(c.Watchers, user)
	return true
}

// AddComment appends a comment and records it.
func (c *Case) AddComment(author, body, actionCode string) {
	c.Comments = append(c.Comments, CaseComment{
		CaseID:     c.ID,
		Author:     author,
		Body:       body,
		ActionCode: actionCode,
		CreatedAt:  time.Now(),
	})
	c.Record(TimelineComment, author, body, nil)
}

// MergePayload overlays the given business data onto the case payload.
func (c *Case) MergePayload(data JSONB) {
	if c.Payload == nil {
		c.Payload = JSONB{}
	}
	for key, value := range data {
		c.Payload[key] = value
	}
}
