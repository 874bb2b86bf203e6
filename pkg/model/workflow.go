package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Position points at a single status node inside a workflow definition.
type Position struct {
	PhaseCode  string `json:"phase_code"`
	StageCode  string `json:"stage_code"`
	StatusCode string `json:"status_code"`
}

func (p Position) String() string {
	return fmt.Sprintf("%s/%s/%s", p.PhaseCode, p.StageCode, p.StatusCode)
}

// CommentSpec declares whether an action demands an operator comment.
type CommentSpec struct {
	Mandatory bool   `json:"mandatory"`
	Label     string `json:"label,omitempty"`
}

// Action is the human-facing trigger attached to a transition. A nil action
// on a transition marks it as automatic: reachable only by a direct position
// set from an inbound supplementary-data event.
type Action struct {
	Code       string       `json:"code"`
	Name       string       `json:"name"`
	CheckTasks bool         `json:"check_tasks"`
	Comment    *CommentSpec `json:"comment,omitempty"`
}

type Transition struct {
	TargetPosition Position `json:"target_position"`
	Action         *Action  `json:"action,omitempty"`
}

type StatusNode struct {
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	Interactive bool         `json:"interactive"`
	Transitions []Transition `json:"transitions,omitempty"`
}

type TaskDef struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Mandatory bool   `json:"mandatory"`
}

type TaskGroupDef struct {
	Code  string    `json:"code"`
	Name  string    `json:"name"`
	Tasks []TaskDef `json:"tasks,omitempty"`
}

type StageNode struct {
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	Statuses   []StatusNode   `json:"statuses,omitempty"`
	TaskGroups []TaskGroupDef `json:"task_groups,omitempty"`
}

type PhaseNode struct {
	Code   string      `json:"code"`
	Name   string      `json:"name"`
	Stages []StageNode `json:"stages,omitempty"`
}

// WorkflowDefinition is the read-only phase/stage/status graph a case moves
// through. Case processing never mutates it.
type WorkflowDefinition struct {
	Code   string      `json:"code"`
	Name   string      `json:"name"`
	Phases []PhaseNode `json:"phases"`
}

func (d WorkflowDefinition) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *WorkflowDefinition) Scan(value interface{}) error {
	if value == nil {
		*d = WorkflowDefinition{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan workflow definition: %v", value)
	}
	return json.Unmarshal(bytes, d)
}

func (WorkflowDefinition) GormDataType() string {
	return "jsonb"
}

// Workflow is the stored envelope around a definition.
type Workflow struct {
	Code       string             `gorm:"primaryKey"`
	Name       string             `gorm:"not null"`
	Definition WorkflowDefinition `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Workflow) TableName() string {
	return "workflows"
}
