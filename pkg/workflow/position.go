// Package workflow implements the position state machine: pure lookups and
// transition checks over a workflow definition, no I/O.
package workflow

import (
	"github.com/grantway/grantway/pkg/errdefs"
	"github.com/grantway/grantway/pkg/model"
)

// InitialPosition is the first phase, first stage, first status in
// definition order.
func InitialPosition(def *model.WorkflowDefinition) (model.Position, error) {
	if len(def.Phases) == 0 || len(def.Phases[0].Stages) == 0 || len(def.Phases[0].Stages[0].Statuses) == 0 {
		return model.Position{}, errdefs.InvalidInput("workflow %s has no initial status", def.Code)
	}
	phase := def.Phases[0]
	stage := phase.Stages[0]
	return model.Position{
		PhaseCode:  phase.Code,
		StageCode:  stage.Code,
		StatusCode: stage.Statuses[0].Code,
	}, nil
}

// CurrentPhaseNode resolves the phase a position points at. A miss means
// the case and its workflow definition have diverged.
func CurrentPhaseNode(def *model.WorkflowDefinition, pos model.Position) (*model.PhaseNode, error) {
	for i := range def.Phases {
		if def.Phases[i].Code == pos.PhaseCode {
			return &def.Phases[i], nil
		}
	}
	return nil, errdefs.NotFound("phase %s not in workflow %s", pos.PhaseCode, def.Code)
}

func CurrentStageNode(def *model.WorkflowDefinition, pos model.Position) (*model.StageNode, error) {
	phase, err := CurrentPhaseNode(def, pos)
	if err != nil {
		return nil, err
	}
	for i := range phase.Stages {
		if phase.Stages[i].Code == pos.StageCode {
			return &phase.Stages[i], nil
		}
	}
	return nil, errdefs.NotFound("stage %s not in phase %s of workflow %s", pos.StageCode, pos.PhaseCode, def.Code)
}

func CurrentStatusNode(def *model.WorkflowDefinition, pos model.Position) (*model.StatusNode, error) {
	stage, err := CurrentStageNode(def, pos)
	if err != nil {
		return nil, err
	}
	for i := range stage.Statuses {
		if stage.Statuses[i].Code == pos.StatusCode {
			return &stage.Statuses[i], nil
		}
	}
	return nil, errdefs.NotFound("status %s not in stage %s of workflow %s", pos.StatusCode, pos.StageCode, def.Code)
}

// TaskState answers whether every mandatory task in the current stage is
// complete. The case aggregate satisfies it.
type TaskState interface {
	MandatoryTasksComplete() bool
}

// ValidateTransition locates the transition on the current status whose
// action code matches and checks its guards: a mandatory comment when the
// action declares one, and mandatory-task completion when the action sets
// check_tasks. Automatic transitions (nil action) are not reachable here.
func ValidateTransition(def *model.WorkflowDefinition, pos model.Position, tasks TaskState, actionCode, comment string) (*model.Transition, error) {
	status, err := CurrentStatusNode(def, pos)
	if err != nil {
		return nil, err
	}
	var transition *model.Transition
	for i := range status.Transitions {
		if status.Transitions[i].Action != nil && status.Transitions[i].Action.Code == actionCode {
			transition = &status.Transitions[i]
			break
		}
	}
	if transition == nil {
		return nil, errdefs.NotFound("action %s not available from status %s", actionCode, pos.StatusCode)
	}
	action := transition.Action
	if action.Comment != nil && action.Comment.Mandatory && comment == "" {
		return nil, errdefs.InvalidInput("action %s requires a comment", actionCode)
	}
	if action.CheckTasks && tasks != nil && !tasks.MandatoryTasksComplete() {
		return nil, errdefs.PreconditionFailed("action %s blocked by incomplete mandatory tasks", actionCode)
	}
	return transition, nil
}

// ApplyTransition returns the transition's target verbatim. Task completion
// state is managed elsewhere; this function never touches it.
func ApplyTransition(transition *model.Transition) model.Position {
	return transition.TargetPosition
}
