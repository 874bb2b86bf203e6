package workflow

import (
	"testing"

	"github.com/grantway/grantway/pkg/errdefs"
	"github.com/grantway/grantway/pkg/model"
)

// grantDefinition mirrors a typical grant-application workflow: submission,
// assessment with review tasks, then agreement generation.
func grantDefinition() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		Code: "GRANT_STANDARD",
		Name: "Standard grant application",
		Phases: []model.PhaseNode{
			{
				Code: "APPLICATION",
				Stages: []model.StageNode{
					{
						Code: "SUBMISSION",
						Statuses: []model.StatusNode{
							{
								Code:        "DRAFT",
								Interactive: true,
								Transitions: []model.Transition{
									{
										TargetPosition: model.Position{PhaseCode: "ASSESSMENT", StageCode: "REVIEW", StatusCode: "IN_REVIEW"},
										Action:         &model.Action{Code: "SUBMIT", Name: "Submit application"},
									},
								},
							},
						},
					},
				},
			},
			{
				Code: "ASSESSMENT",
				Stages: []model.StageNode{
					{
						Code: "REVIEW",
						Statuses: []model.StatusNode{
							{
								Code:        "IN_REVIEW",
								Interactive: true,
								Transitions: []model.Transition{
									{
										TargetPosition: model.Position{PhaseCode: "AGREEMENT", StageCode: "GENERATION", StatusCode: "AGREEMENT_GENERATING"},
										Action:         &model.Action{Code: "APPROVE", Name: "Approve", CheckTasks: true},
									},
									{
										TargetPosition: model.Position{PhaseCode: "ASSESSMENT", StageCode: "REVIEW", StatusCode: "REJECTED"},
										Action: &model.Action{
											Code:    "REJECT",
											Name:    "Reject",
											Comment: &model.CommentSpec{Mandatory: true, Label: "Rejection reason"},
										},
									},
								},
							},
							{Code: "REJECTED", Interactive: true},
						},
						TaskGroups: []model.TaskGroupDef{
							{
								Code: "ELIGIBILITY",
								Tasks: []model.TaskDef{
									{Code: "CHECK_BUDGET", Mandatory: true},
									{Code: "CHECK_REFERENCES", Mandatory: false},
								},
							},
						},
					},
				},
			},
			{
				Code: "AGREEMENT",
				Stages: []model.StageNode{
					{
						Code: "GENERATION",
						Statuses: []model.StatusNode{
							{
								Code:        "AGREEMENT_GENERATING",
								Interactive: false,
								Transitions: []model.Transition{
									// System waypoint: leaves only via an automated event.
									{TargetPosition: model.Position{PhaseCode: "AGREEMENT", StageCode: "GENERATION", StatusCode: "AGREEMENT_READY"}},
								},
							},
							{Code: "AGREEMENT_READY", Interactive: true},
						},
					},
				},
			},
		},
	}
}

func reviewCase(def *model.WorkflowDefinition) *model.Case {
	return &model.Case{
		CaseRef:      "GRANT-1042",
		WorkflowCode: def.Code,
		Position:     model.Position{PhaseCode: "ASSESSMENT", StageCode: "REVIEW", StatusCode: "IN_REVIEW"},
		Phases:       model.SnapshotPhases(def),
	}
}

func TestInitialPosition(t *testing.T) {
	pos, err := InitialPosition(grantDefinition())
	if err != nil {
		t.Fatalf("InitialPosition() error: %v", err)
	}

	expected := model.Position{PhaseCode: "APPLICATION", StageCode: "SUBMISSION", StatusCode: "DRAFT"}
	if pos != expected {
		t.Fatalf("expected %v, got %v", expected, pos)
	}
}

func TestInitialPositionEmptyDefinition(t *testing.T) {
	_, err := InitialPosition(&model.WorkflowDefinition{Code: "EMPTY"})
	if !errdefs.IsInvalidInput(err) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestCurrentStatusNode(t *testing.T) {
	def := grantDefinition()

	node, err := CurrentStatusNode(def, model.Position{PhaseCode: "ASSESSMENT", StageCode: "REVIEW", StatusCode: "IN_REVIEW"})
	if err != nil {
		t.Fatalf("CurrentStatusNode() error: %v", err)
	}
	if node.Code != "IN_REVIEW" {
		t.Fatalf("expected IN_REVIEW, got %q", node.Code)
	}
	if node.Interactive != true {
		t.Fatalf("expected interactive status")
	}
}

func TestCurrentStatusNodeCorruptPosition(t *testing.T) {
	def := grantDefinition()

	cases := []model.Position{
		{PhaseCode: "MISSING", StageCode: "REVIEW", StatusCode: "IN_REVIEW"},
		{PhaseCode: "ASSESSMENT", StageCode: "MISSING", StatusCode: "IN_REVIEW"},
		{PhaseCode: "ASSESSMENT", StageCode: "REVIEW", StatusCode: "MISSING"},
	}
	for _, pos := range cases {
		if _, err := CurrentStatusNode(def, pos); !errdefs.IsNotFound(err) {
			t.Fatalf("expected not found for %v, got %v", pos, err)
		}
	}
}

func TestValidateTransitionUnknownAction(t *testing.T) {
	def := grantDefinition()
	c := reviewCase(def)

	_, err := ValidateTransition(def, c.Position, c, "ESCALATE", "")
	if !errdefs.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestValidateTransitionMandatoryComment(t *testing.T) {
	def := grantDefinition()
	c := reviewCase(def)

	_, err := ValidateTransition(def, c.Position, c, "REJECT", "")
	if !errdefs.IsInvalidInput(err) {
		t.Fatalf("expected invalid input error, got %v", err)
	}

	if _, err := ValidateTransition(def, c.Position, c, "REJECT", "incomplete budget"); err != nil {
		t.Fatalf("expected comment to satisfy the action, got %v", err)
	}
}

func TestValidateTransitionChecksTasks(t *testing.T) {
	def := grantDefinition()
	c := reviewCase(def)

	_, err := ValidateTransition(def, c.Position, c, "APPROVE", "")
	if !errdefs.IsPreconditionFailed(err) {
		t.Fatalf("expected precondition failed with incomplete mandatory task, got %v", err)
	}

	if !c.CompleteTask("CHECK_BUDGET", "reviewer") {
		t.Fatalf("expected CHECK_BUDGET to exist in the snapshot")
	}

	transition, err := ValidateTransition(def, c.Position, c, "APPROVE", "")
	if err != nil {
		t.Fatalf("expected transition after completing mandatory task, got %v", err)
	}

	target := ApplyTransition(transition)
	if target.StatusCode != "AGREEMENT_GENERATING" {
		t.Fatalf("expected AGREEMENT_GENERATING, got %q", target.StatusCode)
	}
}

func TestOptionalTasksDoNotBlock(t *testing.T) {
	def := grantDefinition()
	c := reviewCase(def)
	c.CompleteTask("CHECK_BUDGET", "reviewer")

	// CHECK_REFERENCES stays incomplete but is not mandatory.
	if _, err := ValidateTransition(def, c.Position, c, "APPROVE", ""); err != nil {
		t.Fatalf("optional task should not block transition, got %v", err)
	}
}

func TestAutomaticTransitionNotReachableByAction(t *testing.T) {
	def := grantDefinition()
	pos := model.Position{PhaseCode: "AGREEMENT", StageCode: "GENERATION", StatusCode: "AGREEMENT_GENERATING"}

	if _, err := ValidateTransition(def, pos, nil, "", ""); !errdefs.IsNotFound(err) {
		t.Fatalf("expected nil-action transition to be invisible to action lookup, got %v", err)
	}
}

func TestApplyTransitionRoundTrip(t *testing.T) {
	def := grantDefinition()
	c := reviewCase(def)
	c.CompleteTask("CHECK_BUDGET", "reviewer")

	transition, err := ValidateTransition(def, c.Position, c, "APPROVE", "")
	if err != nil {
		t.Fatalf("ValidateTransition() error: %v", err)
	}

	target := ApplyTransition(transition)
	node, err := CurrentStatusNode(def, target)
	if err != nil {
		t.Fatalf("CurrentStatusNode() after transition error: %v", err)
	}
	if node.Code != transition.TargetPosition.StatusCode {
		t.Fatalf("expected %q, got %q", transition.TargetPosition.StatusCode, node.Code)
	}
}

func TestApplyTransitionDoesNotTouchTasks(t *testing.T) {
	def := grantDefinition()
	c := reviewCase(def)
	c.CompleteTask("CHECK_BUDGET", "reviewer")

	transition, err := ValidateTransition(def, c.Position, c, "APPROVE", "")
	if err != nil {
		t.Fatalf("ValidateTransition() error: %v", err)
	}
	ApplyTransition(transition)

	task := c.FindTask("CHECK_BUDGET")
	if task == nil || !task.Complete {
		t.Fatalf("expected task completion state to survive the transition")
	}
}
