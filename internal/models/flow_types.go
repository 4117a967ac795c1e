package models

// StepType identifies the structural role of a step within a flow graph.
type StepType string

const (
	// StepTypeStart marks the single entry node of a flow.
	StepTypeStart StepType = "start"
	// StepTypeStep is a plain procedural node; may optionally branch.
	StepTypeStep StepType = "step"
	// StepTypeDecision is a branching node driven by a user decision.
	StepTypeDecision StepType = "decision"
	// StepTypeCondition is a branching node driven by an observed condition.
	StepTypeCondition StepType = "condition"
	// StepTypeEnd marks a traversal sink.
	StepTypeEnd StepType = "end"
)

// IsValidStepType checks if the given step type is supported. Unknown
// variants fail validation rather than rendering as plain text.
func IsValidStepType(t StepType) bool {
	switch t {
	case StepTypeStart, StepTypeStep, StepTypeDecision, StepTypeCondition, StepTypeEnd:
		return true
	default:
		return false
	}
}

// QuestionType identifies how a question-style step collects its answer.
type QuestionType string

const (
	// QuestionTypeText collects a free-form text answer.
	QuestionTypeText QuestionType = "text"
	// QuestionTypeChoice collects one of the step's declared choices.
	QuestionTypeChoice QuestionType = "choice"
	// QuestionTypeLocation collects a location description.
	QuestionTypeLocation QuestionType = "location"
	// QuestionTypeTime collects a time or duration description.
	QuestionTypeTime QuestionType = "time"
)

// IsValidQuestionType checks if the given question type is supported.
func IsValidQuestionType(t QuestionType) bool {
	switch t {
	case QuestionTypeText, QuestionTypeChoice, QuestionTypeLocation, QuestionTypeTime:
		return true
	default:
		return false
	}
}

// ConditionType is a coarse classification of an option used by generic renderers.
type ConditionType string

const (
	// ConditionTypeYes marks an affirmative option.
	ConditionTypeYes ConditionType = "yes"
	// ConditionTypeNo marks a negative option.
	ConditionTypeNo ConditionType = "no"
	// ConditionTypeOther marks any other option; the auto-repair default.
	ConditionTypeOther ConditionType = "other"
)

// IsValidConditionType checks if the given condition type is supported.
func IsValidConditionType(t ConditionType) bool {
	switch t {
	case ConditionTypeYes, ConditionTypeNo, ConditionTypeOther:
		return true
	default:
		return false
	}
}
