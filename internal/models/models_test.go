package models

import (
	"errors"
	"testing"
)

func TestIsValidStepType(t *testing.T) {
	valid := []StepType{StepTypeStart, StepTypeStep, StepTypeDecision, StepTypeCondition, StepTypeEnd}
	for _, st := range valid {
		if !IsValidStepType(st) {
			t.Errorf("expected %q to be valid", st)
		}
	}
	if IsValidStepType("banner") {
		t.Error("unknown step type should be invalid")
	}
	if IsValidStepType("") {
		t.Error("empty step type should be invalid")
	}
}

func TestStepValidate_UnknownQuestionType(t *testing.T) {
	s := Step{ID: "s1", Type: StepTypeStep, QuestionType: "slider"}
	err := s.Validate()
	if err == nil {
		t.Fatal("expected validation error for unknown question type")
	}
	if !errors.Is(err, ErrInvalidQuestionType) {
		t.Errorf("expected ErrInvalidQuestionType, got %v", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected error to wrap ErrValidation, got %v", err)
	}
}

func TestStepValidate_OptionConditionType(t *testing.T) {
	s := Step{
		ID:   "s1",
		Type: StepTypeDecision,
		Options: []Option{
			{Text: "ok", ConditionType: ConditionTypeYes},
			{Text: "bad", ConditionType: "maybe"},
		},
	}
	err := s.Validate()
	if !errors.Is(err, ErrInvalidConditionType) {
		t.Errorf("expected ErrInvalidConditionType, got %v", err)
	}
}

func TestOptionTerminal(t *testing.T) {
	cases := []struct {
		name string
		opt  Option
		want bool
	}{
		{"empty next step", Option{}, true},
		{"explicit terminal with next step", Option{IsTerminal: true, NextStepID: "s2"}, true},
		{"plain edge", Option{NextStepID: "s2"}, false},
	}
	for _, c := range cases {
		if got := c.opt.Terminal(); got != c.want {
			t.Errorf("%s: Terminal() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestStepPrompt_MessageWinsOverDescription(t *testing.T) {
	s := Step{Message: "check the brake line", Description: "brake inspection"}
	if got := s.Prompt(); got != "check the brake line" {
		t.Errorf("expected message to win, got %q", got)
	}
	s.Message = ""
	if got := s.Prompt(); got != "brake inspection" {
		t.Errorf("expected description fallback, got %q", got)
	}
}

func TestHasEmergencyTrigger(t *testing.T) {
	s := Step{EmergencyAction: "stop work and call the supervisor"}
	if s.HasEmergencyTrigger() {
		t.Error("action without time limit should not arm the trigger")
	}
	s.TimeLimitMinutes = 20
	if !s.HasEmergencyTrigger() {
		t.Error("action plus time limit should arm the trigger")
	}
}

func TestSessionStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionStatusIdle, SessionStatusRunning, true},
		{SessionStatusIdle, SessionStatusCompleted, false},
		{SessionStatusRunning, SessionStatusEmergencyHalted, true},
		{SessionStatusRunning, SessionStatusCompleted, true},
		{SessionStatusRunning, SessionStatusRunning, true},
		{SessionStatusEmergencyHalted, SessionStatusRunning, true},
		{SessionStatusEmergencyHalted, SessionStatusCompleted, false},
		{SessionStatusCompleted, SessionStatusRunning, true},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestFindStepAndIndex(t *testing.T) {
	f := Flow{Steps: []Step{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	if s := f.FindStep("b"); s == nil || s.ID != "b" {
		t.Errorf("expected to find step b, got %+v", s)
	}
	if s := f.FindStep("zz"); s != nil {
		t.Errorf("expected nil for unknown step, got %+v", s)
	}
	if i := f.StepIndex("c"); i != 2 {
		t.Errorf("expected index 2, got %d", i)
	}
	if i := f.StepIndex("zz"); i != -1 {
		t.Errorf("expected -1 for unknown step, got %d", i)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	resp := Success(map[string]string{"id": "flow_1"})
	if resp.Status != string(APIStatusOK) {
		t.Errorf("expected ok status, got %s", resp.Status)
	}
	if resp.Result == nil {
		t.Error("expected result to be set")
	}

	errResp := Error("flow title is required")
	if errResp.Status != string(APIStatusError) {
		t.Errorf("expected error status, got %s", errResp.Status)
	}
	if errResp.Message != "flow title is required" {
		t.Errorf("unexpected message: %s", errResp.Message)
	}
}
