package flow

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
)

func TestAutoFix_EmptyDocument(t *testing.T) {
	fixed := AutoFix(&models.Flow{})

	if fixed.ID == "" {
		t.Error("expected a generated id")
	}
	if err := uuid.Validate(fixed.ID); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", fixed.ID, err)
	}
	if fixed.Title != "untitled flow" {
		t.Errorf("expected placeholder title, got %q", fixed.Title)
	}
	if fixed.Description != "" {
		t.Errorf("expected empty description, got %q", fixed.Description)
	}
	if fixed.Steps == nil || len(fixed.Steps) != 0 {
		t.Errorf("expected empty steps slice, got %v", fixed.Steps)
	}
	if fixed.TriggerKeywords == nil || len(fixed.TriggerKeywords) != 0 {
		t.Errorf("expected empty trigger keywords slice, got %v", fixed.TriggerKeywords)
	}
}

func TestAutoFix_StepDefaults(t *testing.T) {
	doc := &models.Flow{
		ID:    uuid.NewString(),
		Title: "engine will not start",
		Steps: []models.Step{
			{Description: "check the battery"},
			{Message: "inspect the fuel line", Options: []models.Option{{Text: "done", NextStepID: "step_1"}}},
		},
	}
	fixed := AutoFix(doc)

	first := fixed.Steps[0]
	if first.ID != "step_1" {
		t.Errorf("expected fabricated id step_1, got %q", first.ID)
	}
	if first.Title != "Step 1" {
		t.Errorf("expected default title, got %q", first.Title)
	}
	if first.Message != "check the battery" {
		t.Errorf("expected message cross-filled from description, got %q", first.Message)
	}
	if first.Type != models.StepTypeStep {
		t.Errorf("expected default step type, got %q", first.Type)
	}
	if first.Options == nil {
		t.Error("expected options coerced to empty slice")
	}

	second := fixed.Steps[1]
	if second.ID != "step_2" {
		t.Errorf("expected fabricated id step_2, got %q", second.ID)
	}
	if second.Description != "inspect the fuel line" {
		t.Errorf("expected description cross-filled from message, got %q", second.Description)
	}
	if second.Options[0].ConditionType != models.ConditionTypeOther {
		t.Errorf("expected default condition type, got %q", second.Options[0].ConditionType)
	}
}

func TestAutoFix_Idempotent(t *testing.T) {
	doc := &models.Flow{
		Steps: []models.Step{
			{Description: "only description"},
			{Message: "only message", Options: []models.Option{{Text: "next"}}},
		},
	}
	once := AutoFix(doc)
	twice := AutoFix(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("autoFix is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestAutoFix_DoesNotMutateInput(t *testing.T) {
	doc := &models.Flow{Steps: []models.Step{{Description: "original"}}}
	_ = AutoFix(doc)
	if doc.Title != "" {
		t.Errorf("input title was mutated: %q", doc.Title)
	}
	if doc.Steps[0].ID != "" {
		t.Errorf("input step id was mutated: %q", doc.Steps[0].ID)
	}
	if doc.Steps[0].Message != "" {
		t.Errorf("input step message was mutated: %q", doc.Steps[0].Message)
	}
}

func TestValidate_ValidDocument(t *testing.T) {
	doc := AutoFix(&models.Flow{
		Title: "brake noise",
		Steps: []models.Step{
			{ID: "s1", Title: "first", Type: models.StepTypeStart},
			{ID: "s2", Title: "second", Type: models.StepTypeEnd},
		},
	})
	result := Validate(doc)
	if !result.IsValid {
		t.Fatalf("expected valid document, got errors: %v", result.Errors)
	}
	if result.Data == nil {
		t.Error("expected data to be returned for a valid document")
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	doc := &models.Flow{
		ID: "not-a-uuid",
		Steps: []models.Step{
			{ID: "s1", Type: models.StepTypeDecision}, // decision without options
			{ID: "s1", Type: "banner"},                // duplicate id, unknown type
		},
		TriggerKeywords: []string{},
	}
	result := Validate(doc)
	if result.IsValid {
		t.Fatal("expected invalid document")
	}
	wantFragments := []string{"not a UUID", "title is required", "duplicate id", "must carry options", "invalid step type"}
	for _, want := range wantFragments {
		found := false
		for _, e := range result.Errors {
			if strings.Contains(e, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected an error containing %q, got %v", want, result.Errors)
		}
	}
}

func TestValidate_NilDocument(t *testing.T) {
	result := Validate(nil)
	if result.IsValid {
		t.Fatal("nil document must not validate")
	}
}

func TestValidate_SkipsGraphReachability(t *testing.T) {
	// A dangling nextStepId is a draft, not a validation failure.
	doc := AutoFix(&models.Flow{
		Title: "draft flow",
		Steps: []models.Step{
			{ID: "s1", Title: "first", Options: []models.Option{{Text: "go", NextStepID: "missing"}}},
		},
	})
	result := Validate(doc)
	if !result.IsValid {
		t.Fatalf("dangling reference must not fail validation, got %v", result.Errors)
	}
}

func TestCheckGraph_DanglingReference(t *testing.T) {
	doc := AutoFix(&models.Flow{
		Title: "strict check",
		Steps: []models.Step{
			{ID: "s1", Title: "first", Options: []models.Option{{Text: "go", NextStepID: "missing"}}},
			{ID: "s2", Title: "second"},
		},
	})
	issues := CheckGraph(doc)
	found := false
	for _, issue := range issues {
		if strings.Contains(issue, `unknown step "missing"`) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a dangling reference issue, got %v", issues)
	}
}

func TestCheckGraph_UnreachableStep(t *testing.T) {
	// The walk begins at the start marker, so a step positioned before it
	// with no inbound edge is unreachable.
	doc := AutoFix(&models.Flow{
		Title: "unreachable",
		Steps: []models.Step{
			{ID: "preamble", Title: "never entered"},
			{ID: "s1", Title: "entry", Type: models.StepTypeStart},
			{ID: "s2", Title: "second"},
		},
	})
	issues := CheckGraph(doc)
	found := false
	for _, issue := range issues {
		if strings.Contains(issue, `"preamble" is unreachable`) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an unreachable-step issue for preamble, got %v", issues)
	}
}

func TestCheckGraph_CleanFlowHasNoIssues(t *testing.T) {
	doc := AutoFix(&models.Flow{
		Title: "clean",
		Steps: []models.Step{
			{ID: "s1", Title: "first", Options: []models.Option{{Text: "go", NextStepID: "s2"}}},
			{ID: "s2", Title: "second", Options: []models.Option{{Text: "stop", IsTerminal: true}}},
		},
	})
	if issues := CheckGraph(doc); len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
}
