// Package flow implements the branching diagnostic flow engine: schema
// validation and auto-repair, branch resolution, emergency time-trigger
// detection, and the session state machine that orchestrates them.
package flow

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
)

// ValidationResult is the outcome of structural validation on a flow document.
type ValidationResult struct {
	IsValid bool         `json:"isValid"`
	Data    *models.Flow `json:"data,omitempty"`
	Errors  []string     `json:"errors"`
}

// Validate performs structural validation on a flow document: required
// fields, enum membership, UUID-shaped id, step id uniqueness. It does not
// verify graph reachability or dangling nextStepId references; drafts in
// progress are allowed to dangle. Use CheckGraph for the strict check.
func Validate(doc *models.Flow) ValidationResult {
	var errs []string
	if doc == nil {
		return ValidationResult{IsValid: false, Errors: []string{"flow document is required"}}
	}
	if doc.ID == "" {
		errs = append(errs, "id is required")
	} else if uuid.Validate(doc.ID) != nil {
		errs = append(errs, fmt.Sprintf("id %q is not a UUID", doc.ID))
	}
	if doc.Title == "" {
		errs = append(errs, "title is required")
	}
	if doc.Steps == nil {
		errs = append(errs, "steps must be present (may be empty)")
	}
	if doc.TriggerKeywords == nil {
		errs = append(errs, "triggerKeywords must be present (may be empty)")
	}

	seen := make(map[string]bool, len(doc.Steps))
	startCount := 0
	for i := range doc.Steps {
		step := &doc.Steps[i]
		if step.ID == "" {
			errs = append(errs, fmt.Sprintf("step %d: id is required", i))
		} else if seen[step.ID] {
			errs = append(errs, fmt.Sprintf("step %d: duplicate id %q", i, step.ID))
		} else {
			seen[step.ID] = true
		}
		if step.Type == models.StepTypeStart {
			startCount++
		}
		if err := step.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("step %d: %v", i, err))
		}
		if (step.Type == models.StepTypeDecision || step.Type == models.StepTypeCondition) && len(step.Options) == 0 {
			errs = append(errs, fmt.Sprintf("step %d: %s steps must carry options", i, step.Type))
		}
		if step.QuestionType == models.QuestionTypeChoice && len(step.Choices) == 0 && len(step.Options) == 0 {
			errs = append(errs, fmt.Sprintf("step %d: choice questions must carry choices", i))
		}
	}
	if startCount > 1 {
		errs = append(errs, fmt.Sprintf("flow has %d start steps, at most one allowed", startCount))
	}

	if len(errs) > 0 {
		slog.Debug("Validate: flow document failed validation", "flowID", doc.ID, "errors", len(errs))
		return ValidationResult{IsValid: false, Errors: errs}
	}
	return ValidationResult{IsValid: true, Data: doc, Errors: []string{}}
}

// AutoFix repairs a malformed flow document on a best-effort basis and never
// fails. The input is not mutated; the repaired copy is returned. AutoFix is
// idempotent: applying it twice yields the same document, modulo the id
// generated on the first pass for a flow that had none.
func AutoFix(doc *models.Flow) *models.Flow {
	fixed := models.Flow{}
	if doc != nil {
		fixed = *doc
	}
	if fixed.ID == "" {
		fixed.ID = uuid.NewString()
	}
	if fixed.Title == "" {
		fixed.Title = models.DefaultFlowTitle
	}
	if fixed.TriggerKeywords == nil {
		fixed.TriggerKeywords = []string{}
	} else {
		fixed.TriggerKeywords = append([]string(nil), fixed.TriggerKeywords...)
	}
	if fixed.Steps == nil {
		fixed.Steps = []models.Step{}
	} else {
		fixed.Steps = append([]models.Step(nil), fixed.Steps...)
	}

	for i := range fixed.Steps {
		step := &fixed.Steps[i]
		if step.ID == "" {
			step.ID = fmt.Sprintf("step_%d", i+1)
		}
		if step.Title == "" {
			step.Title = fmt.Sprintf("Step %d", i+1)
		}
		// Message is the authoritative prompt and description its alias;
		// cross-fill whichever is empty.
		if step.Message == "" && step.Description != "" {
			step.Message = step.Description
		}
		if step.Description == "" && step.Message != "" {
			step.Description = step.Message
		}
		if step.Type == "" {
			step.Type = models.StepTypeStep
		}
		if step.Options == nil {
			step.Options = []models.Option{}
		} else {
			step.Options = append([]models.Option(nil), step.Options...)
		}
		for j := range step.Options {
			if step.Options[j].ConditionType == "" {
				step.Options[j].ConditionType = models.ConditionTypeOther
			}
		}
		if step.Choices != nil {
			step.Choices = append([]string(nil), step.Choices...)
		}
	}
	return &fixed
}

// CheckGraph reports dangling nextStepId references and steps unreachable
// from the entry step. This is the opt-in strict check for editor tooling;
// Validate deliberately skips it.
func CheckGraph(doc *models.Flow) []string {
	var issues []string
	if doc == nil || len(doc.Steps) == 0 {
		return issues
	}

	ids := make(map[string]bool, len(doc.Steps))
	for i := range doc.Steps {
		ids[doc.Steps[i].ID] = true
	}

	for i := range doc.Steps {
		step := &doc.Steps[i]
		for j := range step.Options {
			next := step.Options[j].NextStepID
			if next != "" && !ids[next] {
				issues = append(issues, fmt.Sprintf("step %q option %d references unknown step %q", step.ID, j, next))
			}
		}
	}

	// Reachability walk from the entry step, following option edges and the
	// positional fallback the resolver applies when no option matches.
	entry := entryStepID(doc)
	reached := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		idx := doc.StepIndex(id)
		if idx < 0 {
			continue
		}
		step := &doc.Steps[idx]
		var nexts []string
		for j := range step.Options {
			if !step.Options[j].IsTerminal && step.Options[j].NextStepID != "" {
				nexts = append(nexts, step.Options[j].NextStepID)
			}
		}
		if idx+1 < len(doc.Steps) {
			nexts = append(nexts, doc.Steps[idx+1].ID)
		}
		for _, n := range nexts {
			if ids[n] && !reached[n] {
				reached[n] = true
				queue = append(queue, n)
			}
		}
	}
	for i := range doc.Steps {
		if !reached[doc.Steps[i].ID] {
			issues = append(issues, fmt.Sprintf("step %q is unreachable from the entry step", doc.Steps[i].ID))
		}
	}
	return issues
}

// entryStepID returns the id of the flow's start step, or the first step
// when no start marker exists.
func entryStepID(doc *models.Flow) string {
	for i := range doc.Steps {
		if doc.Steps[i].Type == models.StepTypeStart {
			return doc.Steps[i].ID
		}
	}
	return doc.Steps[0].ID
}
