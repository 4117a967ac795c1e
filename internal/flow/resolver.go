package flow

import (
	"log/slog"
	"strings"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
)

// MatchFunc reports whether an answer selects an option. Callers with
// structured (choice) answers may supply their own equality test; the
// default is the substring match below.
type MatchFunc func(option *models.Option, answer string) bool

// DefaultMatch is the stock matching rule: the lower-cased answer contains
// the lower-cased option condition as a substring, or, for options with
// display text, the answer equals the option text (case-insensitive). Flows
// are authored against these substring semantics; do not widen them.
func DefaultMatch(option *models.Option, answer string) bool {
	if option.Condition != "" &&
		strings.Contains(strings.ToLower(answer), strings.ToLower(option.Condition)) {
		return true
	}
	return option.Text != "" && strings.EqualFold(strings.TrimSpace(answer), option.Text)
}

// Resolve decides the next step id for an answer using DefaultMatch.
// An empty return value signals that static traversal is finished and the
// caller should fall back to "flow complete" handling.
func Resolve(doc *models.Flow, currentStepID, answer string) string {
	return ResolveWith(doc, currentStepID, answer, DefaultMatch)
}

// ResolveWith decides the next step id for an answer:
//
//  1. Options are scanned in declared order; the first match wins, not the
//     best match. A matching terminal option ends the flow.
//  2. When no option matches, the step immediately following the current one
//     in the flow's step array is the fallback, regardless of graph edges.
//
// Steps with no options at all end static traversal immediately. The
// two-tier policy and its order dependence are deliberate; downstream flows
// rely on first-match predictability.
func ResolveWith(doc *models.Flow, currentStepID, answer string, match MatchFunc) string {
	if doc == nil {
		return ""
	}
	if match == nil {
		match = DefaultMatch
	}
	idx := doc.StepIndex(currentStepID)
	if idx < 0 {
		slog.Debug("Resolve: current step not found in flow", "flowID", doc.ID, "stepID", currentStepID)
		return ""
	}
	current := &doc.Steps[idx]
	if len(current.Options) == 0 {
		slog.Debug("Resolve: step has no options, flow complete", "flowID", doc.ID, "stepID", currentStepID)
		return ""
	}

	for i := range current.Options {
		opt := &current.Options[i]
		if !match(opt, answer) {
			continue
		}
		if opt.Terminal() {
			slog.Debug("Resolve: matched terminal option", "flowID", doc.ID, "stepID", currentStepID, "option", i)
			return ""
		}
		slog.Debug("Resolve: matched option", "flowID", doc.ID, "stepID", currentStepID, "option", i, "next", opt.NextStepID)
		return opt.NextStepID
	}

	if idx+1 < len(doc.Steps) {
		next := doc.Steps[idx+1].ID
		slog.Debug("Resolve: no option matched, positional fallback", "flowID", doc.ID, "stepID", currentStepID, "next", next)
		return next
	}
	slog.Debug("Resolve: no option matched and no successor, flow complete", "flowID", doc.ID, "stepID", currentStepID)
	return ""
}
