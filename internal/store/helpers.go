package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
)

// prepareCreate applies the shared create semantics: title required, id
// assigned when absent, createdAt stamped when absent, updatedAt always
// stamped. The input is copied, never mutated.
func prepareCreate(doc *models.Flow) (*models.Flow, error) {
	if doc == nil || strings.TrimSpace(doc.Title) == "" {
		return nil, models.ErrTitleRequired
	}
	prepared := cloneFlow(doc)
	if prepared.ID == "" {
		prepared.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if prepared.CreatedAt.IsZero() {
		prepared.CreatedAt = now
	}
	prepared.UpdatedAt = now
	return prepared, nil
}

// prepareUpdate applies the shared update semantics: title required, the
// path id and document id must match (an empty document id inherits the path
// id), the original creation stamp is preserved, updatedAt is stamped.
func prepareUpdate(id string, doc *models.Flow, createdAt time.Time) (*models.Flow, error) {
	if doc == nil || strings.TrimSpace(doc.Title) == "" {
		return nil, models.ErrTitleRequired
	}
	if doc.ID != "" && doc.ID != id {
		return nil, fmt.Errorf("%w: path %q, document %q", models.ErrIDMismatch, id, doc.ID)
	}
	prepared := cloneFlow(doc)
	prepared.ID = id
	prepared.CreatedAt = createdAt
	if prepared.CreatedAt.IsZero() {
		prepared.CreatedAt = time.Now().UTC()
	}
	prepared.UpdatedAt = time.Now().UTC()
	return prepared, nil
}

// cloneFlow deep-copies a flow document so stored state never aliases
// caller-owned slices.
func cloneFlow(doc *models.Flow) *models.Flow {
	copied := *doc
	if doc.TriggerKeywords != nil {
		copied.TriggerKeywords = append([]string(nil), doc.TriggerKeywords...)
	}
	if doc.Steps != nil {
		copied.Steps = append([]models.Step(nil), doc.Steps...)
		for i := range copied.Steps {
			if doc.Steps[i].Options != nil {
				copied.Steps[i].Options = append([]models.Option(nil), doc.Steps[i].Options...)
			}
			if doc.Steps[i].Choices != nil {
				copied.Steps[i].Choices = append([]string(nil), doc.Steps[i].Choices...)
			}
		}
	}
	return &copied
}

// summaryOf builds the listing shape for one flow document.
func summaryOf(doc *models.Flow, fileName string) models.FlowSummary {
	return models.FlowSummary{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		FileName:    fileName,
		CreatedAt:   doc.CreatedAt,
	}
}

// flowMatchesQuery reports whether a flow's trigger keywords or title
// contain the query, case-insensitive. An empty query matches nothing.
func flowMatchesQuery(doc *models.Flow, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	for _, kw := range doc.TriggerKeywords {
		if strings.Contains(strings.ToLower(kw), q) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(doc.Title), q)
}

// errFlowExists reports an id collision on create as a validation failure.
func errFlowExists(id string) error {
	return fmt.Errorf("%w: flow %q already exists", models.ErrValidation, id)
}
