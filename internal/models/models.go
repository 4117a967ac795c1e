// Package models defines the core data structures for the Emergency Assistance flow engine.
//
// It includes the flow document model (flows, steps, options), session transcript
// types, and the API response envelope shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Validation constants for input validation
const (
	// MaxImageSizeBytes defines the maximum allowed size for an uploaded step image
	MaxImageSizeBytes = 5 * 1024 * 1024
	// DefaultFlowTitle is the placeholder title assigned by auto-repair when a flow has none
	DefaultFlowTitle = "untitled flow"
)

// Error variables for better error handling and testability.
// The four taxonomy sentinels (validation, not-found, collaborator, storage)
// are what the API layer maps to HTTP status codes; the specific variables
// wrap a taxonomy sentinel so errors.Is works on either level.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrCollaborator = errors.New("collaborator request failed")
	ErrStorage      = errors.New("storage failure")

	ErrTitleRequired        = fmt.Errorf("%w: flow title is required", ErrValidation)
	ErrIDMismatch           = fmt.Errorf("%w: path id does not match document id", ErrValidation)
	ErrInvalidStepType      = fmt.Errorf("%w: invalid step type", ErrValidation)
	ErrInvalidQuestionType  = fmt.Errorf("%w: invalid question type", ErrValidation)
	ErrInvalidConditionType = fmt.Errorf("%w: invalid condition type", ErrValidation)
	ErrImageTooLarge        = fmt.Errorf("%w: image exceeds maximum size", ErrValidation)
	ErrUnsupportedImageType = fmt.Errorf("%w: unsupported image content type", ErrValidation)
	ErrFlowNotFound         = fmt.Errorf("flow %w", ErrNotFound)
	ErrSessionNotFound      = fmt.Errorf("session %w", ErrNotFound)
	ErrImageNotFound        = fmt.Errorf("image %w", ErrNotFound)

	ErrSubmitInFlight = errors.New("submit already in progress for this session")
	ErrSessionClosed  = errors.New("session is not accepting answers")
)

// Flow represents a named, versioned decision graph for one troubleshooting procedure.
// The step order defines the sequential fallback used by the branch resolver, not
// necessarily the traversal order.
type Flow struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	TriggerKeywords []string  `json:"triggerKeywords"`
	Steps           []Step    `json:"steps"`
	CreatedAt       time.Time `json:"createdAt,omitzero"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
}

// FindStep returns the step with the given id, or nil when the flow has no such step.
func (f *Flow) FindStep(id string) *Step {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i]
		}
	}
	return nil
}

// StepIndex returns the positional index of the step with the given id, or -1.
func (f *Flow) StepIndex(id string) int {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// Step represents one node in a flow graph. The Q&A fields (QuestionType,
// Choices, EmergencyAction, TimeLimitMinutes, ...) are only populated on
// question-style steps; EmergencyAction plus TimeLimitMinutes together arm
// the emergency time trigger for the step.
type Step struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Description      string       `json:"description,omitempty"`
	Message          string       `json:"message,omitempty"`
	Type             StepType     `json:"type"`
	ImageURL         string       `json:"imageUrl,omitempty"`
	Options          []Option     `json:"options"`
	QuestionType     QuestionType `json:"questionType,omitempty"`
	Choices          []string     `json:"choices,omitempty"`
	Required         bool         `json:"required,omitempty"`
	Reasoning        string       `json:"reasoning,omitempty"`
	ExpectedOutcome  string       `json:"expectedOutcome,omitempty"`
	EmergencyAction  string       `json:"emergencyAction,omitempty"`
	TimeLimitMinutes int          `json:"timeLimitMinutes,omitempty"`
}

// Prompt returns the text shown to the user for this step. Message is the
// authoritative prompt; Description is the fallback alias.
func (s *Step) Prompt() string {
	if s.Message != "" {
		return s.Message
	}
	return s.Description
}

// HasEmergencyTrigger reports whether the step participates in emergency
// time-trigger detection.
func (s *Step) HasEmergencyTrigger() bool {
	return s.EmergencyAction != "" && s.TimeLimitMinutes > 0
}

// Validate checks enum membership on the step. Structural repair is the
// auto-fixer's job; this only rejects values outside the closed enums.
func (s *Step) Validate() error {
	if !IsValidStepType(s.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidStepType, s.Type)
	}
	if s.QuestionType != "" && !IsValidQuestionType(s.QuestionType) {
		return fmt.Errorf("%w: %q", ErrInvalidQuestionType, s.QuestionType)
	}
	for i := range s.Options {
		if err := s.Options[i].Validate(); err != nil {
			return fmt.Errorf("option %d: %w", i, err)
		}
	}
	return nil
}

// Option represents a directed edge from a step to another step.
type Option struct {
	Text          string        `json:"text"`
	NextStepID    string        `json:"nextStepId,omitempty"`
	IsTerminal    bool          `json:"isTerminal"`
	ConditionType ConditionType `json:"conditionType"`
	Condition     string        `json:"condition,omitempty"`
}

// Terminal reports whether following this option ends the flow. An explicit
// IsTerminal flag overrides a populated NextStepID.
func (o *Option) Terminal() bool {
	return o.IsTerminal || o.NextStepID == ""
}

// Validate checks enum membership on the option.
func (o *Option) Validate() error {
	if o.ConditionType != "" && !IsValidConditionType(o.ConditionType) {
		return fmt.Errorf("%w: %q", ErrInvalidConditionType, o.ConditionType)
	}
	return nil
}

// Answer is one entry in a session's transcript: which step was answered,
// with what text, and when. The transcript is append-only and owned by the
// session for its lifetime.
type Answer struct {
	StepID    string    `json:"stepId"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// FlowSummary is the listing shape returned by the flow store's list operation.
type FlowSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FileName    string    `json:"fileName,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

// FlowMetadata carries storage metadata alongside a full flow document so
// editors can cache-bust on reads.
type FlowMetadata struct {
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified,omitzero"`
	RequestID    string    `json:"requestId"`
	ProcessedAt  time.Time `json:"processedAt"`
}

// ImageAsset describes one stored, content-addressed step image. Assets are
// never mutated once written.
type ImageAsset struct {
	FileName    string `json:"fileName"`
	ContentHash string `json:"contentHash"`
	Path        string `json:"path"`
}

// ImageIngestResult is the outcome of an image upload after deduplication.
type ImageIngestResult struct {
	ImageURL    string `json:"imageUrl"`
	FileName    string `json:"fileName"`
	IsDuplicate bool   `json:"isDuplicate"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
