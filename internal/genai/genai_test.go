package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	content    string
	err        error
	noChoice   bool
	calls      int
	lastParams openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.calls++
	m.lastParams = params
	if m.err != nil {
		return openai.ChatCompletion{}, m.err
	}
	if m.noChoice {
		return openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}, nil
	}
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.content}},
		},
	}, nil
}

func newTestClient(mock *mockChatService) *Client {
	return &Client{chat: mock, model: openai.ChatModelGPT4oMini}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when no API key is available")
	}
	if _, err := NewClient(WithAPIKey("test-key")); err != nil {
		t.Errorf("expected client with explicit key, got %v", err)
	}
}

func TestNewClientUsesEnvironmentKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	if _, err := NewClient(); err != nil {
		t.Errorf("expected env fallback to succeed, got %v", err)
	}
}

func TestGeneratePrompt(t *testing.T) {
	mock := &mockChatService{content: "Check the battery terminals."}
	c := newTestClient(mock)
	got, err := c.GeneratePrompt(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("GeneratePrompt failed: %v", err)
	}
	if got != "Check the battery terminals." {
		t.Errorf("unexpected content %q", got)
	}
	if mock.calls != 1 {
		t.Errorf("expected one API call, got %d", mock.calls)
	}
	if len(mock.lastParams.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.lastParams.Messages))
	}
}

func TestGeneratePromptServiceError(t *testing.T) {
	c := newTestClient(&mockChatService{err: errors.New("service failure")})
	_, err := c.GeneratePrompt(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected error from failing service")
	}
	if !errors.Is(err, models.ErrCollaborator) {
		t.Errorf("expected collaborator error, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected underlying cause in error, got %v", err)
	}
}

func TestGeneratePromptNoChoices(t *testing.T) {
	c := newTestClient(&mockChatService{noChoice: true})
	_, err := c.GeneratePrompt(context.Background(), "system", "user")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
	if !errors.Is(err, models.ErrCollaborator) {
		t.Errorf("expected collaborator error, got %v", err)
	}
}

func TestGenerateNextParsesStep(t *testing.T) {
	mock := &mockChatService{content: `{"step": {"title": "Fuel check", "message": "Is the fuel gauge above empty?", "type": "step"}}`}
	c := newTestClient(mock)

	doc := &models.Flow{Title: "engine stall", Steps: []models.Step{{ID: "s1", Type: models.StepTypeStart}}}
	answers := []models.Answer{{StepID: "s1", Answer: "engine stalls at idle"}}
	next, err := c.GenerateNext(context.Background(), doc, answers)
	if err != nil {
		t.Fatalf("GenerateNext failed: %v", err)
	}
	if next.Step == nil {
		t.Fatal("expected a step continuation")
	}
	if next.Step.Message != "Is the fuel gauge above empty?" {
		t.Errorf("unexpected step message %q", next.Step.Message)
	}
	if next.Step.ID == "" || next.Step.Type != models.StepTypeStep || next.Step.QuestionType != models.QuestionTypeText {
		t.Errorf("generated step not normalized: %+v", next.Step)
	}
}

func TestGenerateNextParsesSolution(t *testing.T) {
	c := newTestClient(&mockChatService{content: "```json\n{\"solution\": \"Replace the idle air control valve.\"}\n```"})
	next, err := c.GenerateNext(context.Background(), &models.Flow{Title: "engine stall"}, nil)
	if err != nil {
		t.Fatalf("GenerateNext failed: %v", err)
	}
	if next.Step != nil {
		t.Error("expected no step for a solution response")
	}
	if next.Solution != "Replace the idle air control valve." {
		t.Errorf("unexpected solution %q", next.Solution)
	}
}

func TestGenerateNextParsesBareStep(t *testing.T) {
	c := newTestClient(&mockChatService{content: `{"title": "Listen", "message": "Do you hear a clicking noise?"}`})
	next, err := c.GenerateNext(context.Background(), &models.Flow{Title: "starter"}, nil)
	if err != nil {
		t.Fatalf("GenerateNext failed: %v", err)
	}
	if next.Step == nil || next.Step.Message != "Do you hear a clicking noise?" {
		t.Errorf("expected bare step object to parse, got %+v", next)
	}
}

func TestGenerateNextFallsBackOnGarbage(t *testing.T) {
	c := newTestClient(&mockChatService{content: "I'm sorry, I can't answer that."})
	next, err := c.GenerateNext(context.Background(), &models.Flow{Title: "brakes"}, nil)
	if err != nil {
		t.Fatalf("unparseable content must not fail the call, got %v", err)
	}
	if next.Step == nil {
		t.Fatal("expected the fallback step")
	}
	if !strings.HasPrefix(next.Step.ID, "step_") {
		t.Errorf("unexpected fallback step id %q", next.Step.ID)
	}
}

func TestGenerateNextServiceError(t *testing.T) {
	c := newTestClient(&mockChatService{err: errors.New("timeout")})
	_, err := c.GenerateNext(context.Background(), &models.Flow{Title: "brakes"}, nil)
	if !errors.Is(err, models.ErrCollaborator) {
		t.Errorf("expected collaborator error, got %v", err)
	}
}

func TestGenerateFlow(t *testing.T) {
	mock := &mockChatService{content: `{
		"title": "Brake noise diagnosis",
		"description": "Grinding noise when braking",
		"triggerKeywords": ["brake"],
		"steps": [
			{"id": "s1", "title": "First", "message": "When does the noise occur?", "type": "start"},
			{"id": "s2", "title": "Second", "message": "Inspect the pads.", "type": "end"}
		]
	}`}
	c := newTestClient(mock)

	doc, err := c.GenerateFlow(context.Background(), "brake noise")
	if err != nil {
		t.Fatalf("GenerateFlow failed: %v", err)
	}
	if doc.Title != "Brake noise diagnosis" {
		t.Errorf("unexpected title %q", doc.Title)
	}
	if err := uuid.Validate(doc.ID); err != nil {
		t.Errorf("expected auto-assigned UUID id, got %q", doc.ID)
	}
	if len(doc.Steps) != 2 {
		t.Fatalf("expected two steps, got %d", len(doc.Steps))
	}
	found := false
	for _, kw := range doc.TriggerKeywords {
		if strings.EqualFold(kw, "brake noise") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the request keyword among trigger keywords, got %v", doc.TriggerKeywords)
	}
}

func TestGenerateFlowRejectsEmptyKeyword(t *testing.T) {
	c := newTestClient(&mockChatService{})
	if _, err := c.GenerateFlow(context.Background(), "  "); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGenerateFlowUnparseableResponse(t *testing.T) {
	c := newTestClient(&mockChatService{content: "not json at all"})
	_, err := c.GenerateFlow(context.Background(), "coupler")
	if !errors.Is(err, models.ErrCollaborator) {
		t.Errorf("expected collaborator error for unparseable flow, got %v", err)
	}
}
