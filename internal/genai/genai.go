// Package genai provides GenAI-enhanced flow operations using the OpenAI API.
//
// The client fills the gaps a static flow leaves open: producing the next
// diagnostic question once the authored steps run out, and drafting a whole
// flow from a trigger keyword. All failures surface as collaborator errors;
// callers decide how to degrade.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/flow"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned indicates the API response contained no choices.
var ErrNoChoicesReturned = errors.New("no choices returned from OpenAI API")

const nextStepSystemPrompt = `You are a vehicle maintenance diagnostic assistant guiding a field engineer through troubleshooting. Given the flow context and the answers collected so far, respond with JSON only, in one of two shapes: {"step": {"title": ..., "message": ..., "type": "step", "questionType": "text"}} to ask one more focused question, or {"solution": "..."} when you can state the repair action. Keep questions short and answerable on site.`

const generateFlowSystemPrompt = `You are a vehicle maintenance expert authoring a branching diagnostic flow. Respond with a single JSON object with fields "title", "description", "triggerKeywords" and "steps". Each step has "id", "title", "message", "type" (one of start, step, decision, condition, end) and "options" with "text", "nextStepId", "isTerminal" and "conditionType" (yes, no or other). The first step must have type "start". Respond with JSON only.`

// chatService abstracts the OpenAI chat completion API for testing.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService implements chatService using the real OpenAI client.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	// APIKey is the OpenAI API key. Falls back to OPENAI_API_KEY.
	APIKey string
	// Model overrides the default chat model.
	Model openai.ChatModel
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model used for all operations.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = openai.ChatModel(model) }
}

// Client is a GenAI client wrapping the OpenAI API.
type Client struct {
	chat  chatService
	model openai.ChatModel
}

// NewClient creates a new GenAI client based on provided options, falling
// back to the OPENAI_API_KEY environment variable when no key option is set.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Client.NewClient: creating GenAI client", "APIKey_set", cfg.APIKey != "")
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		slog.Error("OpenAI API key not set")
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: &openaiChatService{client: client}, model: cfg.Model}, nil
}

// GeneratePrompt sends a system and user prompt to the chat API and returns
// the first choice's content.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	slog.Debug("Client.GeneratePrompt: sending chat completion", "model", c.model)
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("Client.GeneratePrompt: chat completion failed", "error", err)
		return "", fmt.Errorf("%w: %v", models.ErrCollaborator, err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("Client.GeneratePrompt: no choices returned")
		return "", fmt.Errorf("%w: %w", models.ErrCollaborator, ErrNoChoicesReturned)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateNext produces the next dynamic step or a final solution for a
// running session. Unparseable responses degrade to the fallback step rather
// than failing the session; only transport errors are returned.
func (c *Client) GenerateNext(ctx context.Context, doc *models.Flow, answers []models.Answer) (flow.StepOrSolution, error) {
	content, err := c.GeneratePrompt(ctx, nextStepSystemPrompt, buildTranscriptPrompt(doc, answers))
	if err != nil {
		return flow.StepOrSolution{}, err
	}
	next, err := parseStepOrSolution(content)
	if err != nil {
		slog.Warn("Client.GenerateNext: unparseable response, using fallback step", "error", err)
		return flow.StepOrSolution{Step: flow.FallbackStep()}, nil
	}
	slog.Debug("Client.GenerateNext: generated continuation", "isSolution", next.Solution != "")
	return next, nil
}

// GenerateFlow drafts a complete diagnostic flow for a trigger keyword. The
// result is auto-fixed so it always satisfies structural requirements.
func (c *Client) GenerateFlow(ctx context.Context, keyword string) (*models.Flow, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, fmt.Errorf("%w: keyword is required", models.ErrValidation)
	}
	userPrompt := fmt.Sprintf("Create a diagnostic flow for the symptom keyword: %s", keyword)
	content, err := c.GeneratePrompt(ctx, generateFlowSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	var doc models.Flow
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &doc); err != nil {
		slog.Error("Client.GenerateFlow: unparseable flow document", "error", err, "keyword", keyword)
		return nil, fmt.Errorf("%w: decoding generated flow: %v", models.ErrCollaborator, err)
	}
	if doc.Title == "" {
		doc.Title = keyword
	}
	if !containsFold(doc.TriggerKeywords, keyword) {
		doc.TriggerKeywords = append(doc.TriggerKeywords, keyword)
	}
	fixed := flow.AutoFix(&doc)
	slog.Info("Client.GenerateFlow: flow generated", "keyword", keyword, "flowID", fixed.ID, "steps", len(fixed.Steps))
	return fixed, nil
}

// generatedPayload is the wire shape GenerateNext expects back.
type generatedPayload struct {
	Step     *models.Step `json:"step"`
	Solution string       `json:"solution"`
}

// parseStepOrSolution decodes a model response into a continuation. It
// tolerates fenced JSON and a bare step object.
func parseStepOrSolution(content string) (flow.StepOrSolution, error) {
	text := stripCodeFence(content)

	var payload generatedPayload
	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		if payload.Step != nil {
			return flow.StepOrSolution{Step: normalizeGeneratedStep(payload.Step)}, nil
		}
		if strings.TrimSpace(payload.Solution) != "" {
			return flow.StepOrSolution{Solution: strings.TrimSpace(payload.Solution)}, nil
		}
	}

	var step models.Step
	if err := json.Unmarshal([]byte(text), &step); err == nil && (step.Message != "" || step.Description != "" || step.Title != "") {
		return flow.StepOrSolution{Step: normalizeGeneratedStep(&step)}, nil
	}

	return flow.StepOrSolution{}, fmt.Errorf("response is neither a step nor a solution")
}

// normalizeGeneratedStep fills the fields a model routinely omits.
func normalizeGeneratedStep(step *models.Step) *models.Step {
	fallback := flow.FallbackStep()
	if step.ID == "" {
		step.ID = fallback.ID
	}
	if step.Type == "" {
		step.Type = models.StepTypeStep
	}
	if step.QuestionType == "" {
		step.QuestionType = models.QuestionTypeText
	}
	if step.Message == "" {
		step.Message = step.Description
	}
	if step.Message == "" {
		step.Message = fallback.Message
	}
	return step
}

// buildTranscriptPrompt renders the flow context and answer transcript.
func buildTranscriptPrompt(doc *models.Flow, answers []models.Answer) string {
	var b strings.Builder
	if doc != nil {
		fmt.Fprintf(&b, "Flow: %s\n", doc.Title)
		if doc.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", doc.Description)
		}
	}
	b.WriteString("Answers so far:\n")
	for _, answer := range answers {
		fmt.Fprintf(&b, "- %s: %s\n", answer.StepID, answer.Answer)
	}
	if len(answers) == 0 {
		b.WriteString("- none\n")
	}
	return b.String()
}

// stripCodeFence removes a surrounding markdown code fence, if present.
func stripCodeFence(content string) string {
	text := strings.TrimSpace(content)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
