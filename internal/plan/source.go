package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAISource asks a chat model for a draft plan. The model is instructed
// to answer with a single JSON object matching the ChangePlan edit schema;
// anything else fails validation upstream.
type OpenAISource struct {
	Client *openai.Client
	Model  string
}

func (s *OpenAISource) Name() string {
	return "openai"
}

func (s *OpenAISource) Propose(ctx context.Context, req ProposeRequest) (*ChangePlan, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("openai client is required")
	}
	model := s.Model
	if model == "" {
		model = openai.GPT4o
	}

	resp, err := s.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: planSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: renderProposePrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	var draft ChangePlan
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &draft); err != nil {
		return nil, fmt.Errorf("parse plan json: %w", err)
	}
	draft.Recommendation = req.Recommendation
	return &draft, nil
}

const planSystemPrompt = `You plan surgical, single-line edits to front-end source files.
Respond with one JSON object:
{"strategy": string, "expected_impact": string, "edits": [{
  "file": string, "line_number": int (1-indexed, exactly as numbered),
  "expected_line_content": string (the trimmed text of that exact line),
  "operation": "attribute_value_update"|"style_value_update"|"text_content_update"|"attribute_append",
  "params": object, "justification": string}]}
Operation params:
- attribute_value_update: attribute, old_value, new_value
- style_value_update: property, old_value, new_value
- text_content_update: old_text, new_text
- attribute_append: attribute, value
Never propose an edit without expected_line_content. Never target the same line twice.`

func renderProposePrompt(req ProposeRequest) string {
	var b strings.Builder
	b.WriteString("## Recommendation\n")
	fmt.Fprintf(&b, "- dimension: %s\n", req.Recommendation.Dimension)
	fmt.Fprintf(&b, "- title: %s\n", req.Recommendation.Title)
	fmt.Fprintf(&b, "- description: %s\n", req.Recommendation.Description)
	fmt.Fprintf(&b, "- impact: %g\n- effort: %g\n\n", req.Recommendation.Impact, req.Recommendation.Effort)
	b.WriteString("## Candidate files (lines numbered as N→content)\n\n")
	for _, f := range req.Files {
		b.WriteString(RenderNumbered(f))
		b.WriteString("\n")
	}
	return b.String()
}

// MockSource replays a scripted sequence of drafts. It is the offline
// counterpart to OpenAISource for tests and dry runs.
type MockSource struct {
	Drafts []*ChangePlan
	calls  int
}

func (s *MockSource) Name() string {
	return "mock"
}

func (s *MockSource) Propose(_ context.Context, req ProposeRequest) (*ChangePlan, error) {
	if s.calls >= len(s.Drafts) {
		return nil, fmt.Errorf("mock source exhausted after %d calls", s.calls)
	}
	draft := s.Drafts[s.calls]
	s.calls++
	if draft == nil {
		return nil, fmt.Errorf("mock source has no draft for %q", req.Recommendation.Title)
	}
	copied := *draft
	copied.Recommendation = req.Recommendation
	return &copied, nil
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, req ProposeRequest) (*ChangePlan, error)

func (f SourceFunc) Name() string {
	return "func"
}

func (f SourceFunc) Propose(ctx context.Context, req ProposeRequest) (*ChangePlan, error) {
	return f(ctx, req)
}
