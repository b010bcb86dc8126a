package oracle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// VisionScorer scores screenshots with a multimodal chat model. The model
// is instructed to answer with a single JSON object; the response is parsed
// strictly so malformed answers surface as retryable errors, never as a
// half-trusted review.
type VisionScorer struct {
	Client *openai.Client
	Model  string
}

func (s *VisionScorer) Name() string {
	return "vision"
}

func (s *VisionScorer) Score(ctx context.Context, shot Screenshot) (*Review, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("openai client is required")
	}
	if len(shot.Data) == 0 {
		return nil, fmt.Errorf("screenshot has no data")
	}
	model := s.Model
	if model == "" {
		model = openai.GPT4o
	}
	mime := shot.MIME
	if mime == "" {
		mime = "image/png"
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(shot.Data))
	resp, err := s.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: visionSystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Score this UI and propose improvements."},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision completion returned no choices")
	}

	var review Review
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &review); err != nil {
		return nil, fmt.Errorf("parse review json: %w", err)
	}
	if err := validateReview(&review); err != nil {
		return nil, err
	}
	return &review, nil
}

const visionSystemPrompt = `You review web UI screenshots. Respond with one JSON object:
{"score": number (0-10, one decimal), "recommendations": [{
  "dimension": string, "title": string, "description": string,
  "impact": number (0-10), "effort": number (0-10)}]}
Order recommendations by impact descending.`

func validateReview(r *Review) error {
	if r.Score < 0 || r.Score > 10 {
		return fmt.Errorf("score %g out of range 0-10", r.Score)
	}
	for i, rec := range r.Recommendations {
		if rec.Title == "" {
			return fmt.Errorf("recommendation %d has no title", i)
		}
		if rec.Impact < 0 || rec.Impact > 10 || rec.Effort < 0 || rec.Effort > 10 {
			return fmt.Errorf("recommendation %d impact/effort out of range 0-10", i)
		}
	}
	return nil
}
