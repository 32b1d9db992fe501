package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
	"github.com/DevRickLin/chat-digest/internal/infra/openai"
)

// openAIRepo implements the summarizer on an OpenAI-compatible endpoint
type openAIRepo struct {
	client *openai.Client
}

// NewOpenAIRepo creates a summarizer repository
func NewOpenAIRepo(client *openai.Client) repo.SummarizerRepo {
	return &openAIRepo{client: client}
}

// Summarize sends the prompt and maps provider errors to domain errors
func (r *openAIRepo) Summarize(ctx context.Context, systemPrompt, prompt string) (*domain.Completion, error) {
	resp, err := r.client.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		if errors.Is(err, openai.ErrRateLimited) {
			return nil, fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		}
		return nil, err
	}
	return &domain.Completion{
		Text:             resp.Text,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}, nil
}
