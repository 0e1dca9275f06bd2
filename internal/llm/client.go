// Package llm is a minimal chat completion client for OpenAI-compatible
// APIs, used for housekeeping such as naming runs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// Client is the interface for LLM interactions.
type Client interface {
	ChatCompletion(ctx context.Context, messages []Message) (*Response, error)
}

// OpenAICompatClient works with any OpenAI-compatible API (Ollama, Claude, Gemini).
type OpenAICompatClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger

	retryWait time.Duration
}

// NewClient creates an LLM client for the given provider.
func NewClient(baseURL, apiKey, model string, logger *zap.Logger) *OpenAICompatClient {
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)
	return &OpenAICompatClient{
		client:    &client,
		model:     model,
		logger:    logger,
		retryWait: 2 * time.Second,
	}
}

func (c *OpenAICompatClient) ChatCompletion(ctx context.Context, messages []Message) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: convertMessages(messages),
	}

	var completion *openai.ChatCompletion
	var err error
	for attempt := range 3 {
		completion, err = c.client.Chat.Completions.New(ctx, params)
		if err == nil {
			break
		}
		if !isRateLimited(err) || attempt == 2 {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		wait := c.retryWait << attempt // 2s, 4s
		c.logger.Warn("rate limited, retrying", zap.Duration("wait", wait), zap.String("model", c.model))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, fmt.Errorf("chat completion: %w", ctx.Err())
		}
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	return &Response{
		Message: Message{
			Role:    RoleAssistant,
			Content: completion.Choices[0].Message.Content,
		},
	}, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func convertMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		}
	}
	return out
}
