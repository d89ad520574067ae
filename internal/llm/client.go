package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lexpredict/backend/pkg/circuitbreaker"
	"github.com/lexpredict/backend/pkg/logger"
)

// Generator is the text-generation collaborator boundary. Implementations
// may fail or be absent entirely; callers own a deterministic fallback and
// must never surface a generation failure as a request error.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client talks to an OpenAI-compatible chat completion API. Each call is a
// single attempt behind a circuit breaker; retries are deliberately absent
// because every call site degrades to a template instead.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
}

func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec int) *Client {
	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	logger.Info("LLM client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
	}
}

func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	}

	var content string

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(
			ctx,
			openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    messages,
				Temperature: c.temperature,
				MaxTokens:   c.maxTokens,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}

		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}

		logger.Debug("Completion generated",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}

	return content, nil
}
