package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/infrastructure/resilience"
	"github.com/kirillkom/file-annotator/internal/infrastructure/zeroshot"
)

// Client scores candidate labels through any OpenAI-compatible chat endpoint.
type Client struct {
	client   *openai.Client
	model    string
	enabled  bool
	executor *resilience.Executor
}

func New(baseURL, apiKey, model string, executor *resilience.Executor) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		enabled:  model != "" && (apiKey != "" || baseURL != ""),
		executor: executor,
	}
}

func (c *Client) Available() bool {
	return c != nil && c.enabled
}

func (c *Client) ClassifyZeroShot(ctx context.Context, text string, candidateLabels []string) (domain.ZeroShotScores, error) {
	reply, err := resilience.Call(ctx, c.executor, "openai.chat", func(callCtx context.Context) (string, error) {
		return c.complete(callCtx, zeroshot.BuildPrompt(text, candidateLabels))
	}, classifyOpenAIError)
	if err != nil {
		return domain.ZeroShotScores{}, err
	}

	scores, err := zeroshot.ParseScores(reply, candidateLabels)
	if err != nil {
		return domain.ZeroShotScores{}, err
	}
	slog.Debug("zero_shot_scores", "provider", "openai", "scores", zeroshot.Describe(scores))
	return scores, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.WrapError(domain.ErrMalformedResponse, "openai chat completion", errors.New("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if resilience.CallerCanceled(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrMalformedResponse) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status > 0 {
		return zeroshot.ClassifyHTTPError(&zeroshot.HTTPStatusError{StatusCode: status})
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
