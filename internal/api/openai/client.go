// Package openai implements the alternate vision-inference provider against
// the OpenAI API directly, for deployments that do not route through
// OpenRouter.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/signalx/chartlens/internal/api/prompt"
	"github.com/signalx/chartlens/internal/gateway"
	"github.com/signalx/chartlens/internal/model"
)

const defaultModel = "gpt-4o"

// Client wraps the OpenAI API client.
type Client struct {
	client    *openai.Client
	apiKey    string
	modelName string
	logger    zerolog.Logger
}

// NewClient creates a new OpenAI client.
func NewClient(apiKey, modelName string) *Client {
	if modelName == "" {
		modelName = defaultModel
	}
	return &Client{
		client:    openai.NewClient(apiKey),
		apiKey:    apiKey,
		modelName: modelName,
		logger:    log.With().Str("component", "openai_client").Logger(),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.modelName
}

// AnalyzeChart sends one chart image with its prompt to the model and returns
// the raw completion text. API failures are wrapped in *gateway.ProviderError
// so the executor can classify them.
func (c *Client) AnalyzeChart(ctx context.Context, req *model.AnalysisRequest) (string, error) {
	if c.apiKey == "" {
		return "", &gateway.ConfigurationError{Reason: "OpenAI API key not configured"}
	}

	mime := req.ImageMIME
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.ImageBytes))

	c.logger.Debug().Str("model", c.modelName).Int("image_bytes", len(req.ImageBytes)).Msg("Sending chart to provider")

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.modelName,
		MaxTokens:   2000,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt.Build(req)},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.logger.Error().Int("status", apiErr.HTTPStatusCode).Str("message", apiErr.Message).Msg("Provider returned error")
			return "", &gateway.ProviderError{
				StatusCode: apiErr.HTTPStatusCode,
				Message:    apiErr.Message,
				Err:        err,
			}
		}
		return "", &gateway.ProviderError{Message: "request failed", Err: err}
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &gateway.ProviderError{Message: "no completion received"}
	}

	c.logger.Debug().Str("model", c.modelName).Msg("Received completion")
	return resp.Choices[0].Message.Content, nil
}
