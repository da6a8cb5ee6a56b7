// Package openrouter implements the vision-inference provider client against
// the OpenRouter chat completions API.
package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalx/chartlens/internal/api/prompt"
	"github.com/signalx/chartlens/internal/gateway"
	"github.com/signalx/chartlens/internal/model"
	httpClient "github.com/signalx/chartlens/internal/platform/http"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Client is the OpenRouter API client
type Client struct {
	apiKey     string
	modelName  string
	baseURL    string
	siteURL    string
	httpClient *httpClient.Client
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new OpenRouter client
type ClientOptions struct {
	APIKey         string
	Model          string
	BaseURL        string
	SiteURL        string
	RequestTimeout time.Duration
	RequestsPerSec int
}

// NewClient creates a new OpenRouter API client
func NewClient(options ClientOptions) *Client {
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := options.Model
	if modelName == "" {
		modelName = "google/gemini-2.0-flash-001"
	}

	return &Client{
		apiKey:    options.APIKey,
		modelName: modelName,
		baseURL:   baseURL,
		siteURL:   options.SiteURL,
		httpClient: httpClient.NewClient(httpClient.ClientOptions{
			Timeout:        options.RequestTimeout,
			RequestsPerSec: options.RequestsPerSec,
		}),
		logger: log.With().Str("component", "openrouter_client").Logger(),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.modelName
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// AnalyzeChart sends one chart image with its prompt to the model and returns
// the raw completion text. Failures are wrapped in *gateway.ProviderError so
// the executor can classify them.
func (c *Client) AnalyzeChart(ctx context.Context, req *model.AnalysisRequest) (string, error) {
	if c.apiKey == "" {
		return "", &gateway.ConfigurationError{Reason: "OpenRouter API key not configured"}
	}

	mime := req.ImageMIME
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.ImageBytes))

	payload := chatRequest{
		Model: c.modelName,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt.Build(req)},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL, Detail: "high"}},
				},
			},
		},
		MaxTokens:   2000,
		Temperature: 0.3,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.siteURL != "" {
		httpReq.Header.Set("HTTP-Referer", c.siteURL)
	}

	c.logger.Debug().Str("model", c.modelName).Int("image_bytes", len(req.ImageBytes)).Msg("Sending chart to provider")

	resp, err := c.httpClient.DoRequest(ctx, httpReq)
	if err != nil {
		return "", &gateway.ProviderError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &gateway.ProviderError{Message: "reading response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", truncate(string(respBody), 512)).Msg("Provider returned error status")
		return "", &gateway.ProviderError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(respBody), 256),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &gateway.ProviderError{Message: "decoding response", Err: err}
	}
	if parsed.Error != nil {
		return "", &gateway.ProviderError{StatusCode: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", &gateway.ProviderError{Message: "no completion received"}
	}

	c.logger.Debug().Str("model", c.modelName).Msg("Received completion")
	return parsed.Choices[0].Message.Content, nil
}

// ValidateKey checks the configured credentials against the models endpoint.
func (c *Client) ValidateKey(ctx context.Context) bool {
	if c.apiKey == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.DoRequest(ctx, req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
