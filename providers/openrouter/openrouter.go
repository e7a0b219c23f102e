// Package openrouter provides the OpenRouter adapter. The API is
// OpenAI-compatible for chat, so the adapter mirrors the openai package with
// OpenRouter's endpoint, attribution headers, and error shape.
package openrouter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/treadworks/tiregen/pkg/errors"
	"github.com/treadworks/tiregen/pkg/provider"
	"github.com/treadworks/tiregen/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "openrouter"

	// DefaultBaseURL is the default OpenRouter API endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

// Provider implements the OpenRouter API adapter.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
}

// New creates a new OpenRouter adapter from configuration.
func New(cfg provider.Config) (provider.Provider, error) {
	p := &Provider{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		baseURL: DefaultBaseURL,
		headers: cfg.Headers,
	}
	if p.name == "" {
		p.name = ProviderName
	}
	if cfg.BaseURL != "" {
		p.baseURL = cfg.BaseURL
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return p.name }

// Capabilities reports text and JSON support.
func (p *Provider) Capabilities() provider.Capability {
	return provider.CapText | provider.CapJSON
}

// Available reports whether an API key is configured.
func (p *Provider) Available() bool { return p.apiKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// BuildTextRequest creates an HTTP request for OpenRouter chat completions.
func (p *Provider) BuildTextRequest(ctx context.Context, model string, req *types.TextRequest, jsonMode bool) (*http.Request, error) {
	body := chatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if jsonMode {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// ParseTextResponse transforms a chat completions response.
func (p *Provider) ParseTextResponse(resp *http.Response) (*types.TextCompletion, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("response contains no choices")
	}

	return &types.TextCompletion{
		Text: cr.Choices[0].Message.Content,
		Usage: types.Usage{
			InputTokens:  cr.Usage.PromptTokens,
			OutputTokens: cr.Usage.CompletionTokens,
			TotalTokens:  cr.Usage.TotalTokens,
		},
	}, nil
}

// BuildImageRequest is unsupported for OpenRouter.
func (p *Provider) BuildImageRequest(ctx context.Context, model string, req *types.ImageRequest) (*http.Request, error) {
	return nil, errors.NewInvalidRequestError(p.name, model, "image generation not supported")
}

// ParseImageResponse is unsupported for OpenRouter.
func (p *Provider) ParseImageResponse(resp *http.Response) (*types.ImageCompletion, error) {
	return nil, errors.NewInvalidRequestError(p.name, "", "image generation not supported")
}

// MapError converts an OpenRouter error response into a standardized error.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	msg := envelope.Error.Message
	if msg == "" {
		msg = string(body)
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		return errors.NewAuthenticationError(p.name, "", msg)
	case statusCode == http.StatusPaymentRequired:
		// OpenRouter returns 402 when credits run out; another vendor can
		// still serve the request.
		return errors.NewRateLimitError(p.name, "", msg)
	case statusCode == http.StatusTooManyRequests:
		return errors.NewRateLimitError(p.name, "", msg)
	case statusCode == http.StatusBadRequest:
		return errors.NewInvalidRequestError(p.name, "", msg)
	case statusCode >= 500:
		return errors.NewInternalError(p.name, "", msg)
	default:
		return errors.NewInvalidRequestError(p.name, "", msg)
	}
}
