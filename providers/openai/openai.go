// Package openai provides the OpenAI adapter. It serves as the reference
// implementation for the other adapters: chat completions for text and
// structured output, the images endpoint for product imagery.
package openai

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
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
)

// Provider implements the OpenAI API adapter.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
}

// New creates a new OpenAI adapter from configuration.
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

// Capabilities reports text, JSON, and image support.
func (p *Provider) Capabilities() provider.Capability {
	return provider.CapText | provider.CapJSON | provider.CapImage
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

// BuildTextRequest creates an HTTP request for the chat completions API.
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

	return p.newRequest(ctx, "/chat/completions", body)
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

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON []byte `json:"b64_json"`
	} `json:"data"`
}

// BuildImageRequest creates an HTTP request for the images API.
func (p *Provider) BuildImageRequest(ctx context.Context, model string, req *types.ImageRequest) (*http.Request, error) {
	body := imageRequest{
		Model:          model,
		Prompt:         req.Prompt,
		N:              req.Count,
		Size:           req.Size,
		Quality:        req.Quality,
		ResponseFormat: "url",
	}
	return p.newRequest(ctx, "/images/generations", body)
}

// ParseImageResponse transforms an images API response.
func (p *Provider) ParseImageResponse(resp *http.Response) (*types.ImageCompletion, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var ir imageResponse
	if err := json.Unmarshal(data, &ir); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(ir.Data) == 0 {
		return nil, fmt.Errorf("response contains no images")
	}

	return &types.ImageCompletion{
		URL:  ir.Data[0].URL,
		Data: ir.Data[0].B64JSON,
	}, nil
}

// MapError converts an OpenAI error response into a standardized error.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
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
	case statusCode == http.StatusTooManyRequests:
		return errors.NewRateLimitError(p.name, "", msg)
	case statusCode == http.StatusBadRequest && envelope.Error.Code == "content_policy_violation":
		return errors.NewContentPolicyError(p.name, "", msg)
	case statusCode == http.StatusBadRequest:
		return errors.NewInvalidRequestError(p.name, "", msg)
	case statusCode == http.StatusServiceUnavailable:
		return errors.NewServiceUnavailableError(p.name, "", msg)
	case statusCode >= 500:
		return errors.NewInternalError(p.name, "", msg)
	default:
		return errors.NewInvalidRequestError(p.name, "", msg)
	}
}

func (p *Provider) newRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + path
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
