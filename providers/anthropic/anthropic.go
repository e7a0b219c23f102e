// Package anthropic provides the Anthropic Messages API adapter. Text and
// structured output only; Anthropic has no image generation endpoint.
package anthropic

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
	ProviderName = "anthropic"

	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	apiVersion = "2023-06-01"

	// defaultMaxTokens applies when the caller does not set one; the
	// Messages API requires max_tokens.
	defaultMaxTokens = 1024
)

// Provider implements the Anthropic API adapter.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
}

// New creates a new Anthropic adapter from configuration.
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

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// BuildTextRequest creates an HTTP request for the Messages API. There is no
// native JSON mode; jsonMode appends a steering instruction to the system
// prompt and the client validates the output.
func (p *Provider) BuildTextRequest(ctx context.Context, model string, req *types.TextRequest, jsonMode bool) (*http.Request, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system := req.System
	if jsonMode {
		if system != "" {
			system += "\n"
		}
		system += "Respond with a single valid JSON object and nothing else."
	}

	body := messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// ParseTextResponse transforms a Messages API response.
func (p *Provider) ParseTextResponse(resp *http.Response) (*types.TextCompletion, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var mr messagesResponse
	if err := json.Unmarshal(data, &mr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range mr.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("response contains no text content")
	}

	return &types.TextCompletion{
		Text: text.String(),
		Usage: types.Usage{
			InputTokens:  mr.Usage.InputTokens,
			OutputTokens: mr.Usage.OutputTokens,
			TotalTokens:  mr.Usage.InputTokens + mr.Usage.OutputTokens,
		},
	}, nil
}

// BuildImageRequest is unsupported for Anthropic.
func (p *Provider) BuildImageRequest(ctx context.Context, model string, req *types.ImageRequest) (*http.Request, error) {
	return nil, errors.NewInvalidRequestError(p.name, model, "image generation not supported")
}

// ParseImageResponse is unsupported for Anthropic.
func (p *Provider) ParseImageResponse(resp *http.Response) (*types.ImageCompletion, error) {
	return nil, errors.NewInvalidRequestError(p.name, "", "image generation not supported")
}

// MapError converts an Anthropic error response into a standardized error.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
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
	case statusCode == 529: // anthropic "overloaded_error"
		return errors.NewServiceUnavailableError(p.name, "", msg)
	case statusCode == http.StatusBadRequest:
		return errors.NewInvalidRequestError(p.name, "", msg)
	case statusCode >= 500:
		return errors.NewInternalError(p.name, "", msg)
	default:
		return errors.NewInvalidRequestError(p.name, "", msg)
	}
}
