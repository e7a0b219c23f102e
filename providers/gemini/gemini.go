// Package gemini provides the Google Gemini adapter: generateContent for
// text and structured output, the Imagen predict endpoint for images.
package gemini

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
	ProviderName = "gemini"

	// DefaultBaseURL is the default Generative Language API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
)

// Provider implements the Gemini API adapter.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
}

// New creates a new Gemini adapter from configuration.
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

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
		Temperature      *float64 `json:"temperature,omitempty"`
		ResponseMimeType string   `json:"responseMimeType,omitempty"`
	} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// BuildTextRequest creates an HTTP request for generateContent.
func (p *Provider) BuildTextRequest(ctx context.Context, model string, req *types.TextRequest, jsonMode bool) (*http.Request, error) {
	var body generateRequest
	body.Contents = []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}}
	if req.System != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens
	body.GenerationConfig.Temperature = req.Temperature
	if jsonMode {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent", model)
	return p.newRequest(ctx, path, body)
}

// ParseTextResponse transforms a generateContent response.
func (p *Provider) ParseTextResponse(resp *http.Response) (*types.TextCompletion, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("response contains no candidates")
	}

	var text strings.Builder
	for _, pt := range gr.Candidates[0].Content.Parts {
		text.WriteString(pt.Text)
	}

	return &types.TextCompletion{
		Text: text.String(),
		Usage: types.Usage{
			InputTokens:  gr.UsageMetadata.PromptTokenCount,
			OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  gr.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

type predictRequest struct {
	Instances []struct {
		Prompt string `json:"prompt"`
	} `json:"instances"`
	Parameters struct {
		SampleCount int    `json:"sampleCount"`
		AspectRatio string `json:"aspectRatio,omitempty"`
	} `json:"parameters"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded []byte `json:"bytesBase64Encoded"`
	} `json:"predictions"`
}

// BuildImageRequest creates an HTTP request for the Imagen predict endpoint.
func (p *Provider) BuildImageRequest(ctx context.Context, model string, req *types.ImageRequest) (*http.Request, error) {
	var body predictRequest
	body.Instances = []struct {
		Prompt string `json:"prompt"`
	}{{Prompt: req.Prompt}}
	body.Parameters.SampleCount = req.Count
	if body.Parameters.SampleCount <= 0 {
		body.Parameters.SampleCount = 1
	}

	path := fmt.Sprintf("/v1beta/models/%s:predict", model)
	return p.newRequest(ctx, path, body)
}

// ParseImageResponse transforms an Imagen predict response.
func (p *Provider) ParseImageResponse(resp *http.Response) (*types.ImageCompletion, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var pr predictResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(pr.Predictions) == 0 {
		return nil, fmt.Errorf("response contains no predictions")
	}

	return &types.ImageCompletion{Data: pr.Predictions[0].BytesBase64Encoded}, nil
}

// MapError converts a Gemini error response into a standardized error.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	msg := envelope.Error.Message
	if msg == "" {
		msg = string(body)
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errors.NewAuthenticationError(p.name, "", msg)
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
	httpReq.Header.Set("x-goog-api-key", p.apiKey)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}
