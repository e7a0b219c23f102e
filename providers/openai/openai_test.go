package openai

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/treadworks/tiregen/pkg/errors"
	"github.com/treadworks/tiregen/pkg/provider"
	"github.com/treadworks/tiregen/pkg/types"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(provider.Config{
		Name:   "openai",
		APIKey: "sk-test",
	})
	require.NoError(t, err)
	return p.(*Provider)
}

func TestBuildTextRequest(t *testing.T) {
	p := newTestProvider(t)
	temp := 0.7

	req, err := p.BuildTextRequest(context.Background(), "gpt-4o-mini", &types.TextRequest{
		TaskType:    "product-description",
		Prompt:      "Describe the tire.",
		System:      "You write tire copy.",
		MaxTokens:   256,
		Temperature: &temp,
	}, false)
	require.NoError(t, err)

	require.Equal(t, "https://api.openai.com/v1/chat/completions", req.URL.String())
	require.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	require.Equal(t, "gpt-4o-mini", body["model"])
	require.Equal(t, float64(256), body["max_tokens"])
	require.InDelta(t, 0.7, body["temperature"], 1e-9)
	require.Nil(t, body["response_format"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].(map[string]any)["role"])
	require.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestBuildTextRequest_JSONMode(t *testing.T) {
	p := newTestProvider(t)

	req, err := p.BuildTextRequest(context.Background(), "gpt-4o", &types.TextRequest{
		Prompt: "Spec sheet as JSON.",
	}, true)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	rf := body["response_format"].(map[string]any)
	require.Equal(t, "json_object", rf["type"])
}

func TestBuildTextRequest_CustomBaseURL(t *testing.T) {
	p, err := New(provider.Config{APIKey: "k", BaseURL: "http://localhost:9999/v1/"})
	require.NoError(t, err)

	req, err := p.BuildTextRequest(context.Background(), "gpt-4o", &types.TextRequest{Prompt: "x"}, false)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9999/v1/chat/completions", req.URL.String())
}

func TestParseTextResponse(t *testing.T) {
	p := newTestProvider(t)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body: io.NopCloser(strings.NewReader(`{
			"choices": [{"message": {"role": "assistant", "content": "Grippy in the wet."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46}
		}`)),
	}

	tc, err := p.ParseTextResponse(resp)
	require.NoError(t, err)
	require.Equal(t, "Grippy in the wet.", tc.Text)
	require.Equal(t, 12, tc.Usage.InputTokens)
	require.Equal(t, 34, tc.Usage.OutputTokens)
	require.Equal(t, 46, tc.Usage.TotalTokens)
}

func TestParseTextResponse_NoChoices(t *testing.T) {
	p := newTestProvider(t)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"choices": []}`)),
	}
	_, err := p.ParseTextResponse(resp)
	require.Error(t, err)
}

func TestBuildImageRequest(t *testing.T) {
	p := newTestProvider(t)

	req, err := p.BuildImageRequest(context.Background(), "dall-e-3", &types.ImageRequest{
		Prompt:  "Studio shot of an all-terrain tire.",
		Size:    "1024x1024",
		Quality: "hd",
		Count:   1,
	})
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1/images/generations", req.URL.String())

	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	require.Equal(t, "dall-e-3", body["model"])
	require.Equal(t, "1024x1024", body["size"])
	require.Equal(t, "url", body["response_format"])
}

func TestParseImageResponse(t *testing.T) {
	p := newTestProvider(t)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body: io.NopCloser(strings.NewReader(
			`{"data": [{"url": "https://oaidalle.example.com/img.png"}]}`)),
	}

	ic, err := p.ParseImageResponse(resp)
	require.NoError(t, err)
	require.Equal(t, "https://oaidalle.example.com/img.png", ic.URL)
}

func TestMapError(t *testing.T) {
	p := newTestProvider(t)

	tests := []struct {
		name     string
		status   int
		body     string
		wantType string
	}{
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, errors.TypeAuthentication},
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, errors.TypeRateLimit},
		{"content policy", 400, `{"error":{"message":"rejected","code":"content_policy_violation"}}`, errors.TypeContentPolicy},
		{"bad request", 400, `{"error":{"message":"unknown field"}}`, errors.TypeInvalidRequest},
		{"unavailable", 503, `{"error":{"message":"overloaded"}}`, errors.TypeServiceUnavailable},
		{"internal", 500, `not even json`, errors.TypeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.MapError(tt.status, []byte(tt.body))
			var perr *errors.ProviderError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, tt.wantType, perr.Type)
			require.Equal(t, "openai", perr.Provider)
		})
	}
}

func TestAvailable(t *testing.T) {
	p := newTestProvider(t)
	require.True(t, p.Available())

	empty, err := New(provider.Config{})
	require.NoError(t, err)
	require.False(t, empty.Available())
}
